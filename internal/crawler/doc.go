// Package crawler turns one "fetch this URL" request into a sequence of
// attempts over direct and proxied connections.
//
// The Engine is built once per process from a fetch.Client and an
// EngineConfig. Each Crawl resolves the raw request into model.CrawlOptions,
// opens a profile session when one was asked for, and hands a Job to the
// executor: SingleAttemptExecutor for a budget of one, RetryingExecutor
// otherwise. The retrying executor follows a plan from proxy.Planner, skips
// proxies benched by the shared HealthTracker, and sleeps with exponential
// backoff between failed attempts.
//
// An attempt succeeds when the client returns status 200 with at least the
// minimum number of characters and, when enabled, the page is not a bot
// challenge. Everything else is a failure with a short reason; only the
// reason of the last executed attempt reaches the caller.
package crawler
