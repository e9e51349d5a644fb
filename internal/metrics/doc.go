// Package metrics exposes Prometheus counters and histograms for crawl
// requests, attempts, proxy health and profile sessions.
//
// The CLI is short-lived, so instead of serving /metrics it dumps the
// registry to a textfile at exit (see Metrics.WriteTextfile).
package metrics
