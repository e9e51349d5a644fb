package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/backoff"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/dispatch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/metrics"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// Job is one resolved crawl handed to an executor.
type Job struct {
	Options     model.CrawlOptions
	PageAction  fetch.PageAction
	ExtraArgs   fetch.Args
	ProfilePath string
}

// Executor runs a Job to a terminal CrawlResult. Every failure, including
// a panicking client, ends up in the result; Execute never returns an error.
type Executor interface {
	Execute(ctx context.Context, job Job) model.CrawlResult
}

// Sleeper waits d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attemptResult is the evaluated outcome of one executed attempt.
type attemptResult struct {
	report    model.AttemptReport
	html      string
	kind      fetch.ErrorKind
	cancelled bool
}

func (r attemptResult) succeeded() bool {
	return r.report.Outcome == model.OutcomeSuccess
}

// attemptRunner executes and judges one attempt. It is shared by both
// executors so they accept and reject content the same way.
type attemptRunner struct {
	client   fetch.Client
	composer *fetch.Composer
	pool     *dispatch.Pool
	detector *ChallengeDetector
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func (r *attemptRunner) run(ctx context.Context, job Job, index int, a model.Attempt) attemptResult {
	start := time.Now()
	args := r.composer.Compose(fetch.Request{
		Options:     job.Options,
		Proxy:       a.Proxy,
		ExtraArgs:   job.ExtraArgs,
		ProfilePath: job.ProfilePath,
		PageAction:  job.PageAction,
	})

	resp, fallback, err := r.composer.Call(ctx, args, func(ctx context.Context, args fetch.Args) (*fetch.Response, error) {
		return dispatch.Do(ctx, r.pool, job.Options.Timeout, func(ctx context.Context) (*fetch.Response, error) {
			return r.client.Fetch(ctx, job.Options.URL, args)
		})
	})

	res := attemptResult{report: model.AttemptReport{
		Index:       index,
		Attempt:     a,
		Outcome:     model.OutcomeFailure,
		GeoFallback: fallback,
	}}
	r.evaluate(ctx, job.Options, resp, err, &res)
	res.report.Duration = time.Since(start)

	r.metrics.ObserveAttempt(a.Mode.String(), res.report.Outcome.String(), res.report.Duration, fallback)
	return res
}

func (r *attemptRunner) evaluate(ctx context.Context, opts model.CrawlOptions, resp *fetch.Response, err error, res *attemptResult) {
	if err == nil && resp == nil {
		err = fetch.ErrNoResponse
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			res.cancelled = true
			res.report.Reason = "cancelled: " + ctxErr.Error()
			return
		}
		res.kind = fetch.Classify(err)
		res.report.Reason = fmt.Sprintf("fetch error (%s): %v", res.kind, err)
		return
	}

	res.report.Status = resp.Status
	res.report.Length = utf8.RuneCountInString(resp.HTML)

	switch {
	case resp.Status != http.StatusOK:
		res.report.Reason = fmt.Sprintf("non-200 status: %d", resp.Status)
	case res.report.Length < opts.MinContentLength:
		res.report.Reason = fmt.Sprintf("content too short (<%d chars)", opts.MinContentLength)
	default:
		if marker, ok := r.detector.Detect(resp.HTML); ok {
			res.report.Reason = "bot challenge detected: " + marker
			return
		}
		res.report.Outcome = model.OutcomeSuccess
		res.html = resp.HTML
	}
}

func finish(url string, reports []model.AttemptReport, last attemptResult, lastReason string) model.CrawlResult {
	result := model.CrawlResult{URL: url, Attempts: reports, Status: last.report.Status}
	if last.succeeded() {
		result.Outcome = model.OutcomeSuccess
		result.HTML = last.html
		return result
	}
	result.Outcome = model.OutcomeFailure
	result.Reason = lastReason
	return result
}

// SingleAttemptExecutor makes exactly one direct attempt. It neither
// tracks proxy health nor sleeps.
type SingleAttemptExecutor struct {
	runner *attemptRunner
}

// Execute implements Executor.
func (e *SingleAttemptExecutor) Execute(ctx context.Context, job Job) model.CrawlResult {
	start := time.Now()
	res := e.runner.run(ctx, job, 0, model.Direct())
	result := finish(job.Options.URL, []model.AttemptReport{res.report}, res, res.report.Reason)

	if !res.succeeded() {
		e.runner.logger.Info("attempt failed", "url", job.Options.URL, "attempt", model.Direct().String(), "reason", res.report.Reason)
	}
	e.runner.metrics.ObserveRequest("single", result.Outcome.String(), time.Since(start))
	return result
}

// RetryingExecutor walks an attempt plan until one attempt succeeds or the
// plan is exhausted.
type RetryingExecutor struct {
	runner  *attemptRunner
	planner *proxy.Planner
	tracker *proxy.HealthTracker
	backoff *backoff.Policy
	sleep   Sleeper
}

// Execute implements Executor.
//
// Proxies found unhealthy at execution time are skipped without consuming
// extra budget. Proxy health is updated after every executed proxied
// attempt. A backoff delay follows each failed attempt except the last
// planned one. A non-retryable error or a done ctx ends the loop early.
func (e *RetryingExecutor) Execute(ctx context.Context, job Job) model.CrawlResult {
	start := time.Now()
	plan := e.planner.Plan()
	logger := e.runner.logger.With("url", job.Options.URL)
	logger.Debug("attempt plan built", "plan", planString(plan))

	var (
		reports []model.AttemptReport
		last    attemptResult
		reason  = "no attempt executed: every planned proxy is unhealthy"
	)

	for i, a := range plan {
		if err := ctx.Err(); err != nil {
			reason = "cancelled: " + err.Error()
			break
		}

		if !a.IsDirect() && e.tracker.IsUnhealthy(a.Proxy) {
			logger.Debug("skipping unhealthy proxy", "attempt", a.String(), "index", i+1)
			reports = append(reports, model.AttemptReport{
				Index:   i,
				Attempt: a,
				Outcome: model.OutcomeFailure,
				Skipped: true,
				Reason:  "proxy unhealthy",
			})
			e.runner.metrics.ObserveSkip(a.Mode.String())
			continue
		}

		res := e.runner.run(ctx, job, i, a)
		reports = append(reports, res.report)
		last = res
		reason = res.report.Reason

		if res.succeeded() {
			e.tracker.MarkSuccess(a.Proxy)
			logger.Debug("attempt succeeded", "attempt", a.String(), "index", i+1, "length", res.report.Length)
			break
		}
		if res.cancelled {
			break
		}

		e.tracker.MarkFailure(a.Proxy)
		logger.Info("attempt failed", "attempt", a.String(), "index", i+1, "of", len(plan), "reason", res.report.Reason)

		if res.kind == fetch.KindNonRetryable {
			logger.Warn("non-retryable fetch error, giving up", "reason", res.report.Reason)
			break
		}

		if i < len(plan)-1 {
			d := e.backoff.Delay(i)
			e.runner.metrics.ObserveBackoff(d)
			if err := e.sleep(ctx, d); err != nil {
				reason = "cancelled: " + err.Error()
				break
			}
		}
	}

	result := finish(job.Options.URL, reports, last, reason)
	e.runner.metrics.ObserveRequest("retrying", result.Outcome.String(), time.Since(start))
	return result
}

func planString(plan model.AttemptPlan) []string {
	out := make([]string, len(plan))
	for i, a := range plan {
		out[i] = a.String()
	}
	return out
}
