package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/backoff"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/dispatch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/metrics"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/profile"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// EngineConfig is the configuration surface of an Engine. Zero values fall
// back to the package defaults of the component they configure.
type EngineConfig struct {
	// Attempts is the attempt budget. Above one the retrying executor is used.
	Attempts int

	BackoffBase time.Duration
	BackoffCap  time.Duration
	// BackoffJitter of zero disables jitter.
	BackoffJitter time.Duration

	ProxyListPath string
	PrivateProxy  string
	Rotation      proxy.Rotation
	Reuse         proxy.Reuse

	FailureThreshold  int
	UnhealthyCooldown time.Duration

	Defaults Defaults

	// ProfileRoot enables profile sessions when the client also accepts a
	// profile directory parameter.
	ProfileRoot string

	// Workers bounds concurrent fetch calls. Zero means Attempts*4.
	Workers int

	// DetectChallenges rejects 200 responses that look like bot challenges.
	DetectChallenges bool

	// ExtraArgs are passed with every attempt when the client accepts them.
	ExtraArgs fetch.Args
}

// Engine owns every long-lived component of the fetch path. Build it once
// and share it; all methods are safe for concurrent use.
type Engine struct {
	client   fetch.Client
	caps     fetch.Capabilities
	resolver *OptionsResolver
	tracker  *proxy.HealthTracker
	profiles *profile.Manager
	executor Executor
	extra    fetch.Args
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type engineOptions struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	sleep   Sleeper
	rnd     *rand.Rand
	seed    *uint64
	now     func() time.Time
}

// EngineOption customizes NewEngine.
type EngineOption func(*engineOptions)

// WithLogger sets the logger for the engine and everything it builds.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records engine activity in m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(o *engineOptions) { o.metrics = m }
}

// WithSleeper replaces SleepContext between attempts.
func WithSleeper(s Sleeper) EngineOption {
	return func(o *engineOptions) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithRand seeds random proxy rotation.
func WithRand(r *rand.Rand) EngineOption {
	return func(o *engineOptions) { o.rnd = r }
}

// WithBackoffSeed makes backoff jitter reproducible.
func WithBackoffSeed(seed uint64) EngineOption {
	return func(o *engineOptions) { o.seed = &seed }
}

// WithClock sets the clock used for proxy cooldowns.
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewEngine negotiates capabilities with client once and wires the
// resolver, proxy list, tracker, planner, backoff, dispatch pool and
// profile manager.
func NewEngine(client fetch.Client, cfg EngineConfig, opts ...EngineOption) *Engine {
	o := engineOptions{logger: slog.Default(), sleep: SleepContext, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = cfg.Attempts * 4
	}

	caps := fetch.Negotiate(client)
	logger.Debug("negotiated fetch capabilities", "params", caps.Names())

	tracker := proxy.NewHealthTracker(cfg.FailureThreshold, cfg.UnhealthyCooldown,
		proxy.WithClock(o.now),
		proxy.WithHealthLogger(logger),
		proxy.WithTransitionHook(o.metrics.ProxyTransition),
	)

	var detector *ChallengeDetector
	if cfg.DetectChallenges {
		detector = NewChallengeDetector()
	}

	runner := &attemptRunner{
		client:   client,
		composer: fetch.NewComposer(caps, logger),
		pool:     dispatch.NewPool(cfg.Workers, dispatch.WithLogger(logger)),
		detector: detector,
		logger:   logger,
		metrics:  o.metrics,
	}

	e := &Engine{
		client:   client,
		caps:     caps,
		resolver: NewOptionsResolver(cfg.Defaults),
		tracker:  tracker,
		profiles: profile.NewManager(cfg.ProfileRoot, caps.ProfileParam(),
			profile.WithLogger(logger),
			profile.WithMetrics(o.metrics),
		),
		extra:   cfg.ExtraArgs.Clone(),
		logger:  logger,
		metrics: o.metrics,
	}

	if cfg.Attempts == 1 {
		e.executor = &SingleAttemptExecutor{runner: runner}
		return e
	}

	public := proxy.NewListSource(cfg.ProxyListPath, logger).List()
	private := ""
	if cfg.PrivateProxy != "" {
		addr, err := proxy.NormalizeAddress(cfg.PrivateProxy)
		if err != nil {
			logger.Warn("ignoring invalid private proxy", "proxy", cfg.PrivateProxy, "error", err)
		} else {
			private = addr
		}
	}

	plannerOpts := []proxy.PlannerOption{proxy.WithRotation(cfg.Rotation), proxy.WithReuse(cfg.Reuse)}
	if o.rnd != nil {
		plannerOpts = append(plannerOpts, proxy.WithRand(o.rnd))
	}

	backoffOpts := []backoff.Option{backoff.WithJitter(cfg.BackoffJitter)}
	if o.seed != nil {
		backoffOpts = append(backoffOpts, backoff.WithSeed(*o.seed))
	}

	e.executor = &RetryingExecutor{
		runner:  runner,
		planner: proxy.NewPlanner(cfg.Attempts, public, private, tracker, plannerOpts...),
		tracker: tracker,
		backoff: backoff.New(cfg.BackoffBase, cfg.BackoffCap, backoffOpts...),
		sleep:   o.sleep,
	}
	logger.Debug("retrying executor ready",
		"attempts", cfg.Attempts,
		"public_proxies", len(public),
		"private_proxy", private != "",
	)
	return e
}

type crawlOptions struct {
	pageAction fetch.PageAction
	extra      fetch.Args
}

// CrawlOption adds per-request collaborators to Crawl.
type CrawlOption func(*crawlOptions)

// WithPageAction passes a page interaction callback to the fetch client.
func WithPageAction(fn fetch.PageAction) CrawlOption {
	return func(o *crawlOptions) { o.pageAction = fn }
}

// WithExtraArgs adds fetch arguments for this request only. They override
// the engine-wide extra arguments.
func WithExtraArgs(args fetch.Args) CrawlOption {
	return func(o *crawlOptions) { o.extra = args }
}

// Crawl resolves req and runs it. Fetch problems of any kind come back as a
// failed CrawlResult with a nil error. The error is non-nil only when the
// requested profile session could not be opened: profile.ErrWriteLocked or
// a *profile.CloneError.
func (e *Engine) Crawl(ctx context.Context, req model.CrawlRequest, opts ...CrawlOption) (model.CrawlResult, error) {
	var co crawlOptions
	for _, opt := range opts {
		opt(&co)
	}

	options := e.resolver.Resolve(req)
	if reason, ok := validateURL(options.URL); !ok {
		e.logger.Warn("rejecting crawl request", "url", options.URL, "reason", reason)
		return model.NewFailure(options.URL, reason), nil
	}

	session, err := e.profiles.Acquire(options.Profile)
	if err != nil {
		return model.NewFailure(options.URL, err.Error()), fmt.Errorf("failed to open %s profile session: %w", options.Profile, err)
	}
	defer func() {
		if err := session.Release(); err != nil {
			e.logger.Warn("failed to release profile session", "path", session.Path, "error", err)
		}
	}()

	extra := make(fetch.Args, len(e.extra)+len(co.extra))
	maps.Copy(extra, e.extra)
	maps.Copy(extra, co.extra)

	return e.executor.Execute(ctx, Job{
		Options:     options,
		PageAction:  co.pageAction,
		ExtraArgs:   extra,
		ProfilePath: session.Path,
	}), nil
}

func validateURL(raw string) (string, bool) {
	if raw == "" {
		return "invalid url: empty", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid url: " + err.Error(), false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("invalid url: unsupported scheme %q", u.Scheme), false
	}
	if u.Host == "" {
		return "invalid url: missing host", false
	}
	return "", true
}

// Tracker returns the engine's proxy health tracker.
func (e *Engine) Tracker() *proxy.HealthTracker { return e.tracker }

// Capabilities returns the negotiated client capabilities.
func (e *Engine) Capabilities() fetch.Capabilities { return e.caps }

// Profiles returns the engine's profile manager.
func (e *Engine) Profiles() *profile.Manager { return e.profiles }

// Executor returns the executor chosen for the configured budget.
func (e *Engine) Executor() Executor { return e.executor }

// Close closes the fetch client if it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
