package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/browser"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/config"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/crawler"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/database"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/httpclient"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/metrics"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/report"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/tor"
)

// errFetchFailed is returned when at least one URL produced no usable page.
var errFetchFailed = errors.New("fetch failed")

// NewFetchCmd creates the fetch command.
func NewFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch one or more pages",
		Long: `Fetch renders each URL and prints the result.

Each URL gets an attempt plan: a direct attempt, healthy public proxies from
the proxy list, the private proxy and a final direct attempt. A page counts
as fetched when it answers 200 with at least --min-length characters.

Examples:
  # Print the rendered HTML of a page
  scrapling fetch -f html https://example.com

  # Wait for an element and allow 6 attempts
  scrapling fetch -a 6 -w "#content" https://example.com

  # Fetch several pages and write a Markdown report
  scrapling fetch -f markdown -o report.md https://a.example https://b.example

  # Route the private attempt through an embedded Tor daemon
  scrapling fetch --tor -p proxies.txt https://example.com

  # Reuse the signed-in master profile read-only
  scrapling fetch --profile read --profile-root ~/.local/share/scrapling/profile https://example.com`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFetchCmd,
	}

	// Client flags
	cmd.Flags().String("client", config.DefaultClient,
		"Fetch client: browser (rendered) or http (plain)")
	cmd.Flags().String("browser-bin", "",
		"Chromium binary (default: downloaded on first use)")

	// Retry flags
	cmd.Flags().IntP("attempts", "a", config.DefaultAttempts,
		"Attempt budget per URL (1 disables retries)")
	cmd.Flags().StringP("proxy-list", "p", "",
		"File of public proxies, one per line")
	cmd.Flags().String("private-proxy", "",
		"Private proxy tried before the final direct attempt")
	cmd.Flags().String("rotation", config.DefaultRotation,
		"Public proxy order: sequential or random")
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and use it as the private proxy")

	// Page flags
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each attempt, in whole seconds (e.g. 45s, 2m)")
	cmd.Flags().StringP("wait-selector", "w", "",
		"CSS selector to wait for before capturing the page")
	cmd.Flags().String("wait-state", string(model.DefaultWaitState),
		"Selector state to wait for: attached, detached, visible or hidden")
	cmd.Flags().Bool("network-idle", false,
		"Wait for network activity to settle")
	cmd.Flags().Bool("headful", false,
		"Show the browser window")
	cmd.Flags().Int("min-length", config.DefaultMinHTMLLength,
		"Minimum page length in characters")

	// Profile flags
	cmd.Flags().String("profile", "",
		"Profile mode: read (disposable clone of master), write (master) or none")
	cmd.Flags().String("profile-root", "",
		"Directory holding the master profile and its clones")

	// Batch and output flags
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of URLs fetched concurrently")
	cmd.Flags().StringP("format", "f", report.FormatText,
		"Output format: text, json, markdown or html")
	cmd.Flags().StringP("output", "o", "",
		"Write output to the specified file (creates directories if needed)")
	cmd.Flags().Bool("save", false,
		"Save results to the history database")
	cmd.Flags().String("metrics", "",
		"Write Prometheus metrics to this file after the run")

	return cmd
}

// fetchOptions carries the output side of a fetch run.
type fetchOptions struct {
	format string
	output io.Writer
}

func runFetchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyFetchFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	// Fail before any browser starts.
	if _, err := report.New(format, io.Discard, ""); err != nil {
		return err
	}

	reqs, err := buildRequests(cmd, cfg, args)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	ctx, cancel := signalContext(logger)
	defer cancel()

	if cfg.UseTor {
		daemon, err := startTor(ctx, cfg, logger, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			logger.Info("stopping embedded Tor daemon...")
			if err := daemon.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}()
	}

	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	out, closeOut, err := openOutput(outputPath, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut() //nolint:errcheck // the report error is reported below

	_, err = runFetch(ctx, cfg, reqs, newFetchClient(cfg, logger), fetchOptions{format: format, output: out}, logger)
	return err
}

// applyFetchFlags copies the flags the user set onto cfg. Flags left at
// their default keep the config file and environment values.
func applyFetchFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var errs []error
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if flags.Changed(name) {
			v, err := flags.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("client", &cfg.Client)
	str("browser-bin", &cfg.BrowserBin)
	num("attempts", &cfg.Attempts)
	str("proxy-list", &cfg.ProxyListPath)
	str("private-proxy", &cfg.PrivateProxy)
	str("rotation", &cfg.Rotation)
	boolean("tor", &cfg.UseTor)
	num("min-length", &cfg.MinHTMLLength)
	boolean("network-idle", &cfg.NetworkIdle)
	str("profile-root", &cfg.ProfileRoot)
	num("batch", &cfg.BatchSize)
	boolean("save", &cfg.SaveToDB)
	str("metrics", &cfg.MetricsFile)
	if flags.Changed("timeout") {
		v, err := flags.GetDuration("timeout")
		errs = append(errs, err)
		cfg.Timeout = v
	}
	if flags.Changed("headful") {
		v, err := flags.GetBool("headful")
		errs = append(errs, err)
		cfg.Headless = !v
	}
	return errors.Join(errs...)
}

// buildRequests turns the URL arguments into crawl requests. Request flags
// win over per-site settings, which win over the global defaults.
func buildRequests(cmd *cobra.Command, cfg *config.Config, urls []string) ([]model.CrawlRequest, error) {
	flags := cmd.Flags()
	var base model.CrawlRequest

	if flags.Changed("wait-selector") {
		v, err := flags.GetString("wait-selector")
		if err != nil {
			return nil, err
		}
		base.WaitForSelector = &v
	}
	if flags.Changed("wait-state") {
		v, err := flags.GetString("wait-state")
		if err != nil {
			return nil, err
		}
		if _, ok := model.ParseWaitState(v); !ok {
			return nil, fmt.Errorf("invalid --wait-state %q (want attached, detached, visible or hidden)", v)
		}
		base.WaitForSelectorState = &v
	}
	if flags.Changed("network-idle") {
		v, err := flags.GetBool("network-idle")
		if err != nil {
			return nil, err
		}
		base.NetworkIdle = &v
	}
	if flags.Changed("headful") {
		v, err := flags.GetBool("headful")
		if err != nil {
			return nil, err
		}
		base.ForceHeadful = &v
	}
	if flags.Changed("timeout") {
		secs, err := requestTimeout(cfg.Timeout)
		if err != nil {
			return nil, err
		}
		base.TimeoutSeconds = &secs
	}
	if flags.Changed("profile") {
		v, err := flags.GetString("profile")
		if err != nil {
			return nil, err
		}
		if _, ok := model.ParseProfileMode(v); !ok {
			return nil, fmt.Errorf("invalid --profile %q (want read, write or none)", v)
		}
		base.ProfileMode = &v
	}

	reqs := make([]model.CrawlRequest, 0, len(urls))
	for _, raw := range urls {
		req := base
		req.URL = raw
		if cfg.Sites != nil {
			if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
				cfg.Sites.GetSiteConfig(u.Hostname()).Apply(&req)
			}
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// requestTimeout converts --timeout into the whole seconds a request carries.
func requestTimeout(d time.Duration) (int, error) {
	if d < time.Second || d%time.Second != 0 {
		return 0, fmt.Errorf("invalid --timeout %v: must be a whole number of seconds", d)
	}
	return int(d / time.Second), nil
}

// engineConfig maps the flat configuration onto the engine. Stealth flags
// travel as additional_args so the composer filters them by capability.
func engineConfig(cfg *config.Config) crawler.EngineConfig {
	var extra fetch.Args
	if len(cfg.StealthArgs) > 0 {
		extra = fetch.Args{fetch.ParamAdditionalArgs: slices.Clone(cfg.StealthArgs)}
	}
	return crawler.EngineConfig{
		Attempts:          cfg.Attempts,
		BackoffBase:       cfg.BackoffBase,
		BackoffCap:        cfg.BackoffCap,
		BackoffJitter:     cfg.BackoffJitter,
		ProxyListPath:     cfg.ProxyListPath,
		PrivateProxy:      cfg.PrivateProxy,
		Rotation:          cfg.RotationMode(),
		Reuse:             cfg.ReuseMode(),
		FailureThreshold:  cfg.FailureThreshold,
		UnhealthyCooldown: cfg.UnhealthyCooldown,
		Defaults: crawler.Defaults{
			Timeout:          cfg.Timeout,
			NetworkIdle:      cfg.NetworkIdle,
			Headless:         cfg.Headless,
			MinContentLength: cfg.MinHTMLLength,
		},
		ProfileRoot:      cfg.ProfileRoot,
		Workers:          cfg.FetchWorkers,
		DetectChallenges: cfg.DetectChallenges,
		ExtraArgs:        extra,
	}
}

// newFetchClient returns the client named by cfg.Client.
func newFetchClient(cfg *config.Config, logger *slog.Logger) fetch.Client {
	if cfg.Client == config.ClientHTTP {
		return httpclient.NewClient(httpclient.WithLogger(logger))
	}
	return browser.NewClient(
		browser.WithBin(cfg.BrowserBin),
		browser.WithLogger(logger),
	)
}

// startTor boots the embedded daemon and makes it the private proxy.
func startTor(ctx context.Context, cfg *config.Config, logger *slog.Logger, status io.Writer) (*tor.Daemon, error) {
	fmt.Fprintln(status, "Starting embedded Tor daemon...")
	fmt.Fprintf(status, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	daemon := tor.NewDaemon(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
		tor.WithLogger(logger),
	)
	if err := daemon.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	proxyURL, err := daemon.ProxyURL()
	if err != nil {
		_ = daemon.Stop() //nolint:errcheck // best effort cleanup
		return nil, err
	}
	cfg.PrivateProxy = proxyURL

	logger.Info("embedded Tor daemon started",
		"socksAddr", daemon.SocksAddr(),
		"controlAddr", daemon.ControlAddr(),
	)
	fmt.Fprintf(status, "Tor SOCKS proxy: %s\n\n", daemon.SocksAddr())
	return daemon, nil
}

// runFetch crawls reqs with client, saves and reports the results. It
// returns errFetchFailed when any URL failed, after the report is written.
func runFetch(ctx context.Context, cfg *config.Config, reqs []model.CrawlRequest, client fetch.Client, opts fetchOptions, logger *slog.Logger) (*report.CrawlReport, error) {
	writer, err := report.New(opts.format, opts.output, getVersion())
	if err != nil {
		return nil, err
	}

	var db *database.CrawlDB
	if cfg.SaveToDB {
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "path", db.Path())
	}

	m := metrics.New()
	engine := crawler.NewEngine(client, engineConfig(cfg),
		crawler.WithLogger(logger),
		crawler.WithMetrics(m),
	)
	defer engine.Close()

	logger.Info("starting fetch",
		"urls", len(reqs),
		"client", cfg.Client,
		"attempts", cfg.Attempts,
		"batchSize", cfg.BatchSize,
		"saveToDB", cfg.SaveToDB,
	)

	batch := crawler.NewBatch(engine,
		crawler.WithConcurrency(cfg.BatchSize),
		crawler.WithBatchLogger(logger),
	)
	items, runErr := batch.CrawlAll(ctx, reqs)

	entries := make([]report.Entry, 0, len(items))
	var sessionErrs []error
	for _, it := range items {
		if it.Err != nil {
			sessionErrs = append(sessionErrs, fmt.Errorf("%s: %w", it.Result.URL, it.Err))
		}
		entries = append(entries, buildEntry(ctx, db, it.Result, logger))
	}

	rep := report.NewCrawlReport(entries...)
	if _, err := writer.Write(rep); err != nil {
		return rep, fmt.Errorf("failed to write report: %w", err)
	}

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Error("failed to write metrics", "error", err)
		}
	}

	if runErr != nil {
		return rep, runErr
	}
	if len(sessionErrs) > 0 {
		return rep, errors.Join(sessionErrs...)
	}
	if n := rep.Failed(); n > 0 {
		return rep, fmt.Errorf("%w: %d of %d URLs", errFetchFailed, n, len(entries))
	}
	return rep, nil
}

// buildEntry summarizes a successful page and saves the result when db is
// set. Neither step fails the run.
func buildEntry(ctx context.Context, db *database.CrawlDB, res model.CrawlResult, logger *slog.Logger) report.Entry {
	entry := report.Entry{Result: res}
	if res.Succeeded() {
		summary, err := crawler.Summarize(res.URL, res.HTML)
		if err != nil {
			logger.Debug("failed to summarize page", "url", res.URL, "error", err)
		} else {
			entry.Summary = summary
		}
	}

	if db == nil {
		return entry
	}
	title := ""
	if entry.Summary != nil {
		title = entry.Summary.Title
	}
	id, err := db.SaveResult(ctx, res, title)
	if err != nil {
		logger.Error("failed to save crawl result", "url", res.URL, "error", err)
		return entry
	}
	entry.RecordID = id
	return entry
}
