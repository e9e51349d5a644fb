package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/report"
)

var errNoProxies = errors.New("no proxies to check (use --proxy-list or proxyList in .scrapling)")

// NewProxiesCmd creates the proxies command group.
func NewProxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Inspect the public proxy list",
	}
	cmd.AddCommand(newProxiesCheckCmd())
	return cmd
}

func newProxiesCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe every proxy of the list",
		Long: `Check connects to every proxy of the list and speaks its handshake.

HTTP proxies get a CONNECT request and SOCKS proxies a greeting. With
--target the probe also asks the proxy to reach that host and port.

Examples:
  # Check the configured list
  scrapling proxies check

  # Check a file and require each proxy to reach example.com
  scrapling proxies check -p proxies.txt --target example.com:443`,
		Args: cobra.NoArgs,
		RunE: runProxiesCheckCmd,
	}

	cmd.Flags().StringP("proxy-list", "p", "", "File of proxies, one per line")
	cmd.Flags().DurationP("timeout", "t", proxy.DefaultProbeTimeout, "Timeout for each probe")
	cmd.Flags().String("target", "", "host:port each proxy must tunnel to")
	cmd.Flags().IntP("concurrency", "n", 8, "Number of probes in flight")
	cmd.Flags().StringP("format", "f", report.FormatText, "Output format: text, json or markdown")
	return cmd
}

// probeOptions are the check settings after flags and config are merged.
type probeOptions struct {
	timeout     time.Duration
	target      string
	concurrency int
	format      string
}

func runProxiesCheckCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("proxy-list") {
		if cfg.ProxyListPath, err = cmd.Flags().GetString("proxy-list"); err != nil {
			return err
		}
	}

	var opts probeOptions
	if opts.timeout, err = cmd.Flags().GetDuration("timeout"); err != nil {
		return err
	}
	if opts.target, err = cmd.Flags().GetString("target"); err != nil {
		return err
	}
	if opts.concurrency, err = cmd.Flags().GetInt("concurrency"); err != nil {
		return err
	}
	if opts.format, err = cmd.Flags().GetString("format"); err != nil {
		return err
	}

	logger := setupLogger(cfg.Verbose)
	addrs := proxy.LoadList(cfg.ProxyListPath, logger)

	ctx, cancel := signalContext(logger)
	defer cancel()
	return checkProxies(ctx, addrs, opts, cmd.OutOrStdout(), logger)
}

// checkProxies probes addrs and writes the results in opts.format.
func checkProxies(ctx context.Context, addrs []string, opts probeOptions, out io.Writer, logger *slog.Logger) error {
	if len(addrs) == 0 {
		return errNoProxies
	}
	writer, err := report.New(opts.format, out, getVersion())
	if err != nil {
		return err
	}

	probeOpts := []proxy.ProbeOption{
		proxy.WithProbeTimeout(opts.timeout),
		proxy.WithProbeLogger(logger),
	}
	if opts.target != "" {
		probeOpts = append(probeOpts, proxy.WithProbeTarget(opts.target))
	}

	results, err := proxy.NewProber(probeOpts...).ProbeAll(ctx, addrs, opts.concurrency)
	if err != nil {
		return err
	}
	if _, err := writer.WriteProbes(results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}
