package tor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/tornago"
)

// DefaultStartupTimeout bounds bootstrap of the embedded daemon.
const DefaultStartupTimeout = 3 * time.Minute

// process is the part of *tornago.TorProcess the daemon uses.
type process interface {
	SocksAddr() string
	ControlAddr() string
	Stop() error
}

// launcher starts a Tor process and blocks until it has bootstrapped.
type launcher func(startupTimeout time.Duration) (process, error)

// Daemon runs an embedded Tor process whose SOCKS port serves as the
// fetcher's private proxy. Bootstrap needs network access and usually takes
// one to three minutes.
type Daemon struct {
	mu             sync.Mutex
	proc           process
	socksAddr      string
	controlAddr    string
	startupTimeout time.Duration
	launch         launcher
	logger         *slog.Logger
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(d *Daemon) {
		if timeout > 0 {
			d.startupTimeout = timeout
		}
	}
}

// WithLogger sets the logger for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDaemon returns a stopped daemon. Call Start to launch Tor.
func NewDaemon(opts ...Option) *Daemon {
	d := &Daemon{
		startupTimeout: DefaultStartupTimeout,
		launch:         launchTornago,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func launchTornago(startupTimeout time.Duration) (process, error) {
	// ":0" lets the OS pick free ports so several fetchers can coexist.
	cfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(startupTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tor launch config: %w", err)
	}
	proc, err := tornago.StartTorDaemon(cfg)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

// Start launches Tor and waits for bootstrap or ctx. When ctx ends first,
// the process is stopped as soon as it comes up and ctx.Err() is returned.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.proc != nil {
		return ErrAlreadyRunning
	}

	type launched struct {
		proc process
		err  error
	}
	done := make(chan launched, 1)

	d.logger.Info("starting embedded Tor", "timeout", d.startupTimeout)
	started := time.Now()
	go func() {
		proc, err := d.launch(d.startupTimeout)
		done <- launched{proc: proc, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if l := <-done; l.err == nil && l.proc != nil {
				_ = l.proc.Stop() //nolint:errcheck // nobody is left to report to
			}
		}()
		return ctx.Err()
	case l := <-done:
		if l.err != nil {
			return fmt.Errorf("failed to start embedded Tor daemon: %w", l.err)
		}
		d.proc = l.proc
		d.socksAddr = l.proc.SocksAddr()
		d.controlAddr = l.proc.ControlAddr()
	}

	d.logger.Info("embedded Tor ready",
		"socks", d.socksAddr,
		"elapsed", time.Since(started).Round(time.Second))
	return nil
}

// Stop shuts the daemon down. It is safe on a stopped daemon.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.proc == nil {
		return nil
	}
	err := d.proc.Stop()
	d.proc = nil
	d.socksAddr = ""
	d.controlAddr = ""
	return err
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.proc != nil
}

// SocksAddr returns the SOCKS5 listener as host:port, or "" when stopped.
func (d *Daemon) SocksAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socksAddr
}

// ControlAddr returns the control port address, or "" when stopped.
func (d *Daemon) ControlAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controlAddr
}

// ProxyURL returns the SOCKS listener as a proxy URL for the fetch client,
// e.g. "socks5://127.0.0.1:42715".
func (d *Daemon) ProxyURL() (string, error) {
	addr := d.SocksAddr()
	if addr == "" {
		return "", ErrNotRunning
	}
	return "socks5://" + addr, nil
}
