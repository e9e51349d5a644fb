package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/proxy"
)

// Default configuration values.
const (
	// AppName is used for XDG directory paths.
	AppName = "scrapling"

	// EnvPrefix prefixes every environment override, e.g. SCRAPLING_ATTEMPTS.
	EnvPrefix = "SCRAPLING"

	// DefaultAttempts is the attempt budget per request. One direct attempt,
	// public proxies, the private proxy and a final direct attempt fit in 4.
	DefaultAttempts = 4

	DefaultBackoffBase   = 500 * time.Millisecond
	DefaultBackoffCap    = 5 * time.Second
	DefaultBackoffJitter = 250 * time.Millisecond

	DefaultRotation   = "sequential"
	DefaultProxyReuse = "cycle"

	// DefaultFailureThreshold benches a proxy after two failures in a row.
	DefaultFailureThreshold = 2

	// DefaultUnhealthyCooldown keeps a benched proxy out of plans for 30 minutes.
	DefaultUnhealthyCooldown = 30 * time.Minute

	// DefaultMinHTMLLength rejects pages shorter than this many characters.
	// Error pages and empty shells of single page apps are usually shorter.
	DefaultMinHTMLLength = 500

	// DefaultTimeout bounds one fetch attempt, including page rendering.
	DefaultTimeout = 30 * time.Second

	DefaultFetchWorkers = 8

	DefaultClient = ClientBrowser

	// DefaultBatchSize is the number of URLs fetched concurrently by the CLI.
	DefaultBatchSize = 4

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Fetch client names.
const (
	ClientBrowser = "browser"
	ClientHTTP    = "http"
)

// Config holds every setting of the fetcher. It is built from defaults, then
// the config file, then SCRAPLING_* environment variables, then CLI flags.
//
// A single flat struct keeps the mapping to flags and env names obvious.
type Config struct {
	// Attempts is the attempt budget. One disables retries.
	Attempts int `envconfig:"ATTEMPTS"`

	BackoffBase   time.Duration `envconfig:"BACKOFF_BASE"`
	BackoffCap    time.Duration `envconfig:"BACKOFF_CAP"`
	BackoffJitter time.Duration `envconfig:"BACKOFF_JITTER"`

	// ProxyListPath is a file of public proxies, one per line.
	ProxyListPath string `envconfig:"PROXY_LIST"`

	// PrivateProxy is tried as the penultimate attempt.
	PrivateProxy string `envconfig:"PRIVATE_PROXY"`

	// Rotation is "sequential" or "random".
	Rotation string `envconfig:"ROTATION"`

	// ProxyReuse is "cycle" or "none".
	ProxyReuse string `envconfig:"PROXY_REUSE"`

	FailureThreshold  int           `envconfig:"FAILURE_THRESHOLD"`
	UnhealthyCooldown time.Duration `envconfig:"UNHEALTHY_COOLDOWN"`

	MinHTMLLength int `envconfig:"MIN_HTML_LENGTH"`

	// ProfileRoot holds master/ and clones/. Empty disables profiles.
	ProfileRoot string `envconfig:"PROFILE_ROOT"`

	Timeout     time.Duration `envconfig:"TIMEOUT"`
	NetworkIdle bool          `envconfig:"NETWORK_IDLE"`
	Headless    bool          `envconfig:"HEADLESS"`

	// FetchWorkers bounds concurrent fetch calls across all requests.
	FetchWorkers int `envconfig:"FETCH_WORKERS"`

	// DetectChallenges rejects bot-challenge pages served with status 200.
	DetectChallenges bool `envconfig:"DETECT_CHALLENGES"`

	// Client is "browser" (rendered, go-rod) or "http" (plain, colly).
	Client string `envconfig:"CLIENT"`

	// BrowserBin overrides the Chromium binary. Empty lets rod download one.
	BrowserBin string `envconfig:"BROWSER_BIN"`

	// StealthArgs are extra browser command line flags.
	StealthArgs []string `envconfig:"STEALTH_ARGS"`

	// UseTor starts an embedded Tor daemon and uses it as the private proxy.
	UseTor            bool          `envconfig:"USE_TOR"`
	TorStartupTimeout time.Duration `envconfig:"TOR_STARTUP_TIMEOUT"`

	// DBDir holds the crawl history database.
	DBDir string `envconfig:"DB_DIR"`

	// SaveToDB stores every result in the history database.
	SaveToDB bool `envconfig:"SAVE_TO_DB"`

	BatchSize int `envconfig:"BATCH_SIZE"`

	// MetricsFile receives Prometheus metrics in textfile format after a run.
	MetricsFile string `envconfig:"METRICS_FILE"`

	Verbose bool `envconfig:"VERBOSE"`

	// ConfigFilePath is the file the settings were loaded from, if any.
	ConfigFilePath string `ignored:"true"`

	// Sites holds per-site request defaults from the config file.
	Sites *File `ignored:"true"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	return &Config{
		Attempts:          DefaultAttempts,
		BackoffBase:       DefaultBackoffBase,
		BackoffCap:        DefaultBackoffCap,
		BackoffJitter:     DefaultBackoffJitter,
		Rotation:          DefaultRotation,
		ProxyReuse:        DefaultProxyReuse,
		FailureThreshold:  DefaultFailureThreshold,
		UnhealthyCooldown: DefaultUnhealthyCooldown,
		MinHTMLLength:     DefaultMinHTMLLength,
		Timeout:           DefaultTimeout,
		Headless:          true,
		FetchWorkers:      DefaultFetchWorkers,
		DetectChallenges:  true,
		Client:            DefaultClient,
		TorStartupTimeout: DefaultTorStartupTimeout,
		DBDir:             XDGDataDir(),
		BatchSize:         DefaultBatchSize,
	}
}

// ApplyEnv overrides c with SCRAPLING_* environment variables. Variables
// that are not set leave the current value alone.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// RotationMode returns the parsed rotation. Call Validate first.
func (c *Config) RotationMode() proxy.Rotation {
	r, _ := proxy.ParseRotation(c.Rotation)
	return r
}

// ReuseMode returns the parsed proxy reuse policy. Call Validate first.
func (c *Config) ReuseMode() proxy.Reuse {
	r, _ := proxy.ParseReuse(c.ProxyReuse)
	return r
}

// XDGDataDir returns the data directory, e.g. ~/.local/share/scrapling.
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the config directory, e.g. ~/.config/scrapling.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGProfileRoot is the suggested profile root written by "scrapling init".
func XDGProfileRoot() string {
	return filepath.Join(xdg.DataHome, AppName, "profile")
}

// Validate returns the first invalid setting as one of the Err* sentinels.
func (c *Config) Validate() error {
	if c.Attempts < 1 {
		return ErrInvalidAttempts
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.BackoffBase < 0 || c.BackoffCap < 0 || c.BackoffJitter < 0 {
		return ErrInvalidBackoff
	}
	if c.BackoffCap > 0 && c.BackoffCap < c.BackoffBase {
		return ErrInvalidBackoff
	}
	if _, err := proxy.ParseRotation(c.Rotation); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRotation, c.Rotation)
	}
	if _, err := proxy.ParseReuse(c.ProxyReuse); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidReuse, c.ProxyReuse)
	}
	if c.FailureThreshold < 1 {
		return ErrInvalidThreshold
	}
	if c.UnhealthyCooldown <= 0 {
		return ErrInvalidCooldown
	}
	if c.MinHTMLLength < 0 {
		return ErrInvalidMinLength
	}
	if c.FetchWorkers < 1 || c.BatchSize < 1 {
		return ErrInvalidWorkers
	}
	if c.Client != ClientBrowser && c.Client != ClientHTTP {
		return fmt.Errorf("%w: %q", ErrInvalidClient, c.Client)
	}
	if c.UseTor && c.PrivateProxy != "" {
		return ErrConflictingPrivateProxy
	}
	return nil
}
