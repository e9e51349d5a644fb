package config

import (
	"strings"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// SiteConfig holds request defaults for one site. Empty fields leave the
// request untouched.
type SiteConfig struct {
	// WaitSelector is a CSS selector to wait for before capturing the page.
	WaitSelector string `yaml:"waitSelector,omitempty"`

	// WaitSelectorState is attached, detached, visible or hidden.
	WaitSelectorState string `yaml:"waitSelectorState,omitempty"`

	// Timeout overrides the global fetch timeout for this site.
	Timeout Duration `yaml:"timeout,omitempty"`

	// NetworkIdle waits for network activity to settle.
	NetworkIdle *bool `yaml:"networkIdle,omitempty"`

	// Profile is read, write or none.
	Profile string `yaml:"profile,omitempty"`
}

// Settings mirrors Config for the config file. Nil pointers and empty
// strings are "not set".
type Settings struct {
	Attempts          *int     `yaml:"attempts,omitempty"`
	BackoffBase       Duration `yaml:"backoffBase,omitempty"`
	BackoffCap        Duration `yaml:"backoffCap,omitempty"`
	BackoffJitter     Duration `yaml:"backoffJitter,omitempty"`
	ProxyList         string   `yaml:"proxyList,omitempty"`
	PrivateProxy      string   `yaml:"privateProxy,omitempty"`
	Rotation          string   `yaml:"rotation,omitempty"`
	ProxyReuse        string   `yaml:"proxyReuse,omitempty"`
	FailureThreshold  *int     `yaml:"failureThreshold,omitempty"`
	UnhealthyCooldown Duration `yaml:"unhealthyCooldown,omitempty"`
	MinHTMLLength     *int     `yaml:"minHtmlLength,omitempty"`
	ProfileRoot       string   `yaml:"profileRoot,omitempty"`
	Timeout           Duration `yaml:"timeout,omitempty"`
	NetworkIdle       *bool    `yaml:"networkIdle,omitempty"`
	Headless          *bool    `yaml:"headless,omitempty"`
	FetchWorkers      *int     `yaml:"fetchWorkers,omitempty"`
	DetectChallenges  *bool    `yaml:"detectChallenges,omitempty"`
	Client            string   `yaml:"client,omitempty"`
	BrowserBin        string   `yaml:"browserBin,omitempty"`
	StealthArgs       []string `yaml:"stealthArgs,omitempty"`
	UseTor            *bool    `yaml:"tor,omitempty"`
	DBDir             string   `yaml:"dbDir,omitempty"`
	SaveToDB          *bool    `yaml:"saveToDb,omitempty"`
	BatchSize         *int     `yaml:"batchSize,omitempty"`
	MetricsFile       string   `yaml:"metricsFile,omitempty"`
}

// File is the structure of the .scrapling configuration file.
type File struct {
	Settings `yaml:",inline"`

	// Defaults apply to every site unless overridden under Sites.
	Defaults SiteConfig `yaml:"defaults,omitempty"`

	// Sites maps host names to site settings. A host also matches its
	// subdomains, so "example.com" covers "www.example.com".
	Sites map[string]SiteConfig `yaml:"sites,omitempty"`
}

// Apply copies every setting present in the file onto c.
func (s Settings) Apply(c *Config) {
	setInt(&c.Attempts, s.Attempts)
	setDuration(&c.BackoffBase, s.BackoffBase)
	setDuration(&c.BackoffCap, s.BackoffCap)
	setDuration(&c.BackoffJitter, s.BackoffJitter)
	setString(&c.ProxyListPath, s.ProxyList)
	setString(&c.PrivateProxy, s.PrivateProxy)
	setString(&c.Rotation, s.Rotation)
	setString(&c.ProxyReuse, s.ProxyReuse)
	setInt(&c.FailureThreshold, s.FailureThreshold)
	setDuration(&c.UnhealthyCooldown, s.UnhealthyCooldown)
	setInt(&c.MinHTMLLength, s.MinHTMLLength)
	setString(&c.ProfileRoot, s.ProfileRoot)
	setDuration(&c.Timeout, s.Timeout)
	setBool(&c.NetworkIdle, s.NetworkIdle)
	setBool(&c.Headless, s.Headless)
	setInt(&c.FetchWorkers, s.FetchWorkers)
	setBool(&c.DetectChallenges, s.DetectChallenges)
	setString(&c.Client, s.Client)
	setString(&c.BrowserBin, s.BrowserBin)
	if len(s.StealthArgs) > 0 {
		c.StealthArgs = append([]string(nil), s.StealthArgs...)
	}
	setBool(&c.UseTor, s.UseTor)
	setString(&c.DBDir, s.DBDir)
	setBool(&c.SaveToDB, s.SaveToDB)
	setInt(&c.BatchSize, s.BatchSize)
	setString(&c.MetricsFile, s.MetricsFile)
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if !v.IsZero() {
		*dst = v.Duration
	}
}

// GetSiteConfig returns the defaults merged with the most specific entry
// for host: "www.shop.example.com" tries itself, then "shop.example.com",
// then "example.com".
func (cf *File) GetSiteConfig(host string) SiteConfig {
	result := cf.Defaults
	site, ok := cf.lookup(strings.ToLower(host))
	if !ok {
		return result
	}

	if site.WaitSelector != "" {
		result.WaitSelector = site.WaitSelector
	}
	if site.WaitSelectorState != "" {
		result.WaitSelectorState = site.WaitSelectorState
	}
	if !site.Timeout.IsZero() {
		result.Timeout = site.Timeout
	}
	if site.NetworkIdle != nil {
		result.NetworkIdle = site.NetworkIdle
	}
	if site.Profile != "" {
		result.Profile = site.Profile
	}
	return result
}

func (cf *File) lookup(host string) (SiteConfig, bool) {
	for host != "" {
		if site, ok := cf.Sites[host]; ok {
			return site, true
		}
		i := strings.IndexByte(host, '.')
		if i < 0 {
			break
		}
		host = host[i+1:]
	}
	return SiteConfig{}, false
}

// Apply fills the fields of req the caller left unset.
func (sc SiteConfig) Apply(req *model.CrawlRequest) {
	if req.WaitForSelector == nil && req.XWaitForSelector == nil && sc.WaitSelector != "" {
		req.WaitForSelector = ptr(sc.WaitSelector)
	}
	if req.WaitForSelectorState == nil && sc.WaitSelectorState != "" {
		req.WaitForSelectorState = ptr(sc.WaitSelectorState)
	}
	if req.TimeoutSeconds == nil && req.XWaitTime == nil && !sc.Timeout.IsZero() {
		secs := int(sc.Timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		req.TimeoutSeconds = ptr(secs)
	}
	if req.NetworkIdle == nil && sc.NetworkIdle != nil {
		req.NetworkIdle = ptr(*sc.NetworkIdle)
	}
	if req.ProfileMode == nil && req.XForceUserData == nil && sc.Profile != "" {
		req.ProfileMode = ptr(sc.Profile)
	}
}

func ptr[T any](v T) *T { return &v }
