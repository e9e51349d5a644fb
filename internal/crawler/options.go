package crawler

import (
	"strings"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// Defaults are the process-wide values a request falls back to.
type Defaults struct {
	Timeout          time.Duration
	NetworkIdle      bool
	Headless         bool
	MinContentLength int
}

// Default option values.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultMinContentLength = 500
)

// DefaultDefaults returns headless, 30 second, 500 character defaults.
func DefaultDefaults() Defaults {
	return Defaults{
		Timeout:          DefaultTimeout,
		Headless:         true,
		MinContentLength: DefaultMinContentLength,
	}
}

// OptionsResolver turns a raw CrawlRequest into CrawlOptions.
type OptionsResolver struct {
	defaults Defaults
}

// NewOptionsResolver returns a resolver over d. Non-positive numbers in d
// are replaced by the package defaults.
func NewOptionsResolver(d Defaults) *OptionsResolver {
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.MinContentLength < 0 {
		d.MinContentLength = 0
	}
	return &OptionsResolver{defaults: d}
}

// Defaults returns the resolver's defaults.
func (r *OptionsResolver) Defaults() Defaults {
	return r.defaults
}

// Resolve merges req over the defaults. A new-style field wins over its
// deprecated alias, which wins over the default. Unknown or unparsable
// values fall back silently; Resolve never fails.
func (r *OptionsResolver) Resolve(req model.CrawlRequest) model.CrawlOptions {
	d := r.defaults
	opts := model.CrawlOptions{
		URL:              strings.TrimSpace(req.URL),
		Timeout:          d.Timeout,
		NetworkIdle:      d.NetworkIdle,
		Headless:         d.Headless,
		MinContentLength: d.MinContentLength,
	}

	opts.WaitSelector = firstString(req.WaitForSelector, req.XWaitForSelector)
	if opts.WaitSelector != "" {
		opts.WaitSelectorState = model.DefaultWaitState
		if req.WaitForSelectorState != nil {
			if state, ok := model.ParseWaitState(*req.WaitForSelectorState); ok {
				opts.WaitSelectorState = state
			}
		}
	}

	if secs, ok := firstPositive(req.TimeoutSeconds, req.XWaitTime); ok {
		opts.Timeout = time.Duration(secs) * time.Second
	}

	if req.NetworkIdle != nil {
		opts.NetworkIdle = *req.NetworkIdle
	}

	switch {
	case req.ForceHeadful != nil:
		opts.Headless = !*req.ForceHeadful
	case req.XForceHeadful != nil:
		opts.Headless = !*req.XForceHeadful
	}

	opts.Profile = resolveProfile(req)
	return opts
}

func resolveProfile(req model.CrawlRequest) model.ProfileMode {
	if req.ProfileMode != nil {
		if mode, ok := model.ParseProfileMode(*req.ProfileMode); ok && strings.TrimSpace(*req.ProfileMode) != "" {
			return mode
		}
	}
	if req.XForceUserData != nil && *req.XForceUserData {
		return model.ProfileRead
	}
	return model.ProfileNone
}

func firstString(values ...*string) string {
	for _, v := range values {
		if v == nil {
			continue
		}
		if s := strings.TrimSpace(*v); s != "" {
			return s
		}
	}
	return ""
}

func firstPositive(values ...*int) (int, bool) {
	for _, v := range values {
		if v != nil && *v > 0 {
			return *v, true
		}
	}
	return 0, false
}
