package fetch

import (
	"context"
	"log/slog"
	"slices"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/log"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// Request is everything the composer needs for one attempt.
type Request struct {
	Options     model.CrawlOptions
	Proxy       string
	ExtraArgs   Args
	ProfilePath string
	PageAction  PageAction
}

// Invoker performs the actual fetch with composed args.
type Invoker func(ctx context.Context, args Args) (*Response, error)

// Composer turns crawl options into an Args set the negotiated client accepts.
// Parameters the client does not accept are dropped and reported once per
// composer at Warn level.
type Composer struct {
	caps   Capabilities
	logger *slog.Logger
	once   *log.Once
}

// NewComposer returns a composer for caps.
func NewComposer(caps Capabilities, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{caps: caps, logger: logger, once: log.NewOnce(logger)}
}

// Capabilities returns the capability set the composer filters against.
func (c *Composer) Capabilities() Capabilities {
	return c.caps
}

// Compose builds the argument set for one attempt.
//
// Timeout and network idle are always set. The selector and its state are
// set when a selector was requested. Proxy is set only for proxied attempts,
// geoip whenever the client knows it. The profile path goes under the
// client's preferred alias. Extra args pass through when accepted, except
// for keys the composer manages itself, which are dropped.
func (c *Composer) Compose(r Request) Args {
	opts := r.Options
	args := Args{
		ParamTimeout:     opts.Timeout,
		ParamNetworkIdle: opts.NetworkIdle,
	}
	if opts.WaitSelector != "" {
		args[ParamWaitSelector] = opts.WaitSelector
		state := opts.WaitSelectorState
		if state == "" {
			state = model.DefaultWaitState
		}
		args[ParamWaitSelectorState] = string(state)
	}

	c.put(args, ParamHeadless, opts.Headless)
	if r.Proxy != "" {
		c.put(args, ParamProxy, r.Proxy)
	}
	if c.caps.Supports(ParamGeoIP) {
		args[ParamGeoIP] = true
	}
	if r.PageAction != nil {
		c.put(args, ParamPageAction, r.PageAction)
	}

	if r.ProfilePath != "" {
		if alias := c.caps.ProfileParam(); alias != "" {
			args[alias] = r.ProfilePath
		} else {
			c.unsupported("user_data_dir")
		}
	}

	for k, v := range r.ExtraArgs {
		if managedParam(k) {
			c.once.Warn("managed:"+k, "extra argument overrides a managed parameter, ignoring it", "param", k)
			continue
		}
		c.put(args, k, v)
	}
	return args
}

// managedParam reports whether key is set only by Compose itself.
func managedParam(key string) bool {
	switch key {
	case ParamHeadless, ParamProxy, ParamGeoIP, ParamPageAction:
		return true
	}
	return slices.Contains(CoreParams, key) || slices.Contains(ProfileParamAliases, key)
}

func (c *Composer) put(args Args, key string, value any) {
	if !c.caps.Supports(key) {
		c.unsupported(key)
		return
	}
	args[key] = value
}

func (c *Composer) unsupported(key string) {
	c.once.Warn("unsupported:"+key, "fetch client does not support parameter, omitting it", "param", key)
}

// Call runs invoke with args. When the call fails because the geo-IP
// database is unavailable and args carried geoip, it is repeated exactly once
// without geoip and that second outcome is returned as is. fallback reports
// whether the second call happened.
func (c *Composer) Call(ctx context.Context, args Args, invoke Invoker) (resp *Response, fallback bool, err error) {
	resp, err = invoke(ctx, args)
	if err == nil || !args.Has(ParamGeoIP) || Classify(err) != KindGeoDatabaseMissing {
		return resp, false, err
	}

	c.logger.Warn("geoip database unavailable, retrying attempt without geoip", "error", err)
	resp, err = invoke(ctx, args.Without(ParamGeoIP))
	return resp, true, err
}
