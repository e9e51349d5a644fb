package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
)

// Client renders pages in Chromium through go-rod. Every Fetch starts its
// own browser process, because proxy, profile directory and headless mode
// are all fixed at launch.
type Client struct {
	bin    string
	flags  []string
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBin uses the Chromium binary at path instead of rod's managed download.
func WithBin(path string) Option {
	return func(c *Client) {
		c.bin = path
	}
}

// WithFlags adds command line flags to every launch, e.g. "--lang=en-US".
func WithFlags(flags ...string) Option {
	return func(c *Client) {
		c.flags = append(c.flags, flags...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns a browser client. No browser is started until Fetch.
func NewClient(opts ...Option) *Client {
	c := &Client{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcceptedParameters lists the optional parameters Fetch reads. Chromium has
// no geo-IP database, so geoip is not among them.
func (c *Client) AcceptedParameters() []string {
	return []string{
		fetch.ParamHeadless,
		fetch.ParamProxy,
		fetch.ParamPageAction,
		fetch.ParamAdditionalArgs,
		fetch.ProfileParamAliases[0],
	}
}

// Fetch launches a browser, navigates to url and returns the rendered DOM.
// The status is that of the main document response.
func (c *Client) Fetch(ctx context.Context, url string, args fetch.Args) (*fetch.Response, error) {
	ls, ps, err := decodeArgs(args, c.flags)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, ps.Timeout)
	defer cancel()

	b, cleanup, err := c.launch(ctx, ls)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, wrapErr(ctx, "open page", err)
	}
	page = page.Context(ctx)
	defer func() { _ = page.Close() }()

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, wrapErr(ctx, "enable network events", err)
	}

	var status atomic.Int64
	waitDocument := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument || e.Response == nil {
			return false
		}
		status.Store(int64(e.Response.Status))
		return true
	})
	documentSeen := make(chan struct{})
	go func() {
		waitDocument()
		close(documentSeen)
	}()

	if err := page.Navigate(url); err != nil {
		return nil, wrapErr(ctx, "navigate", err)
	}
	select {
	case <-documentSeen:
	case <-time.After(documentWait):
		c.logger.Debug("no document response seen", "url", url, "waited", documentWait)
	case <-ctx.Done():
		return nil, wrapErr(ctx, "navigate", ctx.Err())
	}

	if ps.NetworkIdle {
		err = page.WaitStable(stableWindow)
	} else {
		err = page.WaitLoad()
	}
	if err != nil {
		return nil, wrapErr(ctx, "wait for page", err)
	}

	if ps.WaitSelector != "" {
		if err := page.Wait(rod.Eval(waitScript(ps.WaitState), ps.WaitSelector)); err != nil {
			return nil, wrapErr(ctx, fmt.Sprintf("wait for %q to be %s", ps.WaitSelector, ps.WaitState), err)
		}
	}

	if ps.Action != nil {
		if err := ps.Action(ctx, page); err != nil {
			return nil, wrapErr(ctx, "page action", err)
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, wrapErr(ctx, "read html", err)
	}

	resp := &fetch.Response{Status: int(status.Load()), HTML: html, FinalURL: url}
	if info, err := page.Info(); err == nil {
		resp.FinalURL = info.URL
	}
	resp.Status = documentStatus(resp.Status)
	return resp, nil
}

// OpenInteractive opens a headful browser on profileDir at url and waits
// until the user closes every tab or ctx ends. It is how sign-ins get into
// the master profile.
func (c *Client) OpenInteractive(ctx context.Context, url, profileDir string) error {
	ls := launchSpec{
		Headless:   false,
		ProfileDir: profileDir,
		Flags:      parseFlags(c.flags),
	}
	b, cleanup, err := c.launch(ctx, ls)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := b.Page(proto.TargetCreateTarget{URL: url}); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	c.logger.Info("browser open; close it or press Ctrl+C to finish", "url", url, "profile", profileDir)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pages, err := b.Pages()
			if err != nil || len(pages) == 0 {
				return nil
			}
		}
	}
}

func (c *Client) launch(ctx context.Context, ls launchSpec) (*rod.Browser, func(), error) {
	l := launcher.New().Context(ctx).Headless(ls.Headless)
	if c.bin != "" {
		l = l.Bin(c.bin)
	}
	if ls.ProfileDir != "" {
		l = l.UserDataDir(ls.ProfileDir)
	}
	if ls.Proxy != nil {
		l = l.Proxy(ls.Proxy.Server)
	}
	for _, f := range ls.Flags {
		l = l.Set(flags.Flag(f.Name), f.Values...)
	}

	u, err := l.Launch()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, wrapErr(ctx, "launch browser", err)
		}
		// A browser that cannot start will not start on the next attempt either.
		return nil, nil, fetch.NewError(fetch.KindNonRetryable, fmt.Errorf("launch browser: %w", err))
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, nil, wrapErr(ctx, "connect to browser", err)
	}

	if p := ls.Proxy; p != nil && p.Username != "" {
		wait := b.HandleAuth(p.Username, p.Password)
		go func() { _ = wait() }()
	}

	cleanup := func() {
		_ = b.Close()
		l.Kill()
		// The launcher owns its temporary data dir; a profile dir belongs to the caller.
		if ls.ProfileDir == "" {
			l.Cleanup()
		}
	}
	c.logger.Debug("browser launched", "headless", ls.Headless, "proxy", proxyServer(ls.Proxy), "profile", ls.ProfileDir)
	return b, cleanup, nil
}

// wrapErr prefixes err with op and marks it as a timeout when ctx ran out.
func wrapErr(ctx context.Context, op string, err error) error {
	err = fmt.Errorf("%s: %w", op, err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fetch.NewError(fetch.KindTimeout, err)
	}
	return err
}

func proxyServer(p *proxySpec) string {
	if p == nil {
		return ""
	}
	return p.Server
}
