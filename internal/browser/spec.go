package browser

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

// DefaultTimeout applies when the call carries no timeout.
const DefaultTimeout = 30 * time.Second

// stableWindow is how long the DOM must stay unchanged for network_idle.
const stableWindow = 500 * time.Millisecond

// documentWait bounds the wait for the main document response after
// navigation. Pages served from cache or a service worker never emit one.
const documentWait = 5 * time.Second

// documentStatus maps a missing document status (no response event within
// documentWait) to 200; the page still rendered.
func documentStatus(status int) int {
	if status == 0 {
		return 200
	}
	return status
}

// launchSpec is everything that must be fixed when the browser process starts.
type launchSpec struct {
	Headless   bool
	ProfileDir string
	Proxy      *proxySpec
	Flags      []flag
}

// pageSpec is everything applied to the page of one navigation.
type pageSpec struct {
	WaitSelector string
	WaitState    model.WaitState
	Timeout      time.Duration
	NetworkIdle  bool
	Action       fetch.PageAction
}

type proxySpec struct {
	// Server is the --proxy-server value without credentials.
	Server   string
	Username string
	Password string
}

type flag struct {
	Name   string
	Values []string
}

// decodeArgs splits a fetch call's args into launch and page settings.
// base flags come first so per-call flags override them.
func decodeArgs(args fetch.Args, base []string) (launchSpec, pageSpec, error) {
	ls := launchSpec{Headless: true, ProfileDir: args.ProfilePath()}
	if h, ok := args.Bool(fetch.ParamHeadless); ok {
		ls.Headless = h
	}

	if raw := args.String(fetch.ParamProxy); raw != "" {
		p, err := parseProxy(raw)
		if err != nil {
			return ls, pageSpec{}, err
		}
		ls.Proxy = p
	}

	ls.Flags = mergeFlags(parseFlags(base), parseFlags(args.Strings(fetch.ParamAdditionalArgs)))

	ps := pageSpec{
		WaitSelector: args.String(fetch.ParamWaitSelector),
		Timeout:      args.Duration(fetch.ParamTimeout),
		Action:       args.PageAction(),
	}
	if ps.Timeout <= 0 {
		ps.Timeout = DefaultTimeout
	}
	if idle, ok := args.Bool(fetch.ParamNetworkIdle); ok {
		ps.NetworkIdle = idle
	}
	if ps.WaitSelector != "" {
		state, ok := model.ParseWaitState(args.String(fetch.ParamWaitSelectorState))
		if !ok {
			state = model.DefaultWaitState
		}
		ps.WaitState = state
	}
	return ls, ps, nil
}

// parseProxy accepts http, https, socks4 and socks5 URLs, or a bare
// host:port meaning http. Chromium cannot take credentials on the command
// line, so they are split off for the auth handler.
func parseProxy(raw string) (*proxySpec, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fetch.NewError(fetch.KindNonRetryable, fmt.Errorf("invalid proxy %q: %w", raw, err))
	}
	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return nil, fetch.NewError(fetch.KindNonRetryable, fmt.Errorf("unsupported proxy scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, fetch.NewError(fetch.KindNonRetryable, fmt.Errorf("invalid proxy %q: missing host", raw))
	}

	p := &proxySpec{Server: u.Scheme + "://" + u.Host}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// parseFlags turns "--name=value", "--name" and "name=value" into flags.
// Comma separated values are split the way Chromium reads them.
func parseFlags(raw []string) []flag {
	out := make([]flag, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimLeft(strings.TrimSpace(r), "-")
		if r == "" {
			continue
		}
		name, value, hasValue := strings.Cut(r, "=")
		f := flag{Name: name}
		if hasValue && value != "" {
			f.Values = strings.Split(value, ",")
		}
		out = append(out, f)
	}
	return out
}

// mergeFlags appends override to base, replacing base flags of the same name.
func mergeFlags(base, override []flag) []flag {
	out := make([]flag, 0, len(base)+len(override))
	idx := make(map[string]int, len(base)+len(override))
	for _, list := range [][]flag{base, override} {
		for _, f := range list {
			if i, ok := idx[f.Name]; ok {
				out[i] = f
				continue
			}
			idx[f.Name] = len(out)
			out = append(out, f)
		}
	}
	return out
}

// visibleJS matches Playwright's notion of a visible element: it has a box
// and is not visibility:hidden.
const visibleJS = `(el.offsetWidth > 0 || el.offsetHeight > 0 || el.getClientRects().length > 0) &&
	getComputedStyle(el).visibility !== 'hidden'`

// waitScript returns a JS predicate taking the selector that is true once
// the element reaches state.
func waitScript(state model.WaitState) string {
	var cond string
	switch state {
	case model.WaitDetached:
		cond = "el === null"
	case model.WaitVisible:
		cond = "el !== null && " + visibleJS
	case model.WaitHidden:
		cond = "el === null || !(" + visibleJS + ")"
	default:
		cond = "el !== null"
	}
	return "(sel) => { const el = document.querySelector(sel); return " + cond + "; }"
}
