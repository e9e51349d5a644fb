package fetch

import (
	"context"
	"maps"
	"time"
)

// Parameter names understood by fetch clients.
const (
	ParamWaitSelector      = "wait_selector"
	ParamWaitSelectorState = "wait_selector_state"
	ParamTimeout           = "timeout"
	ParamNetworkIdle       = "network_idle"
	ParamHeadless          = "headless"
	ParamProxy             = "proxy"
	ParamGeoIP             = "geoip"
	ParamPageAction        = "page_action"
	ParamAdditionalArgs    = "additional_args"
)

// ProfileParamAliases are the names a client may use for the browser profile
// directory, in order of preference.
var ProfileParamAliases = []string{"user_data_dir", "profile_dir", "profile_path"}

// CoreParams are sent to every client whether or not it describes itself.
var CoreParams = []string{ParamWaitSelector, ParamWaitSelectorState, ParamTimeout, ParamNetworkIdle}

// Response is what a client returns for a completed navigation.
type Response struct {
	Status   int
	HTML     string
	FinalURL string
}

// PageAction runs site-specific interaction on the live page before capture.
// page is the client's native page handle; for the browser client it is a *rod.Page.
type PageAction func(ctx context.Context, page any) error

// Client fetches a rendered page. Implementations report transport and
// browser failures as errors, ideally *Error so callers can classify them;
// a completed navigation with a non-200 status is a Response, not an error.
type Client interface {
	Fetch(ctx context.Context, url string, args Args) (*Response, error)
}

// ParameterDescriber is implemented by clients that list the optional
// parameters they accept.
type ParameterDescriber interface {
	AcceptedParameters() []string
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, url string, args Args) (*Response, error)

// Fetch calls f.
func (f ClientFunc) Fetch(ctx context.Context, url string, args Args) (*Response, error) {
	return f(ctx, url, args)
}

// Args is the parameter set of one fetch call.
type Args map[string]any

// Clone returns a shallow copy.
func (a Args) Clone() Args {
	return maps.Clone(a)
}

// Without returns a copy without key.
func (a Args) Without(key string) Args {
	out := a.Clone()
	delete(out, key)
	return out
}

// Has reports whether key is present.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// String returns the string under key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Bool returns the bool under key and whether it was a bool.
func (a Args) Bool(key string) (value, ok bool) {
	value, ok = a[key].(bool)
	return value, ok
}

// Duration returns the duration under key. Integer values are read as milliseconds.
func (a Args) Duration(key string) time.Duration {
	switch v := a[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	default:
		return 0
	}
}

// Strings returns the string slice under key.
func (a Args) Strings(key string) []string {
	switch v := a[key].(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// PageAction returns the page action under ParamPageAction, or nil.
func (a Args) PageAction() PageAction {
	act, _ := a[ParamPageAction].(PageAction)
	return act
}

// ProfilePath returns the profile directory under whichever alias is set.
func (a Args) ProfilePath() string {
	for _, alias := range ProfileParamAliases {
		if p := a.String(alias); p != "" {
			return p
		}
	}
	return ""
}
