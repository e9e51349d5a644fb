package model

// AttemptMode identifies the connection strategy of a single fetch attempt.
type AttemptMode int

const (
	// ModeDirect fetches without any proxy.
	ModeDirect AttemptMode = iota

	// ModePublicProxy routes the fetch through an entry of the public proxy list.
	ModePublicProxy

	// ModePrivateProxy routes the fetch through the operator's private proxy.
	ModePrivateProxy
)

// String returns the lower-case name of the mode as it appears in logs and reports.
func (m AttemptMode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModePublicProxy:
		return "public"
	case ModePrivateProxy:
		return "private"
	default:
		return "unknown"
	}
}

// Attempt is one planned fetch: a mode plus the proxy address it uses.
// Proxy is empty exactly when Mode is ModeDirect.
type Attempt struct {
	Mode  AttemptMode `json:"mode"`
	Proxy string      `json:"proxy,omitempty"`
}

// Direct returns a direct attempt.
func Direct() Attempt {
	return Attempt{Mode: ModeDirect}
}

// Public returns an attempt routed through a public proxy.
func Public(addr string) Attempt {
	return Attempt{Mode: ModePublicProxy, Proxy: addr}
}

// Private returns an attempt routed through the private proxy.
func Private(addr string) Attempt {
	return Attempt{Mode: ModePrivateProxy, Proxy: addr}
}

// IsDirect reports whether the attempt bypasses every proxy.
func (a Attempt) IsDirect() bool {
	return a.Mode == ModeDirect
}

// String renders the attempt for log lines, e.g. "public(http://10.0.0.1:8080)".
func (a Attempt) String() string {
	if a.IsDirect() {
		return a.Mode.String()
	}
	return a.Mode.String() + "(" + a.Proxy + ")"
}

// AttemptPlan is the ordered list of attempts executed for one crawl request.
// Its length always equals the attempt budget the plan was built for.
type AttemptPlan []Attempt

// Proxies returns the proxy addresses used by the plan, in order, with duplicates kept.
func (p AttemptPlan) Proxies() []string {
	out := make([]string, 0, len(p))
	for _, a := range p {
		if !a.IsDirect() {
			out = append(out, a.Proxy)
		}
	}
	return out
}

// HasDirect reports whether at least one attempt in the plan is direct.
func (p AttemptPlan) HasDirect() bool {
	for _, a := range p {
		if a.IsDirect() {
			return true
		}
	}
	return false
}
