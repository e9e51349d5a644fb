package fetch

import (
	"slices"
	"strings"
)

// Capabilities is the negotiated set of parameters a client accepts.
// It is built once by Negotiate and never modified afterwards, so copies
// can be passed around freely.
type Capabilities struct {
	accepted     map[string]struct{}
	profileParam string
}

// Negotiate asks client which parameters it accepts. Clients that do not
// implement ParameterDescriber get CoreParams only.
func Negotiate(client any) Capabilities {
	names := slices.Clone(CoreParams)
	if d, ok := client.(ParameterDescriber); ok {
		names = append(names, d.AcceptedParameters()...)
	}
	return NewCapabilities(names...)
}

// NewCapabilities builds a capability set from parameter names. Core
// parameters are always included.
func NewCapabilities(names ...string) Capabilities {
	c := Capabilities{accepted: make(map[string]struct{}, len(names)+len(CoreParams))}
	for _, n := range CoreParams {
		c.accepted[n] = struct{}{}
	}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			c.accepted[n] = struct{}{}
		}
	}
	for _, alias := range ProfileParamAliases {
		if _, ok := c.accepted[alias]; ok {
			c.profileParam = alias
			break
		}
	}
	return c
}

// Supports reports whether the client accepts name.
func (c Capabilities) Supports(name string) bool {
	_, ok := c.accepted[name]
	return ok
}

// ProfileParam returns the first supported profile alias, or "" when the
// client cannot take a profile directory.
func (c Capabilities) ProfileParam() string {
	return c.profileParam
}

// SupportsProfile reports whether any profile alias is accepted.
func (c Capabilities) SupportsProfile() bool {
	return c.profileParam != ""
}

// Names returns the accepted parameter names in sorted order.
func (c Capabilities) Names() []string {
	out := make([]string, 0, len(c.accepted))
	for n := range c.accepted {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
