package model

import (
	"strings"
	"time"
)

// WaitState is the condition a wait selector must reach before the page is captured.
type WaitState string

const (
	// WaitAttached waits until the element exists in the DOM.
	WaitAttached WaitState = "attached"
	// WaitDetached waits until the element is removed from the DOM.
	WaitDetached WaitState = "detached"
	// WaitVisible waits until the element is rendered and visible.
	WaitVisible WaitState = "visible"
	// WaitHidden waits until the element is hidden or absent.
	WaitHidden WaitState = "hidden"
)

// DefaultWaitState is used whenever a selector is given without a valid state.
const DefaultWaitState = WaitAttached

// ParseWaitState parses s case-insensitively. ok is false for unknown values.
func ParseWaitState(s string) (WaitState, bool) {
	switch WaitState(strings.ToLower(strings.TrimSpace(s))) {
	case WaitAttached:
		return WaitAttached, true
	case WaitDetached:
		return WaitDetached, true
	case WaitVisible:
		return WaitVisible, true
	case WaitHidden:
		return WaitHidden, true
	default:
		return "", false
	}
}

// ProfileMode selects how a crawl uses the persisted browser profile.
type ProfileMode int

const (
	// ProfileNone runs with a throwaway browser profile.
	ProfileNone ProfileMode = iota
	// ProfileRead runs on a disposable clone of the master profile.
	ProfileRead
	// ProfileWrite runs on the master profile under the exclusive write lock.
	ProfileWrite
)

// String returns "none", "read" or "write".
func (m ProfileMode) String() string {
	switch m {
	case ProfileRead:
		return "read"
	case ProfileWrite:
		return "write"
	default:
		return "none"
	}
}

// ParseProfileMode parses "read", "write", "none" or "". ok is false for other values.
func ParseProfileMode(s string) (ProfileMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ProfileNone, true
	case "read":
		return ProfileRead, true
	case "write":
		return ProfileWrite, true
	default:
		return ProfileNone, false
	}
}

// CrawlOptions is the fully resolved, immutable configuration of one crawl request.
// It is passed by value so no executor can alter the caller's copy.
type CrawlOptions struct {
	URL               string
	WaitSelector      string
	WaitSelectorState WaitState
	Timeout           time.Duration
	NetworkIdle       bool
	Headless          bool
	MinContentLength  int
	Profile           ProfileMode
}

// CrawlRequest carries the raw caller fields before resolution.
// A nil pointer means the caller did not set the field. The X-prefixed
// fields are deprecated aliases kept for older callers.
type CrawlRequest struct {
	URL string `json:"url"`

	WaitForSelector      *string `json:"wait_for_selector,omitempty"`
	WaitForSelectorState *string `json:"wait_for_selector_state,omitempty"`
	TimeoutSeconds       *int    `json:"timeout_seconds,omitempty"`
	NetworkIdle          *bool   `json:"network_idle,omitempty"`
	ForceHeadful         *bool   `json:"force_headful,omitempty"`
	ProfileMode          *string `json:"profile_mode,omitempty"`

	XWaitForSelector *string `json:"x_wait_for_selector,omitempty"`
	XWaitTime        *int    `json:"x_wait_time,omitempty"`
	XForceHeadful    *bool   `json:"x_force_headful,omitempty"`
	XForceUserData   *bool   `json:"x_force_user_data,omitempty"`
}
