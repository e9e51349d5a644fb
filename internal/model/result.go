package model

import (
	"fmt"
	"time"
)

// Outcome is the terminal state of a crawl or of a single attempt.
type Outcome int

const (
	// OutcomeFailure means no attempt produced acceptable content.
	OutcomeFailure Outcome = iota
	// OutcomeSuccess means an attempt returned status 200 with enough content.
	OutcomeSuccess
)

// String returns "success" or "failure".
func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// MarshalText encodes the outcome as its string form for JSON reports.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes "success" or "failure".
func (o *Outcome) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*o = OutcomeSuccess
	case "failure":
		*o = OutcomeFailure
	default:
		return fmt.Errorf("unknown outcome %q", string(text))
	}
	return nil
}

// AttemptReport records what happened during one executed or skipped attempt.
type AttemptReport struct {
	Index       int           `json:"index"`
	Attempt     Attempt       `json:"attempt"`
	Outcome     Outcome       `json:"outcome"`
	Status      int           `json:"status,omitempty"`
	Length      int           `json:"length,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Skipped     bool          `json:"skipped,omitempty"`
	GeoFallback bool          `json:"geoip_fallback,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
}

// CrawlResult is the single value returned to the caller for every crawl request.
// HTML is set only on success. Reason is set only on failure and carries the
// reason of the last executed attempt.
type CrawlResult struct {
	URL      string          `json:"url"`
	Outcome  Outcome         `json:"outcome"`
	HTML     string          `json:"html,omitempty"`
	Status   int             `json:"status,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Attempts []AttemptReport `json:"attempts,omitempty"`
}

// Succeeded reports whether the crawl returned usable content.
func (r CrawlResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Executed returns the number of attempts that actually invoked the fetch client.
func (r CrawlResult) Executed() int {
	n := 0
	for _, a := range r.Attempts {
		if !a.Skipped {
			n++
		}
	}
	return n
}

// NewFailure returns a failed result for url with the given reason.
func NewFailure(url, reason string) CrawlResult {
	return CrawlResult{URL: url, Outcome: OutcomeFailure, Reason: reason}
}
