package fetch

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind classifies fetch failures for retry decisions.
type ErrorKind int

const (
	// KindUnknown is any failure without a more specific class. It is retried.
	KindUnknown ErrorKind = iota
	// KindTimeout means the navigation or the dispatch ran out of time. It is retried.
	KindTimeout
	// KindGeoDatabaseMissing means the client could not load its geo-IP database.
	// The attempt is repeated once without the geoip parameter.
	KindGeoDatabaseMissing
	// KindNonRetryable means no other attempt can succeed, e.g. a malformed URL
	// or a missing browser binary.
	KindNonRetryable
)

// String returns the lower-case name used in failure reasons.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindGeoDatabaseMissing:
		return "geoip database missing"
	case KindNonRetryable:
		return "non-retryable"
	default:
		return "unknown"
	}
}

// Error is the typed error fetch clients return.
type Error struct {
	Kind ErrorKind
	Err  error
}

// NewError wraps err with kind.
func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Sentinels for building typed errors.
var (
	// ErrGeoDatabaseMissing is the canonical geo-IP database failure.
	ErrGeoDatabaseMissing = errors.New("geoip database missing or invalid")

	// ErrNoResponse is returned by clients that completed without a response.
	ErrNoResponse = errors.New("fetch returned no response")
)

// geoMarkers identify geo-IP database failures in untyped vendor error text.
var geoMarkers = []string{"geoip", "geolite", "mmdb", "maxmind"}

// Classify returns the kind of err. Typed *Error values win; otherwise
// deadline and timeout errors map to KindTimeout and vendor text mentioning a
// geo-IP database maps to KindGeoDatabaseMissing.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrGeoDatabaseMissing) {
		return KindGeoDatabaseMissing
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, m := range geoMarkers {
		if strings.Contains(msg, m) {
			return KindGeoDatabaseMissing
		}
	}
	return KindUnknown
}
