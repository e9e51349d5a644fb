package proxy

import "errors"

// Address errors returned by NormalizeAddress.
var (
	// ErrEmptyAddress is returned for a blank proxy entry.
	ErrEmptyAddress = errors.New("empty proxy address")

	// ErrInvalidAddress is returned when an entry is not a usable proxy URL.
	ErrInvalidAddress = errors.New("invalid proxy address")
)

// Probe errors, one per failing ProbeStatus.
var (
	// ErrProbeWrongType is returned when the endpoint answers but does not
	// behave like the proxy type its scheme claims.
	ErrProbeWrongType = errors.New("endpoint does not speak the expected proxy protocol")

	// ErrProbeCannotConnect is returned when no TCP connection can be made.
	ErrProbeCannotConnect = errors.New("cannot connect to proxy")

	// ErrProbeTimeout is returned when the probe runs out of time.
	ErrProbeTimeout = errors.New("timeout probing proxy")
)
