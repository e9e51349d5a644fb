package config

import "errors"

// Validation errors returned by Config.Validate. Callers match them with
// errors.Is; some are wrapped with the offending value.
var (
	// ErrInvalidAttempts is returned when the attempt budget is below one.
	ErrInvalidAttempts = errors.New("invalid attempts: must be at least 1")

	// ErrInvalidTimeout is returned when the fetch timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidBackoff is returned for negative backoff values or a cap
	// below the base.
	ErrInvalidBackoff = errors.New("invalid backoff: values must be non-negative and cap must not be below base")

	// ErrInvalidRotation is returned for a rotation other than sequential or random.
	ErrInvalidRotation = errors.New("invalid rotation: must be sequential or random")

	// ErrInvalidReuse is returned for a proxy reuse policy other than cycle or none.
	ErrInvalidReuse = errors.New("invalid proxy reuse: must be cycle or none")

	// ErrInvalidThreshold is returned when the failure threshold is below one.
	ErrInvalidThreshold = errors.New("invalid failure threshold: must be at least 1")

	// ErrInvalidCooldown is returned when the unhealthy cooldown is not positive.
	ErrInvalidCooldown = errors.New("invalid unhealthy cooldown: must be positive")

	// ErrInvalidMinLength is returned for a negative minimum HTML length.
	ErrInvalidMinLength = errors.New("invalid minimum HTML length: must be non-negative")

	// ErrInvalidWorkers is returned when fetch workers or batch size is below one.
	ErrInvalidWorkers = errors.New("invalid concurrency: fetch workers and batch size must be at least 1")

	// ErrInvalidClient is returned for an unknown fetch client name.
	ErrInvalidClient = errors.New("invalid client: must be browser or http")

	// ErrConflictingPrivateProxy is returned when both --tor and a private
	// proxy are set; Tor takes the private proxy slot.
	ErrConflictingPrivateProxy = errors.New("conflicting private proxy: --tor and --private-proxy cannot be used together")
)
