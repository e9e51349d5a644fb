// Package backoff computes capped exponential delays with additive jitter
// between fetch attempts.
package backoff
