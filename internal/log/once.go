package log

import (
	"log/slog"
	"sync"
)

// Once emits a log line at most once per key. It is safe for concurrent use.
// The zero value is not usable; create one with NewOnce.
type Once struct {
	logger *slog.Logger
	seen   sync.Map
}

// NewOnce returns a Once writing to logger, or slog.Default() when nil.
func NewOnce(logger *slog.Logger) *Once {
	if logger == nil {
		logger = slog.Default()
	}
	return &Once{logger: logger}
}

// Warn logs msg at Warn level the first time key is seen and reports whether it did.
func (o *Once) Warn(key, msg string, args ...any) bool {
	if _, loaded := o.seen.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	o.logger.Warn(msg, args...)
	return true
}

// Info is Warn at Info level.
func (o *Once) Info(key, msg string, args ...any) bool {
	if _, loaded := o.seen.LoadOrStore(key, struct{}{}); loaded {
		return false
	}
	o.logger.Info(msg, args...)
	return true
}
