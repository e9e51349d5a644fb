package proxy

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Default health settings.
const (
	DefaultFailureThreshold = 2
	DefaultCooldown         = 30 * time.Minute
)

// HealthRecord is a point-in-time copy of one proxy's health state.
type HealthRecord struct {
	Proxy               string    `json:"proxy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	UnhealthyUntil      time.Time `json:"unhealthy_until,omitzero"`
	Unhealthy           bool      `json:"unhealthy"`
}

type healthRecord struct {
	failures       int
	unhealthyUntil time.Time
}

// HealthTracker counts consecutive failures per proxy address and benches a
// proxy for a cooldown once the count reaches the threshold.
//
// When the cooldown runs out the proxy is offered again but its counter is
// kept, so a single further failure benches it again (half-open). Any
// success clears the record. The empty address stands for a direct
// connection and is never tracked.
type HealthTracker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *slog.Logger
	onChange  func(proxy string, unhealthy bool)

	mu      sync.Mutex
	records map[string]*healthRecord
}

// HealthOption configures a HealthTracker.
type HealthOption func(*HealthTracker)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) HealthOption {
	return func(t *HealthTracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithHealthLogger sets the logger used for bench and recovery messages.
func WithHealthLogger(logger *slog.Logger) HealthOption {
	return func(t *HealthTracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTransitionHook registers fn to be called, outside the lock, whenever a
// proxy is benched (unhealthy=true) or cleared by a success (unhealthy=false).
func WithTransitionHook(fn func(proxy string, unhealthy bool)) HealthOption {
	return func(t *HealthTracker) {
		t.onChange = fn
	}
}

// NewHealthTracker returns a tracker benching a proxy for cooldown after
// threshold consecutive failures. Non-positive arguments use the defaults.
func NewHealthTracker(threshold int, cooldown time.Duration, opts ...HealthOption) *HealthTracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	t := &HealthTracker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    slog.Default(),
		records:   make(map[string]*healthRecord),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkFailure records a failed attempt through proxy.
func (t *HealthTracker) MarkFailure(proxy string) {
	if proxy == "" {
		return
	}

	t.mu.Lock()
	rec, ok := t.records[proxy]
	if !ok {
		rec = &healthRecord{}
		t.records[proxy] = rec
	}
	rec.failures++
	benched := false
	if rec.failures >= t.threshold {
		rec.unhealthyUntil = t.now().Add(t.cooldown)
		benched = true
	}
	failures, until := rec.failures, rec.unhealthyUntil
	t.mu.Unlock()

	if benched {
		t.logger.Warn("proxy marked unhealthy",
			"proxy", proxy,
			"consecutive_failures", failures,
			"until", until.Format(time.RFC3339),
		)
		if t.onChange != nil {
			t.onChange(proxy, true)
		}
	}
}

// MarkSuccess clears any failure history for proxy.
func (t *HealthTracker) MarkSuccess(proxy string) {
	if proxy == "" {
		return
	}

	t.mu.Lock()
	rec, ok := t.records[proxy]
	wasBenched := ok && !rec.unhealthyUntil.IsZero()
	delete(t.records, proxy)
	t.mu.Unlock()

	if wasBenched {
		t.logger.Info("proxy recovered", "proxy", proxy)
		if t.onChange != nil {
			t.onChange(proxy, false)
		}
	}
}

// IsUnhealthy reports whether proxy is inside its cooldown window.
func (t *HealthTracker) IsUnhealthy(proxy string) bool {
	if proxy == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[proxy]
	return ok && rec.unhealthyUntil.After(t.now())
}

// Reset forgets every record.
func (t *HealthTracker) Reset() {
	t.mu.Lock()
	t.records = make(map[string]*healthRecord)
	t.mu.Unlock()
}

// Snapshot returns the current records sorted by proxy address.
func (t *HealthTracker) Snapshot() []HealthRecord {
	t.mu.Lock()
	now := t.now()
	out := make([]HealthRecord, 0, len(t.records))
	for addr, rec := range t.records {
		out = append(out, HealthRecord{
			Proxy:               addr,
			ConsecutiveFailures: rec.failures,
			UnhealthyUntil:      rec.unhealthyUntil,
			Unhealthy:           rec.unhealthyUntil.After(now),
		})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Proxy < out[j].Proxy })
	return out
}

// Threshold returns the configured failure threshold.
func (t *HealthTracker) Threshold() int { return t.threshold }

// Cooldown returns the configured cooldown.
func (t *HealthTracker) Cooldown() time.Duration { return t.cooldown }
