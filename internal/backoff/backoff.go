package backoff

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Default policy values.
const (
	DefaultBase   = 500 * time.Millisecond
	DefaultCap    = 5 * time.Second
	DefaultJitter = 250 * time.Millisecond
)

// Policy computes the delay before the next attempt as
//
//	min(Cap, Base * 2^attempt) + uniform(0, Jitter)
//
// A Policy is safe for concurrent use.
type Policy struct {
	base   time.Duration
	cap    time.Duration
	jitter time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a Policy.
type Option func(*Policy)

// WithJitter sets the upper bound of the random component. Zero disables it.
func WithJitter(d time.Duration) Option {
	return func(p *Policy) {
		if d >= 0 {
			p.jitter = d
		}
	}
}

// WithSeed makes the jitter sequence reproducible.
func WithSeed(seed uint64) Option {
	return func(p *Policy) {
		p.rnd = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New returns a policy growing from base up to limit. Non-positive values
// fall back to DefaultBase and DefaultCap; limit is raised to base when lower.
func New(base, limit time.Duration, opts ...Option) *Policy {
	if base <= 0 {
		base = DefaultBase
	}
	if limit <= 0 {
		limit = DefaultCap
	}
	if limit < base {
		limit = base
	}

	p := &Policy{
		base:   base,
		cap:    limit,
		jitter: DefaultJitter,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return p
}

// Delay returns the wait before the attempt following attempt index i (0-based).
// Negative indexes are treated as 0.
func (p *Policy) Delay(i int) time.Duration {
	return p.Exponential(i) + p.randomJitter()
}

// Exponential returns the deterministic part of Delay.
func (p *Policy) Exponential(i int) time.Duration {
	if i < 0 {
		i = 0
	}
	// 2^62 overflows int64 nanoseconds for any base; the cap has won long before.
	if i > 62 {
		return p.cap
	}
	d := retryablehttp.DefaultBackoff(p.base, p.cap, i, nil)
	if d <= 0 || d > p.cap {
		return p.cap
	}
	return d
}

func (p *Policy) randomJitter() time.Duration {
	if p.jitter <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rnd.Int64N(int64(p.jitter) + 1))
}

// Base returns the initial delay.
func (p *Policy) Base() time.Duration { return p.base }

// Cap returns the upper bound of the exponential part.
func (p *Policy) Cap() time.Duration { return p.cap }

// Jitter returns the upper bound of the random part.
func (p *Policy) Jitter() time.Duration { return p.jitter }
