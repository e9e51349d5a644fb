package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultGrace is added to each call's timeout before the caller gives up.
// It lets a client that honours its own timeout report the error itself.
const DefaultGrace = 2 * time.Second

var (
	// ErrTimeout is returned when a call did not finish within its bound.
	// It wraps context.DeadlineExceeded.
	ErrTimeout = fmt.Errorf("dispatch timed out: %w", context.DeadlineExceeded)

	// ErrPanic is returned when the dispatched function panicked.
	ErrPanic = errors.New("dispatched call panicked")
)

// Pool runs blocking calls on a bounded set of goroutines separate from the
// caller. A call that outlives its timeout is abandoned by the caller but
// keeps its slot until it actually returns, so the pool never runs more than
// its size at once.
type Pool struct {
	sem      *semaphore.Weighted
	size     int
	grace    time.Duration
	logger   *slog.Logger
	inFlight atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(p *Pool) {
		if d >= 0 {
			p.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool returns a pool running at most size calls concurrently.
// Sizes below one become one.
func NewPool(size int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		grace:  DefaultGrace,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of calls currently holding a slot.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

type outcome[T any] struct {
	val T
	err error
}

// Do runs fn on p and waits for it at most timeout plus the pool's grace.
// Waiting for a free slot counts against the same bound. A non-positive
// timeout waits for ctx only. fn receives a context cancelled when the
// bound expires or ctx is done.
func Do[T any](ctx context.Context, p *Pool, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout+p.grace)
	}

	if err := p.sem.Acquire(callCtx, 1); err != nil {
		cancel()
		return zero, p.waitErr(ctx, timeout)
	}
	p.inFlight.Add(1)

	done := make(chan outcome[T], 1)
	go func() {
		defer cancel()
		defer p.sem.Release(1)
		defer p.inFlight.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("dispatched call panicked", "panic", r)
				done <- outcome[T]{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()

		v, err := fn(callCtx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-callCtx.Done():
		// fn may have finished in the same instant.
		select {
		case out := <-done:
			return out.val, out.err
		default:
		}
		p.logger.Warn("abandoning dispatched call", "timeout", timeout, "error", callCtx.Err())
		return zero, p.waitErr(ctx, timeout)
	}
}

func (p *Pool) waitErr(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w after %v", ErrTimeout, timeout+p.grace)
}
