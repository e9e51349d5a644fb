package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func quietPool(size int, grace time.Duration) *Pool {
	return NewPool(size, WithGrace(grace), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestDo_ReturnsResult(t *testing.T) {
	t.Parallel()

	p := quietPool(2, 0)
	got, err := Do(t.Context(), p, time.Second, func(context.Context) (string, error) {
		return "html", nil
	})
	if err != nil || got != "html" {
		t.Fatalf("got %q, %v", got, err)
	}

	wantErr := errors.New("boom")
	_, err = Do(t.Context(), p, time.Second, func(context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}
}

func TestDo_TimesOut(t *testing.T) {
	t.Parallel()

	p := quietPool(1, 10*time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Do(t.Context(), p, 20*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("caller waited %v", elapsed)
	}
}

func TestDo_AbandonedCallKeepsSlot(t *testing.T) {
	t.Parallel()

	p := quietPool(1, 0)
	release := make(chan struct{})

	_, err := Do(t.Context(), p, 10*time.Millisecond, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if p.InFlight() != 1 {
		t.Fatalf("InFlight() = %d, abandoned call should still hold its slot", p.InFlight())
	}

	_, err = Do(t.Context(), p, 10*time.Millisecond, func(context.Context) (int, error) { return 2, nil })
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("a full pool should time out the next caller, got %v", err)
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for p.InFlight() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	got, err := Do(t.Context(), p, time.Second, func(context.Context) (int, error) { return 3, nil })
	if err != nil || got != 3 {
		t.Fatalf("pool did not recover: %d, %v", got, err)
	}
}

func TestDo_FunctionSeesCancellation(t *testing.T) {
	t.Parallel()

	p := quietPool(1, 0)
	saw := make(chan struct{})
	_, _ = Do(t.Context(), p, 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		close(saw)
		return 0, ctx.Err()
	})

	select {
	case <-saw:
	case <-time.After(time.Second):
		t.Fatal("fn never observed cancellation")
	}
}

func TestDo_CallerContextCancelled(t *testing.T) {
	t.Parallel()

	p := quietPool(1, 0)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := Do(ctx, p, time.Second, func(context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDo_RecoversPanic(t *testing.T) {
	t.Parallel()

	p := quietPool(1, 0)
	_, err := Do(t.Context(), p, time.Second, func(context.Context) (int, error) {
		panic("browser crashed")
	})
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("expected ErrPanic, got %v", err)
	}
	if got, err := Do(t.Context(), p, time.Second, func(context.Context) (int, error) { return 1, nil }); err != nil || got != 1 {
		t.Fatalf("pool unusable after panic: %v", err)
	}
}

func TestDo_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	const size = 3
	p := quietPool(size, 0)

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Do(t.Context(), p, 5*time.Second, func(context.Context) (int, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return 0, nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > size {
		t.Fatalf("peak concurrency %d exceeds pool size %d", peak.Load(), size)
	}
}
