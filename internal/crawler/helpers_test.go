package crawler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// step is one scripted fetch outcome.
type step struct {
	status int
	length int
	html   string
	err    error
	panic  bool
}

func ok(n int) step { return step{status: 200, length: n} }
func status(code int) step { return step{status: code, length: 1000} }
func fails(err error) step { return step{err: err} }
func page(html string) step { return step{status: 200, html: html} }
func panics() step { return step{panic: true} }
func body(n int) string { return strings.Repeat("a", n) }
func errText(s string) error { return errors.New(s) }

// scriptedClient replays steps in order and records every call.
type scriptedClient struct {
	params []string
	steps  []step

	mu    sync.Mutex
	calls []fetch.Args
	urls  []string
}

func newScriptedClient(params []string, steps ...step) *scriptedClient {
	return &scriptedClient{params: params, steps: steps}
}

func (c *scriptedClient) AcceptedParameters() []string { return c.params }

func (c *scriptedClient) Fetch(_ context.Context, url string, args fetch.Args) (*fetch.Response, error) {
	c.mu.Lock()
	i := len(c.calls)
	c.calls = append(c.calls, args.Clone())
	c.urls = append(c.urls, url)
	c.mu.Unlock()

	if i >= len(c.steps) {
		return nil, errors.New("unexpected extra fetch call")
	}
	s := c.steps[i]
	switch {
	case s.panic:
		panic("client exploded")
	case s.err != nil:
		return nil, s.err
	}
	html := s.html
	if html == "" {
		html = body(s.length)
	}
	return &fetch.Response{Status: s.status, HTML: html, FinalURL: url}, nil
}

func (c *scriptedClient) Calls() []fetch.Args {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fetch.Args(nil), c.calls...)
}

// recordingSleeper records requested delays without sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// testConfig has deterministic backoff and no proxies.
func testConfig(attempts int) EngineConfig {
	return EngineConfig{
		Attempts:      attempts,
		BackoffBase:   100 * time.Millisecond,
		BackoffCap:    time.Second,
		BackoffJitter: 0,
		Defaults: Defaults{
			Timeout:          5 * time.Second,
			Headless:         true,
			MinContentLength: 500,
		},
	}
}

func newTestEngine(t *testing.T, client fetch.Client, cfg EngineConfig) (*Engine, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	e := NewEngine(client, cfg, WithLogger(discardLogger()), WithSleeper(sleeper.Sleep))
	return e, sleeper
}

func writeProxyList(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func ptr[T any](v T) *T { return &v }
