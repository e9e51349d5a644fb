package crawler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/model"
)

func crawl(t *testing.T, e *Engine, url string) model.CrawlResult {
	t.Helper()
	res, err := e.Crawl(context.Background(), model.CrawlRequest{URL: url})
	if err != nil {
		t.Fatalf("Crawl returned error: %v", err)
	}
	return res
}

func TestRetryingExecutor(t *testing.T) {
	t.Parallel()

	t.Run("budget one succeeds on the first direct fetch", func(t *testing.T) {
		t.Parallel()

		client := newScriptedClient(nil, ok(600))
		e, sleeper := newTestEngine(t, client, testConfig(1))

		res := crawl(t, e, "https://example.com")

		if !res.Succeeded() {
			t.Fatalf("expected success, got %q", res.Reason)
		}
		if res.HTML != body(600) {
			t.Errorf("HTML length = %d, want 600", len(res.HTML))
		}
		if got := len(client.Calls()); got != 1 {
			t.Errorf("fetch calls = %d, want 1", got)
		}
		if len(sleeper.Delays()) != 0 {
			t.Errorf("single executor slept: %v", sleeper.Delays())
		}
		if _, isSingle := e.Executor().(*SingleAttemptExecutor); !isSingle {
			t.Errorf("budget 1 should use SingleAttemptExecutor, got %T", e.Executor())
		}
	})

	t.Run("short content is retried after backoff", func(t *testing.T) {
		t.Parallel()

		client := newScriptedClient(nil, ok(100), ok(800))
		e, sleeper := newTestEngine(t, client, testConfig(3))

		res := crawl(t, e, "https://example.com")

		if !res.Succeeded() {
			t.Fatalf("expected success, got %q", res.Reason)
		}
		if got := len(client.Calls()); got != 2 {
			t.Errorf("fetch calls = %d, want 2", got)
		}
		if len(res.Attempts) != 2 {
			t.Fatalf("attempt reports = %d, want 2", len(res.Attempts))
		}
		if got := res.Attempts[0].Reason; got != "content too short (<500 chars)" {
			t.Errorf("first reason = %q", got)
		}
		if got := sleeper.Delays(); !slices.Equal(got, []time.Duration{100 * time.Millisecond}) {
			t.Errorf("delays = %v", got)
		}
	})

	t.Run("exhausted budget returns the last failure", func(t *testing.T) {
		t.Parallel()

		client := newScriptedClient(nil, status(503), status(503), status(503))
		e, sleeper := newTestEngine(t, client, testConfig(3))

		res := crawl(t, e, "https://example.com")

		if res.Succeeded() {
			t.Fatal("expected failure")
		}
		if res.Reason != "non-200 status: 503" {
			t.Errorf("reason = %q", res.Reason)
		}
		if res.HTML != "" {
			t.Error("failed result must not carry HTML")
		}
		if got := len(client.Calls()); got != 3 {
			t.Errorf("fetch calls = %d, want 3", got)
		}
		want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
		if got := sleeper.Delays(); !slices.Equal(got, want) {
			t.Errorf("delays = %v, want %v", got, want)
		}
	})

	t.Run("stops calling after the first success", func(t *testing.T) {
		t.Parallel()

		failures := []step{status(500), ok(10), fails(errText("connection reset")), status(403)}
		const budget = 5

		for k := 0; k < budget; k++ {
			t.Run(fmt.Sprintf("first success at %d", k), func(t *testing.T) {
				t.Parallel()

				steps := append(slices.Clone(failures[:k]), ok(900))
				client := newScriptedClient(nil, steps...)
				e, sleeper := newTestEngine(t, client, testConfig(budget))

				res := crawl(t, e, "https://example.com")

				if !res.Succeeded() {
					t.Fatalf("expected success, got %q", res.Reason)
				}
				if got := len(client.Calls()); got != k+1 {
					t.Errorf("fetch calls = %d, want %d", got, k+1)
				}
				if got := len(sleeper.Delays()); got != k {
					t.Errorf("sleeps = %d, want %d", got, k)
				}
			})
		}
	})

	t.Run("non-retryable errors end the loop", func(t *testing.T) {
		t.Parallel()

		client := newScriptedClient(nil,
			status(503),
			fails(fetch.NewError(fetch.KindNonRetryable, errText("browser executable not found"))),
			ok(900),
		)
		e, sleeper := newTestEngine(t, client, testConfig(4))

		res := crawl(t, e, "https://example.com")

		if res.Succeeded() {
			t.Fatal("expected failure")
		}
		if got := len(client.Calls()); got != 2 {
			t.Errorf("fetch calls = %d, want 2", got)
		}
		if got := len(sleeper.Delays()); got != 1 {
			t.Errorf("sleeps = %d, want 1", got)
		}
		if !strings.Contains(res.Reason, "non-retryable") {
			t.Errorf("reason = %q", res.Reason)
		}
	})

	t.Run("cancelled context ends the loop", func(t *testing.T) {
		t.Parallel()

		client := newScriptedClient(nil, status(503), ok(900))
		ctx, cancel := context.WithCancel(context.Background())
		sleeper := func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}
		e := NewEngine(client, testConfig(3), WithLogger(discardLogger()), WithSleeper(sleeper))

		res, err := e.Crawl(ctx, model.CrawlRequest{URL: "https://example.com"})
		if err != nil {
			t.Fatal(err)
		}
		if res.Succeeded() {
			t.Fatal("expected failure")
		}
		if res.Reason != "cancelled: context canceled" {
			t.Errorf("reason = %q", res.Reason)
		}
		if got := len(client.Calls()); got != 1 {
			t.Errorf("fetch calls = %d, want 1", got)
		}
	})
}

func TestRetryingExecutor_FailureReasons(t *testing.T) {
	t.Parallel()

	t.Run("fetch errors are classified", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			step step
			want string
		}{
			{
				name: "timeout",
				step: fails(fetch.NewError(fetch.KindTimeout, errText("navigation took too long"))),
				want: "fetch error (timeout): ",
			},
			{
				name: "deadline",
				step: fails(context.DeadlineExceeded),
				want: "fetch error (timeout): ",
			},
			{
				name: "unknown",
				step: fails(errText("net::ERR_CONNECTION_REFUSED")),
				want: "fetch error (unknown): net::ERR_CONNECTION_REFUSED",
			},
			{
				name: "panic",
				step: panics(),
				want: "fetch error (unknown): dispatched call panicked",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				client := newScriptedClient(nil, tt.step)
				e, _ := newTestEngine(t, client, testConfig(1))

				res := crawl(t, e, "https://example.com")
				if res.Succeeded() {
					t.Fatal("expected failure")
				}
				if !strings.HasPrefix(res.Reason, tt.want) {
					t.Errorf("reason = %q, want prefix %q", res.Reason, tt.want)
				}
			})
		}
	})

	t.Run("challenge pages fail the attempt", func(t *testing.T) {
		t.Parallel()

		challenge := `<html><head><title>Just a moment...</title></head><body>` + body(600) + `</body></html>`
		real := `<html><head><title>Shop</title></head><body>` + body(600) + `</body></html>`

		cfg := testConfig(2)
		cfg.DetectChallenges = true
		client := newScriptedClient(nil, page(challenge), page(real))
		e, _ := newTestEngine(t, client, cfg)

		res := crawl(t, e, "https://example.com")
		if !res.Succeeded() {
			t.Fatalf("expected success, got %q", res.Reason)
		}
		if got := res.Attempts[0].Reason; !strings.HasPrefix(got, "bot challenge detected: ") {
			t.Errorf("first reason = %q", got)
		}

		cfg.DetectChallenges = false
		client = newScriptedClient(nil, page(challenge))
		e, _ = newTestEngine(t, client, cfg)
		if res := crawl(t, e, "https://example.com"); !res.Succeeded() {
			t.Errorf("detection disabled should accept the page, got %q", res.Reason)
		}
	})

	t.Run("invalid urls never reach the client", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			url  string
			want string
		}{
			{url: "", want: "invalid url: empty"},
			{url: "   ", want: "invalid url: empty"},
			{url: "ftp://example.com", want: `invalid url: unsupported scheme "ftp"`},
			{url: "https://", want: "invalid url: missing host"},
		}

		for _, tt := range tests {
			t.Run(tt.want, func(t *testing.T) {
				t.Parallel()

				client := newScriptedClient(nil)
				e, _ := newTestEngine(t, client, testConfig(3))

				res := crawl(t, e, tt.url)
				if res.Succeeded() || res.Reason != tt.want {
					t.Errorf("result = %+v, want failure %q", res, tt.want)
				}
				if len(client.Calls()) != 0 {
					t.Error("invalid URL must not reach the client")
				}
			})
		}
	})
}

func TestRetryingExecutor_GeoIP(t *testing.T) {
	t.Parallel()

	t.Run("geo database errors repeat the attempt without geoip", func(t *testing.T) {
		t.Parallel()

		geoTyped := fetch.NewError(fetch.KindGeoDatabaseMissing, fetch.ErrGeoDatabaseMissing)
		geoText := errText("failed to open GeoLite2-City.mmdb: no such file")

		tests := []struct {
			name        string
			steps       []step
			wantSuccess bool
			wantCalls   int
			wantReports int
		}{
			{
				name:        "typed error then success",
				steps:       []step{fails(geoTyped), ok(800)},
				wantSuccess: true,
				wantCalls:   2,
				wantReports: 1,
			},
			{
				name:        "vendor text then success",
				steps:       []step{fails(geoText), ok(800)},
				wantSuccess: true,
				wantCalls:   2,
				wantReports: 1,
			},
			{
				name:        "fallback fails and next attempt succeeds",
				steps:       []step{fails(geoTyped), status(503), ok(800)},
				wantSuccess: true,
				wantCalls:   3,
				wantReports: 2,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				client := newScriptedClient([]string{fetch.ParamGeoIP}, tt.steps...)
				e, _ := newTestEngine(t, client, testConfig(3))

				res := crawl(t, e, "https://example.com")

				if res.Succeeded() != tt.wantSuccess {
					t.Fatalf("success = %v, reason %q", res.Succeeded(), res.Reason)
				}
				calls := client.Calls()
				if len(calls) != tt.wantCalls {
					t.Fatalf("fetch calls = %d, want %d", len(calls), tt.wantCalls)
				}
				if len(res.Attempts) != tt.wantReports {
					t.Fatalf("attempt reports = %d, want %d", len(res.Attempts), tt.wantReports)
				}
				if !calls[0].Has(fetch.ParamGeoIP) {
					t.Error("first call should carry geoip")
				}
				if calls[1].Has(fetch.ParamGeoIP) {
					t.Error("fallback call must omit geoip")
				}
				first := res.Attempts[0]
				if first.Index != 0 || !first.GeoFallback {
					t.Errorf("first report = %+v, want index 0 with geo fallback", first)
				}
			})
		}
	})

	t.Run("geo errors without geoip are plain failures", func(t *testing.T) {
		t.Parallel()

		client := newScriptedClient(nil, fails(fetch.NewError(fetch.KindGeoDatabaseMissing, nil)), ok(800))
		e, _ := newTestEngine(t, client, testConfig(2))

		res := crawl(t, e, "https://example.com")
		if !res.Succeeded() {
			t.Fatalf("expected success, got %q", res.Reason)
		}
		if res.Attempts[0].GeoFallback {
			t.Error("no fallback without a geoip capability")
		}
		if len(res.Attempts) != 2 {
			t.Errorf("attempt reports = %d, want 2", len(res.Attempts))
		}
	})
}

func TestRetryingExecutor_Arguments(t *testing.T) {
	t.Parallel()

	t.Run("proxy attempts update health", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(4)
		cfg.ProxyListPath = writeProxyList(t, "# public", "p1.example:8080", "http://p2.example:8080")
		cfg.FailureThreshold = 2

		client := newScriptedClient([]string{fetch.ParamProxy}, status(503), status(503), ok(900))
		e, _ := newTestEngine(t, client, cfg)

		res := crawl(t, e, "https://example.com")
		if !res.Succeeded() {
			t.Fatalf("expected success, got %q", res.Reason)
		}

		calls := client.Calls()
		wantProxies := []string{"", "http://p1.example:8080", "http://p2.example:8080"}
		for i, want := range wantProxies {
			if got := calls[i].String(fetch.ParamProxy); got != want {
				t.Errorf("call %d proxy = %q, want %q", i, got, want)
			}
		}

		snap := e.Tracker().Snapshot()
		if len(snap) != 1 || snap[0].Proxy != "http://p1.example:8080" || snap[0].ConsecutiveFailures != 1 {
			t.Errorf("tracker snapshot = %+v, want one failure on p1", snap)
		}
	})

	t.Run("proxy benched mid plan is skipped", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(5)
		cfg.ProxyListPath = writeProxyList(t, "http://p1.example:8080")
		cfg.FailureThreshold = 1

		// Plan: direct, p1, p1, p1, direct. p1 is benched after its first failure.
		client := newScriptedClient([]string{fetch.ParamProxy}, status(503), status(503), ok(900))
		e, sleeper := newTestEngine(t, client, cfg)

		res := crawl(t, e, "https://example.com")
		if !res.Succeeded() {
			t.Fatalf("expected success, got %q", res.Reason)
		}
		if got := len(client.Calls()); got != 3 {
			t.Errorf("fetch calls = %d, want 3", got)
		}
		if got := res.Executed(); got != 3 {
			t.Errorf("executed = %d, want 3", got)
		}
		if len(res.Attempts) != 5 {
			t.Fatalf("reports = %d, want 5", len(res.Attempts))
		}
		for _, i := range []int{2, 3} {
			if !res.Attempts[i].Skipped {
				t.Errorf("attempt %d should be skipped: %+v", i, res.Attempts[i])
			}
		}
		if !res.Attempts[4].Attempt.IsDirect() {
			t.Errorf("last attempt = %v, want direct", res.Attempts[4].Attempt)
		}
		if got := len(sleeper.Delays()); got != 2 {
			t.Errorf("sleeps = %d, want 2", got)
		}
		if !e.Tracker().IsUnhealthy("http://p1.example:8080") {
			t.Error("p1 should be unhealthy")
		}
	})

	t.Run("composed arguments reach the client", func(t *testing.T) {
		t.Parallel()

		client := newScriptedClient([]string{fetch.ParamHeadless, fetch.ParamAdditionalArgs, fetch.ParamPageAction}, ok(900))
		cfg := testConfig(1)
		cfg.ExtraArgs = fetch.Args{fetch.ParamAdditionalArgs: []string{"--lang=en"}, "humanize": true}
		e, _ := newTestEngine(t, client, cfg)

		action := fetch.PageAction(func(context.Context, any) error { return nil })
		_, err := e.Crawl(context.Background(), model.CrawlRequest{
			URL:             "https://example.com",
			WaitForSelector: ptr("#main"),
			TimeoutSeconds:  ptr(12),
			ForceHeadful:    ptr(true),
		}, WithPageAction(action))
		if err != nil {
			t.Fatal(err)
		}

		args := client.Calls()[0]
		if got := args.String(fetch.ParamWaitSelector); got != "#main" {
			t.Errorf("wait_selector = %q", got)
		}
		if got := args.String(fetch.ParamWaitSelectorState); got != "attached" {
			t.Errorf("wait_selector_state = %q", got)
		}
		if got := args.Duration(fetch.ParamTimeout); got != 12*time.Second {
			t.Errorf("timeout = %v", got)
		}
		if headless, _ := args.Bool(fetch.ParamHeadless); headless {
			t.Error("headful request should send headless=false")
		}
		if got := args.Strings(fetch.ParamAdditionalArgs); !slices.Equal(got, []string{"--lang=en"}) {
			t.Errorf("additional_args = %v", got)
		}
		if args.PageAction() == nil {
			t.Error("page action not passed through")
		}
		if args.Has("humanize") || args.Has(fetch.ParamProxy) || args.Has(fetch.ParamGeoIP) {
			t.Errorf("unsupported params leaked: %v", args)
		}
	})
}
