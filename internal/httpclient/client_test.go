package httpclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tudragon154203/scrapling-fastapi-sub002/internal/fetch"
)

func TestAcceptedParameters(t *testing.T) {
	t.Parallel()

	caps := fetch.Negotiate(NewClient())
	if !caps.Supports(fetch.ParamProxy) {
		t.Error("proxy should be supported")
	}
	for _, p := range []string{fetch.ParamHeadless, fetch.ParamGeoIP, fetch.ParamPageAction} {
		if caps.Supports(p) {
			t.Errorf("%s should not be supported", p)
		}
	}
	if caps.SupportsProfile() {
		t.Error("plain HTTP has no browser profile")
	}
}

func TestFetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if got := r.Header.Get("User-Agent"); got != "scrapling-test" {
				http.Error(w, "bad agent "+got, http.StatusBadRequest)
				return
			}
			_, _ = io.WriteString(w, "<html><body>hello</body></html>")
		case "/old":
			http.Redirect(w, r, "/ok", http.StatusFound)
		case "/unavailable":
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		case "/slow":
			time.Sleep(500 * time.Millisecond)
			_, _ = io.WriteString(w, "late")
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(WithUserAgent("scrapling-test"))

	t.Run("returns body and status", func(t *testing.T) {
		t.Parallel()

		resp, err := client.Fetch(context.Background(), srv.URL+"/ok", fetch.Args{fetch.ParamTimeout: 5 * time.Second})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if resp.Status != http.StatusOK || !strings.Contains(resp.HTML, "hello") {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("follows redirects", func(t *testing.T) {
		t.Parallel()

		resp, err := client.Fetch(context.Background(), srv.URL+"/old", fetch.Args{})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if resp.Status != http.StatusOK || !strings.Contains(resp.HTML, "hello") {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("non-200 is a response, not an error", func(t *testing.T) {
		t.Parallel()

		resp, err := client.Fetch(context.Background(), srv.URL+"/unavailable", fetch.Args{})
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if resp.Status != http.StatusServiceUnavailable {
			t.Errorf("Status = %d, want 503", resp.Status)
		}
	})

	t.Run("timeout is classified", func(t *testing.T) {
		t.Parallel()

		_, err := client.Fetch(context.Background(), srv.URL+"/slow", fetch.Args{fetch.ParamTimeout: 50 * time.Millisecond})
		if err == nil {
			t.Fatal("expected timeout error")
		}
		if fetch.Classify(err) != fetch.KindTimeout {
			t.Errorf("Classify = %v, err = %v", fetch.Classify(err), err)
		}
	})

	t.Run("same URL can be fetched again", func(t *testing.T) {
		t.Parallel()

		for i := range 2 {
			if _, err := client.Fetch(context.Background(), srv.URL+"/ok", fetch.Args{}); err != nil {
				t.Fatalf("fetch %d: %v", i, err)
			}
		}
	})
}

func TestFetchThroughProxy(t *testing.T) {
	t.Parallel()

	var sawAbsolute atomic.Bool
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A forward proxy receives the absolute target URL.
		sawAbsolute.Store(r.URL.IsAbs() && r.URL.Host == "target.invalid")
		_, _ = io.WriteString(w, "<html>via proxy</html>")
	}))
	t.Cleanup(proxySrv.Close)

	resp, err := NewClient().Fetch(context.Background(), "http://target.invalid/page", fetch.Args{
		fetch.ParamProxy: proxySrv.URL,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !sawAbsolute.Load() {
		t.Error("request did not go through the proxy")
	}
	if !strings.Contains(resp.HTML, "via proxy") {
		t.Errorf("HTML = %q", resp.HTML)
	}
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient().Fetch(context.Background(), addr, fetch.Args{fetch.ParamTimeout: time.Second})
	if err == nil {
		t.Fatal("expected connection error")
	}
	if kind := fetch.Classify(err); kind != fetch.KindUnknown {
		t.Errorf("refused connection should be retryable unknown, got %v", kind)
	}
}

func TestFetchCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := NewClient().Fetch(ctx, srv.URL, fetch.Args{fetch.ParamTimeout: 5 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
