package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveRequest("retrying", "success", time.Second)
	m.ObserveAttempt("direct", "failure", time.Second, true)
	m.ObserveSkip("public")
	m.ObserveBackoff(time.Second)
	m.ProxyTransition("http://p:1", true)
	m.ProfileSession("read", "ok")
	m.CloneAdded(1)
	if m.Registry() != nil {
		t.Error("nil metrics should have nil registry")
	}
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")); err != nil {
		t.Errorf("WriteTextfile on nil: %v", err)
	}
}

func TestMetricsRecord(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveAttempt("public", "failure", 2*time.Second, false)
	m.ObserveAttempt("public", "failure", time.Second, true)
	m.ObserveAttempt("direct", "success", time.Second, false)
	m.ObserveSkip("public")
	m.ProxyTransition("http://p:1", true)
	m.ProxyTransition("http://p:1", false)
	m.ProfileSession("write", "locked")
	m.CloneAdded(2)
	m.CloneAdded(-1)

	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("public", "failure")); got != 2 {
		t.Errorf("public failures = %v", got)
	}
	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("public", "skipped")); got != 1 {
		t.Errorf("skipped = %v", got)
	}
	if got := testutil.ToFloat64(m.GeoFallbacks); got != 1 {
		t.Errorf("geo fallbacks = %v", got)
	}
	if got := testutil.ToFloat64(m.ProxyTransitions.WithLabelValues("unhealthy")); got != 1 {
		t.Errorf("unhealthy transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.ProfileSessions.WithLabelValues("write", "locked")); got != 1 {
		t.Errorf("locked sessions = %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveClones); got != 1 {
		t.Errorf("active clones = %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveRequest("single", "success", time.Second)

	path := filepath.Join(t.TempDir(), "scrapling.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `scrapling_requests_total{executor="single",outcome="success"} 1`) {
		t.Errorf("unexpected textfile:\n%s", data)
	}
}
