package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.ObserveRun("all", time.Second, nil)
	m.ObserveRun("all", time.Second, errors.New("x"))
	m.SubscriptionDone(OutcomeOK)
	m.SubscriptionDone(OutcomeFailed)
	m.SubscriptionDone(OutcomeFailed)
	m.Discovered(3)
	m.Discovered(0)

	if got := testutil.ToFloat64(m.SyncRuns.WithLabelValues("all", "error")); got != 1 {
		t.Errorf("error runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SubscriptionsSynced.WithLabelValues(OutcomeFailed)); got != 2 {
		t.Errorf("failed subscriptions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.VideosDiscovered); got != 3 {
		t.Errorf("discovered = %v, want 3", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveRun("all", time.Second, nil)
	m.SubscriptionDone(OutcomeOK)
	m.Discovered(1)
	m.FileMissing()
	m.Queued(1)
}

func TestHandler(t *testing.T) {
	m := New()
	m.Discovered(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "tubevore_videos_discovered_total 2") {
		t.Errorf("metrics output missing discovered counter:\n%s", body)
	}
}
