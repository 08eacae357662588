// Package metrics holds the Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync outcomes recorded per subscription.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics holds all collectors. A nil *Metrics records nothing.
type Metrics struct {
	SyncRuns            *prometheus.CounterVec
	SyncDuration        prometheus.Histogram
	SubscriptionsSynced *prometheus.CounterVec
	VideosDiscovered    prometheus.Counter
	FilesMissing        prometheus.Counter
	DownloadsQueued     prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers the collectors on a fresh registry, together
// with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubevore_sync_runs_total",
				Help: "Synchronization runs, by target kind and result.",
			},
			[]string{"target", "result"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tubevore_sync_duration_seconds",
				Help:    "Duration of synchronization runs.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		SubscriptionsSynced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubevore_subscriptions_synced_total",
				Help: "Subscriptions processed by synchronization, by outcome.",
			},
			[]string{"outcome"},
		),
		VideosDiscovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tubevore_videos_discovered_total",
				Help: "New videos stored by synchronization.",
			},
		),
		FilesMissing: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tubevore_downloaded_files_missing_total",
				Help: "Downloaded files found missing on disk.",
			},
		),
		DownloadsQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tubevore_downloads_queued_total",
				Help: "Download requests queued by download rules.",
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SyncRuns,
		m.SyncDuration,
		m.SubscriptionsSynced,
		m.VideosDiscovered,
		m.FilesMissing,
		m.DownloadsQueued,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(target string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SyncRuns.WithLabelValues(target, result).Inc()
	m.SyncDuration.Observe(d.Seconds())
}

// SubscriptionDone records one subscription's outcome.
func (m *Metrics) SubscriptionDone(outcome string) {
	if m == nil {
		return
	}
	m.SubscriptionsSynced.WithLabelValues(outcome).Inc()
}

// Discovered adds newly stored videos.
func (m *Metrics) Discovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.VideosDiscovered.Add(float64(n))
}

// FileMissing counts one missing download.
func (m *Metrics) FileMissing() {
	if m == nil {
		return
	}
	m.FilesMissing.Inc()
}

// Queued adds queued download requests.
func (m *Metrics) Queued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DownloadsQueued.Add(float64(n))
}
