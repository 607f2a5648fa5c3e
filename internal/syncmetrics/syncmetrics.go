// Package syncmetrics exposes the small set of Prometheus metrics the sync
// engine emits (spec component C9): counters for pulls/pushes/bytes
// transferred, a gauge for in-flight worker-pool activity, and histograms
// for push/pull latency. Scaled down from the teacher's own sprawling
// internal/metrics manager (deleted; see DESIGN.md) to the handful of series
// a sync engine actually needs.
package syncmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the interface internal/syncengine depends on, kept separate
// from *Metrics so tests can supply a no-op implementation without linking
// prometheus.
type Recorder interface {
	ObservePull(keys int, bytes int64, dur time.Duration)
	ObservePush(keys int, bytes int64, dur time.Duration, failed int)
	SetInflight(n int)
}

// Metrics is the prometheus-backed Recorder. Register it with a
// prometheus.Registerer (directly, or via internal/console's handler).
type Metrics struct {
	PullsTotal          prometheus.Counter
	PushesTotal         prometheus.Counter
	PushFailuresTotal   prometheus.Counter
	KeysPulledTotal     prometheus.Counter
	KeysPushedTotal     prometheus.Counter
	BytesUploadedTotal  prometheus.Counter
	BytesDownloadedTotal prometheus.Counter
	ThreadPoolInflight  prometheus.Gauge
	PushDuration        prometheus.Histogram
	PullDuration        prometheus.Histogram
}

// New constructs Metrics and registers every series with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PullsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebooklet_pulls_total", Help: "Total number of lazy-pull fetches from the remote.",
		}),
		PushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebooklet_pushes_total", Help: "Total number of push operations attempted.",
		}),
		PushFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebooklet_push_failures_total", Help: "Total number of keys that failed to upload during a push.",
		}),
		KeysPulledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebooklet_keys_pulled_total", Help: "Total number of keys refreshed from the remote.",
		}),
		KeysPushedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebooklet_keys_pushed_total", Help: "Total number of keys successfully uploaded to the remote.",
		}),
		BytesUploadedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebooklet_bytes_uploaded_total", Help: "Total bytes uploaded to the remote across all pushes.",
		}),
		BytesDownloadedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebooklet_bytes_downloaded_total", Help: "Total bytes downloaded from the remote across all pulls.",
		}),
		ThreadPoolInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ebooklet_thread_pool_inflight", Help: "Number of worker-pool fetch/upload goroutines currently running.",
		}),
		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ebooklet_push_duration_seconds", Help: "Duration of push operations.",
			Buckets: prometheus.DefBuckets,
		}),
		PullDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "ebooklet_pull_duration_seconds", Help: "Duration of lazy-pull fetches.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.PullsTotal, m.PushesTotal, m.PushFailuresTotal, m.KeysPulledTotal, m.KeysPushedTotal,
		m.BytesUploadedTotal, m.BytesDownloadedTotal, m.ThreadPoolInflight, m.PushDuration, m.PullDuration,
	)
	return m
}

func (m *Metrics) ObservePull(keys int, bytes int64, dur time.Duration) {
	m.PullsTotal.Inc()
	m.KeysPulledTotal.Add(float64(keys))
	m.BytesDownloadedTotal.Add(float64(bytes))
	m.PullDuration.Observe(dur.Seconds())
}

func (m *Metrics) ObservePush(keys int, bytes int64, dur time.Duration, failed int) {
	m.PushesTotal.Inc()
	m.KeysPushedTotal.Add(float64(keys))
	m.BytesUploadedTotal.Add(float64(bytes))
	m.PushFailuresTotal.Add(float64(failed))
	m.PushDuration.Observe(dur.Seconds())
}

func (m *Metrics) SetInflight(n int) {
	m.ThreadPoolInflight.Set(float64(n))
}

// Noop is a Recorder that discards everything, used where metrics are
// disabled.
type Noop struct{}

func (Noop) ObservePull(int, int64, time.Duration)      {}
func (Noop) ObservePush(int, int64, time.Duration, int) {}
func (Noop) SetInflight(int)                            {}
