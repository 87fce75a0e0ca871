// Package metrics exposes Prometheus counters for the download pipeline.
//
// Each Metrics value owns its own registry, so several pipelines (or tests)
// can run in one process without colliding on metric names. All methods are
// safe on a nil receiver, which disables recording.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "tdl"

// Cache lookup results.
const (
	CacheHit         = "hit"
	CacheMiss        = "miss"
	CacheRevalidated = "revalidated"
	CacheError       = "error"
	CacheBypass      = "bypass"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	Registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	bytesTotal    prometheus.Counter
	retriesTotal  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	inProgress    prometheus.Gauge
	fetchDuration prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
//
// Registered metrics:
//   - tdl_jobs_total{status}: finished jobs by outcome
//   - tdl_bytes_total: stream bytes written to disk
//   - tdl_retries_total{reason}: retries by failure class
//   - tdl_cache_lookups_total{result}: cache lookups by result
//   - tdl_jobs_in_progress: jobs currently owned by a worker
//   - tdl_fetch_duration_seconds: wall time of a stream fetch
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}

	m.jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Finished download jobs by outcome.",
		},
		[]string{"status"},
	)
	m.bytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_total",
		Help:      "Stream bytes written to disk.",
	})
	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Request retries by failure class.",
		},
		[]string{"reason"},
	)
	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		},
		[]string{"result"},
	)
	m.inProgress = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_in_progress",
		Help:      "Jobs currently being fetched or finalized.",
	})
	// 100ms to ~7min
	m.fetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Wall time of one stream fetch including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 13),
	})

	m.Registry.MustRegister(
		m.jobsTotal,
		m.bytesTotal,
		m.retriesTotal,
		m.cacheLookups,
		m.inProgress,
		m.fetchDuration,
	)
	return m
}

// JobFinished counts a job that reached a terminal status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(status).Inc()
}

// AddBytes adds to the written byte counter.
func (m *Metrics) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTotal.Add(float64(n))
}

// Retry counts one retry with the given reason.
func (m *Metrics) Retry(reason string) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(reason).Inc()
}

// CacheLookup counts one cache lookup result.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// JobStarted and JobDone must be paired.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.inProgress.Inc()
}

func (m *Metrics) JobDone() {
	if m == nil {
		return
	}
	m.inProgress.Dec()
}

// ObserveFetch records a fetch duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
