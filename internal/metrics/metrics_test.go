package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.JobFinished("succeeded")
	m.JobFinished("succeeded")
	m.JobFinished("failed")
	m.AddBytes(1024)
	m.AddBytes(-5)
	m.Retry("status_503")
	m.CacheLookup(CacheHit)
	m.CacheLookup(CacheMiss)
	m.CacheLookup(CacheMiss)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsTotal.WithLabelValues("failed")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.bytesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal.WithLabelValues("status_503")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues(CacheMiss)))
}

func TestMetrics_InProgress(t *testing.T) {
	m := New()

	m.JobStarted()
	m.JobStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.inProgress))

	m.JobDone()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inProgress))
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a, b := New(), New()
	a.JobFinished("failed")

	assert.Equal(t, 0.0, testutil.ToFloat64(b.jobsTotal.WithLabelValues("failed")))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.JobFinished("succeeded")
		m.AddBytes(10)
		m.Retry("timeout")
		m.CacheLookup(CacheHit)
		m.JobStarted()
		m.JobDone()
		m.ObserveFetch(time.Second)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.JobFinished("already_exists")
	m.ObserveFetch(250 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tdl_jobs_total{status="already_exists"} 1`)
	assert.Contains(t, string(body), "tdl_fetch_duration_seconds_count 1")
}
