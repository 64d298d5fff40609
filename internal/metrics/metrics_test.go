package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	ret := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		ret[f.GetName()] = f
	}
	return ret
}

func counterValue(t *testing.T, f *dto.MetricFamily, labels map[string]string) float64 {
	t.Helper()
	require.NotNil(t, f)
	for _, m := range f.GetMetric() {
		match := true
		for _, lp := range m.GetLabel() {
			if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
				match = false
			}
		}
		if match {
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("no series %v in %s", labels, f.GetName())
	return 0
}

func TestCollector_CacheAndTranslation(t *testing.T) {
	c := NewCollector()
	c.RecordCacheLookup("episode", true)
	c.RecordCacheLookup("episode", true)
	c.RecordCacheLookup("metadata", false)
	c.RecordTranslation("gpt", 12, nil)
	c.RecordTranslation("gpt", 3, errors.New("x"))

	families := gather(t, c)
	assert.Equal(t, 2.0, counterValue(t, families["autonovel_cache_lookups_total"], map[string]string{"unit": "episode", "result": "hit"}))
	assert.Equal(t, 1.0, counterValue(t, families["autonovel_cache_lookups_total"], map[string]string{"unit": "metadata", "result": "miss"}))
	assert.Equal(t, 1.0, counterValue(t, families["autonovel_engine_calls_total"], map[string]string{"engine": "gpt", "result": "error"}))
	assert.Equal(t, 15.0, counterValue(t, families["autonovel_engine_queries_total"], map[string]string{"engine": "gpt"}))
}

func TestCollector_Jobs(t *testing.T) {
	c := NewCollector()
	c.RecordJobEnqueued()
	c.RecordJobRejected("duplicate")
	c.RecordJobStarted()
	c.RecordJobStarted()
	c.RecordJobFinished("completed", 2*time.Second)

	families := gather(t, c)
	assert.Equal(t, 1.0, counterValue(t, families["autonovel_jobs_enqueued_total"], nil))
	assert.Equal(t, 1.0, counterValue(t, families["autonovel_jobs_rejected_total"], map[string]string{"reason": "duplicate"}))
	assert.Equal(t, 1.0, counterValue(t, families["autonovel_jobs_finished_total"], map[string]string{"outcome": "completed"}))

	running := families["autonovel_jobs_running"]
	require.NotNil(t, running)
	assert.Equal(t, 1.0, running.GetMetric()[0].GetGauge().GetValue())

	latency := families["autonovel_job_duration_seconds"]
	require.NotNil(t, latency)
	assert.Equal(t, uint64(1), latency.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.RecordJobEnqueued()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "autonovel_jobs_enqueued_total 1")
}
