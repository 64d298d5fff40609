// Package metrics exposes cache, translation and ledger activity to
// Prometheus. The collector owns its registry so tests and several
// processes never collide on the default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autonovel"

// Collector implements the cache, translator and jobs recorder interfaces.
type Collector struct {
	registry *prometheus.Registry

	cacheLookups    *prometheus.CounterVec
	engineCalls     *prometheus.CounterVec
	translatedLines *prometheus.CounterVec

	jobsEnqueued prometheus.Counter
	jobsRejected *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobLatency   prometheus.Histogram
	jobsInFlight prometheus.Gauge
}

func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Content cache lookups by unit and result",
		}, []string{"unit", "result"}),
		engineCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_calls_total",
			Help:      "Translation engine calls by engine and result",
		}, []string{"engine", "result"}),
		translatedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_queries_total",
			Help:      "Strings sent to translation engines",
		}, []string{"engine"}),
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Total number of update jobs enqueued",
		}),
		jobsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_rejected_total",
			Help:      "Update jobs refused at enqueue, by reason",
		}, []string{"reason"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Update jobs finished, by outcome",
		}, []string{"outcome"}),
		jobLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Update job run time",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Update jobs currently running in this process",
		}),
	}

	c.registry.MustRegister(
		c.cacheLookups,
		c.engineCalls,
		c.translatedLines,
		c.jobsEnqueued,
		c.jobsRejected,
		c.jobsFinished,
		c.jobLatency,
		c.jobsInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordCacheLookup(unit string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(unit, result).Inc()
}

func (c *Collector) RecordTranslation(engine string, queries int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.engineCalls.WithLabelValues(engine, result).Inc()
	c.translatedLines.WithLabelValues(engine).Add(float64(queries))
}

func (c *Collector) RecordJobEnqueued() {
	c.jobsEnqueued.Inc()
}

func (c *Collector) RecordJobRejected(reason string) {
	c.jobsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordJobStarted() {
	c.jobsInFlight.Inc()
}

func (c *Collector) RecordJobFinished(outcome string, elapsed time.Duration) {
	c.jobsInFlight.Dec()
	c.jobsFinished.WithLabelValues(outcome).Inc()
	c.jobLatency.Observe(elapsed.Seconds())
}
