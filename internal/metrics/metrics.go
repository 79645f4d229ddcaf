// Package metrics exports ingestion counters and histograms in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"billingest/internal/services"
)

const namespace = "billingest"

// Collector records workflow events. It satisfies workflow.Observer.
type Collector struct {
	registry *prometheus.Registry

	dispatched    prometheus.Counter
	skipped       *prometheus.CounterVec
	processed     prometheus.Counter
	rows          prometheus.Counter
	failed        *prometheus.CounterVec
	fileDuration  prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
	inFlight      prometheus.Gauge
}

// New registers every metric on a private registry along with the Go and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_dispatched_total",
			Help:      "Files placed on the dispatch queue.",
		}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Files not processed, by reason.",
		}, []string{"reason"}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Files that completed every pipeline step.",
		}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_ingested_total",
			Help:      "Rows written to the store.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Files whose pipeline failed, by error kind.",
		}, []string{"kind"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Wall time to process one file.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline step.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Files waiting on the dispatch queue.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "files_in_flight",
			Help:      "Files queued or being processed.",
		}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.dispatched, c.skipped, c.processed, c.rows, c.failed,
		c.fileDuration, c.stageDuration, c.queueDepth, c.inFlight,
	)
	return c
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) FileDispatched() { c.dispatched.Inc() }

func (c *Collector) FileSkipped(reason string) { c.skipped.WithLabelValues(reason).Inc() }

func (c *Collector) FileProcessed(rows int64, elapsed time.Duration) {
	c.processed.Inc()
	c.rows.Add(float64(rows))
	c.fileDuration.Observe(elapsed.Seconds())
}

func (c *Collector) FileFailed(kind services.Kind) { c.failed.WithLabelValues(string(kind)).Inc() }

func (c *Collector) StageCompleted(stage string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.stageDuration.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}

func (c *Collector) QueueDepth(depth, inFlight int) {
	c.queueDepth.Set(float64(depth))
	c.inFlight.Set(float64(inFlight))
}
