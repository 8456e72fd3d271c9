package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Segment outcomes.
const (
	SegmentFetched = "fetched"
	SegmentCached  = "cached"
	SegmentFailed  = "failed"
	SegmentEmpty   = "empty"
)

// Metrics holds the ingest collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	segmentsTotal       *prometheus.CounterVec
	upstreamRequests    *prometheus.CounterVec
	upstreamDuration    prometheus.Histogram
	recordsTotal        prometheus.Counter
	rowsLoadedTotal     *prometheus.CounterVec
	loadMismatchesTotal prometheus.Counter
	runsTotal           *prometheus.CounterVec
	runDuration         prometheus.Histogram
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		segmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_history_segments_total",
			Help: "Fetch segments processed by outcome",
		}, []string{"outcome"}), // fetched, cached, failed, empty
		upstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_history_upstream_requests_total",
			Help: "Upstream HTTP requests by status code",
		}, []string{"code"}),
		upstreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_history_upstream_request_duration_seconds",
			Help:    "Latency of upstream HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		recordsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "weather_history_records_total",
			Help: "Normalized weather records produced",
		}),
		rowsLoadedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_history_rows_loaded_total",
			Help: "Rows written to the destination table by load path",
		}, []string{"path"}), // bulk, fallback
		loadMismatchesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "weather_history_load_mismatches_total",
			Help: "Bulk loads whose destination count differed from the staged count",
		}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_history_runs_total",
			Help: "Pipeline runs by terminal status",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "weather_history_run_duration_seconds",
			Help:    "Duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
	}
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SegmentDone(outcome string) {
	if m == nil {
		return
	}
	m.segmentsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) UpstreamRequest(code int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.upstreamRequests.WithLabelValues(label).Inc()
	m.upstreamDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordsProduced(n int) {
	if m == nil {
		return
	}
	m.recordsTotal.Add(float64(n))
}

func (m *Metrics) RowsLoaded(path string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsLoadedTotal.WithLabelValues(path).Add(float64(n))
}

func (m *Metrics) LoadMismatch() {
	if m == nil {
		return
	}
	m.loadMismatchesTotal.Inc()
}

func (m *Metrics) RunFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}
