package redispoco

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const prometheusNamespace = "redispoco"

// PrometheusMetrics implements the Metrics interface using Prometheus
type PrometheusMetrics struct {
	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
// If registry is nil, a fresh registry is created
func NewPrometheusMetrics(registry *prometheus.Registry) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	pm := &PrometheusMetrics{
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		registry:   registry,
	}

	pm.registerDefaultMetrics()
	return pm
}

// registerDefaultMetrics registers the metrics the Store emits.
// Every Store metric carries a single "namespace" label.
func (p *PrometheusMetrics) registerDefaultMetrics() {
	labels := []string{"namespace"}
	factory := promauto.With(p.registry)

	counter := func(name, subsystem, promName, help string) {
		p.counters[name] = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: prometheusNamespace,
			Subsystem: subsystem,
			Name:      promName,
			Help:      help,
		}, labels)
	}
	counter(MetricGetSuccess, "get", "success_total", "Total number of successful record reads")
	counter(MetricGetError, "get", "errors_total", "Total number of failed record reads")
	counter(MetricPutSuccess, "put", "success_total", "Total number of committed record writes")
	counter(MetricPutError, "put", "errors_total", "Total number of record writes failed by storage")
	counter(MetricPutRejected, "put", "rejected_total", "Total number of records rejected by validation")
	counter(MetricRemoveSuccess, "remove", "success_total", "Total number of committed record removals")
	counter(MetricRemoveError, "remove", "errors_total", "Total number of failed record removals")
	counter(MetricFilterSuccess, "filter", "success_total", "Total number of evaluated filters")
	counter(MetricFilterError, "filter", "errors_total", "Total number of failed filters")
	counter(MetricDerivedSets, "filter", "derived_sets_total", "Total number of union/intersection sets materialized")

	duration := func(name, subsystem, help string) {
		p.histograms[name] = factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prometheusNamespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      help,
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, labels)
	}
	duration(MetricGetDuration, "get", "Record read duration in seconds")
	duration(MetricPutDuration, "put", "Record write duration in seconds")
	duration(MetricRemoveDuration, "remove", "Record removal duration in seconds")
	duration(MetricFilterDuration, "filter", "Filter evaluation duration in seconds")

	p.histograms[MetricFilterResults] = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: prometheusNamespace,
		Subsystem: "filter",
		Name:      "results",
		Help:      "Number of identifiers returned by filters",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
	}, labels)

	p.histograms[MetricTxOps] = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: prometheusNamespace,
		Subsystem: "transaction",
		Name:      "operations",
		Help:      "Number of operations per committed transaction",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	}, labels)

	p.gauges[MetricIndexDrift] = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: prometheusNamespace,
		Subsystem: "index",
		Name:      "drift_percent",
		Help:      "Share of verified records with missing index entries",
	}, labels)

	p.gauges[MetricKeysDeleted] = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: prometheusNamespace,
		Subsystem: "keys",
		Name:      "deleted_last_reset",
		Help:      "Keys deleted by the last namespace reset",
	}, labels)

	p.gauges[MetricRecordsIndexed] = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: prometheusNamespace,
		Subsystem: "rebuild",
		Name:      "records_last_run",
		Help:      "Records re-indexed by the last rebuild",
	}, labels)

	p.gauges[MetricIndexMissing] = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: prometheusNamespace,
		Subsystem: "index",
		Name:      "missing_entries",
		Help:      "Index entries missing at the last verification",
	}, labels)
}

// Increment increments a Prometheus counter
func (p *PrometheusMetrics) Increment(name string, tags ...string) {
	p.mu.Lock()
	counter, ok := p.counters[name]
	if !ok {
		// Create dynamic counter if it doesn't exist
		counter = promauto.With(p.registry).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prometheusNamespace,
				Name:      promName(name) + "_total",
				Help:      "Dynamic counter: " + name,
			},
			p.extractLabels(tags),
		)
		p.counters[name] = counter
	}
	p.mu.Unlock()

	counter.With(p.extractLabelValues(tags)).Inc()
}

// Gauge sets a Prometheus gauge value
func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...string) {
	p.mu.Lock()
	gauge, ok := p.gauges[name]
	if !ok {
		gauge = promauto.With(p.registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: prometheusNamespace,
				Name:      promName(name),
				Help:      "Dynamic gauge: " + name,
			},
			p.extractLabels(tags),
		)
		p.gauges[name] = gauge
	}
	p.mu.Unlock()

	gauge.With(p.extractLabelValues(tags)).Set(value)
}

// Histogram records a value in a Prometheus histogram
func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...string) {
	p.mu.Lock()
	histogram, ok := p.histograms[name]
	if !ok {
		histogram = promauto.With(p.registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prometheusNamespace,
				Name:      promName(name),
				Help:      "Dynamic histogram: " + name,
				Buckets:   prometheus.DefBuckets,
			},
			p.extractLabels(tags),
		)
		p.histograms[name] = histogram
	}
	p.mu.Unlock()

	histogram.With(p.extractLabelValues(tags)).Observe(value)
}

// Timing records a duration in a Prometheus histogram
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...string) {
	p.Histogram(name, duration.Seconds(), tags...)
}

// extractLabels extracts label names from tags (every even index)
func (p *PrometheusMetrics) extractLabels(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	labels := make([]string, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels = append(labels, tags[i])
	}
	return labels
}

// extractLabelValues creates a label map from tags (key-value pairs)
func (p *PrometheusMetrics) extractLabelValues(tags []string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		labels[tags[i]] = tags[i+1]
	}
	return labels
}

// GetRegistry returns the underlying Prometheus registry
func (p *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return p.registry
}

// promName turns a dotted metric name into a Prometheus-safe one:
// "redispoco.filter.cache_hits" → "filter_cache_hits".
func promName(name string) string {
	name = strings.TrimPrefix(name, prometheusNamespace+".")
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}
