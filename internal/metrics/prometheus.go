package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for dispatcher metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	invocationsTotal  *prometheus.CounterVec
	windowsCompleted  prometheus.Counter
	windowsAbandoned  prometheus.Counter
	bytesTotal        *prometheus.CounterVec
	objectStoreOps    *prometheus.CounterVec

	// Histograms
	invocationDuration *prometheus.HistogramVec

	// Gauges
	uptime         prometheus.GaugeFunc
	activeRequests prometheus.Gauge
	fanoutSize     *prometheus.GaugeVec
}

// Default histogram buckets for invocation duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if buckets == nil || len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	// Register default Go and process collectors
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		invocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of stage invocations routed by the dispatcher",
			},
			[]string{"stage", "status", "aggregator"},
		),

		windowsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "windows_completed_total",
				Help:      "Total number of shuffled windows whose fan-in completed",
			},
		),

		windowsAbandoned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "windows_abandoned_total",
				Help:      "Total number of windows evicted before fan-in completed",
			},
		),

		bytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "codec_bytes_total",
				Help:      "Total bytes processed by the payload codec",
			},
			[]string{"direction"}, // encode, decode
		),

		objectStoreOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_backend_ops_total",
				Help:      "Total state backend round trips by operation and outcome",
			},
			[]string{"op", "status"},
		),

		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_milliseconds",
				Help:      "Duration of routed stage invocations in milliseconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),

		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of currently in-flight synchronous invocations",
			},
		),

		fanoutSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "fanout_size",
				Help:      "Last observed successor group size by producing stage",
			},
			[]string{"stage"},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the dispatcher process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.invocationsTotal,
		pm.windowsCompleted,
		pm.windowsAbandoned,
		pm.bytesTotal,
		pm.objectStoreOps,
		pm.invocationDuration,
		pm.uptime,
		pm.activeRequests,
		pm.fanoutSize,
	)

	promMetrics = pm
}

// RecordPrometheusInvocation records an invocation in Prometheus collectors
func RecordPrometheusInvocation(stage string, durationMs int64, success, aggregator bool) {
	if promMetrics == nil {
		return
	}

	status := "success"
	if !success {
		status = "failed"
	}
	aggLabel := "false"
	if aggregator {
		aggLabel = "true"
	}
	promMetrics.invocationsTotal.WithLabelValues(stage, status, aggLabel).Inc()
	promMetrics.invocationDuration.WithLabelValues(stage).Observe(float64(durationMs))
}

// RecordPrometheusWindowCompleted records a completed window fan-in.
func RecordPrometheusWindowCompleted() {
	if promMetrics == nil {
		return
	}
	promMetrics.windowsCompleted.Inc()
}

// RecordPrometheusWindowAbandoned records an abandoned, incomplete window.
func RecordPrometheusWindowAbandoned() {
	if promMetrics == nil {
		return
	}
	promMetrics.windowsAbandoned.Inc()
}

// RecordPrometheusBytes records codec throughput by direction.
func RecordPrometheusBytes(direction string, n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordPrometheusObjectStoreOp records a state backend round trip.
func RecordPrometheusObjectStoreOp(op string, success bool) {
	if promMetrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	promMetrics.objectStoreOps.WithLabelValues(op, status).Inc()
}

// SetFanoutSize records the successor group size last observed for a stage.
func SetFanoutSize(stage string, size int) {
	if promMetrics == nil {
		return
	}
	promMetrics.fanoutSize.WithLabelValues(stage).Set(float64(size))
}

// IncActiveRequests increments the active requests counter
func IncActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Inc()
}

// DecActiveRequests decrements the active requests counter
func DecActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Dec()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
