package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	engineQueueDepth   prometheus.Gauge
	engineSubmissions  *prometheus.CounterVec
	engineEvalDuration prometheus.Histogram
	engineFaulted      prometheus.Gauge

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec

	registryTools   prometheus.Gauge
	registryChanges *prometheus.CounterVec

	storeSaveDuration prometheus.Histogram
	storeErrorsTotal  *prometheus.CounterVec

	discoveryScans *prometheus.CounterVec

	rpcRequests      *prometheus.CounterVec
	rpcNotifications *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			engineQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "engine_queue_depth",
					Help: "Requests waiting in the execution engine queue.",
				},
			),
			engineSubmissions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "engine_submissions_total",
					Help: "Execution engine submissions by outcome.",
				},
				[]string{"outcome"},
			),
			engineEvalDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "engine_eval_duration_seconds",
					Help:    "Script evaluation duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			engineFaulted: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "engine_faulted",
					Help: "1 when the execution engine has faulted and stopped accepting work.",
				},
			),
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_total",
					Help: "Tool dispatches by namespace and outcome kind.",
				},
				[]string{"namespace", "outcome"},
			),
			dispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dispatch_duration_seconds",
					Help:    "Tool dispatch duration in seconds by namespace.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"namespace"},
			),
			registryTools: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "registry_tools",
					Help: "Registered tools, built-ins included.",
				},
			),
			registryChanges: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "registry_changes_total",
					Help: "Registry mutations by kind and source.",
				},
				[]string{"kind", "source"},
			),
			storeSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "store_save_duration_seconds",
					Help:    "Tool store save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			storeErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "store_errors_total",
					Help: "Tool store failures by operation.",
				},
				[]string{"op"},
			),
			discoveryScans: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "discovery_scans_total",
					Help: "Tool directory scans by trigger.",
				},
				[]string{"trigger"},
			),
			rpcRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rpc_requests_total",
					Help: "JSON-RPC requests by transport, method and outcome.",
				},
				[]string{"transport", "method", "outcome"},
			),
			rpcNotifications: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "rpc_notifications_sent_total",
					Help: "Server notifications written to clients, by method.",
				},
				[]string{"method"},
			),
		}

		prometheus.MustRegister(
			m.engineQueueDepth,
			m.engineSubmissions,
			m.engineEvalDuration,
			m.engineFaulted,
			m.dispatchTotal,
			m.dispatchDuration,
			m.registryTools,
			m.registryChanges,
			m.storeSaveDuration,
			m.storeErrorsTotal,
			m.discoveryScans,
			m.rpcRequests,
			m.rpcNotifications,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetEngineQueueDepth(depth int) {
	getMetrics().engineQueueDepth.Set(float64(depth))
}

// RecordEngineSubmission counts a submission outcome: "ok", "script_error",
// "busy", "unavailable" or "cancelled".
func RecordEngineSubmission(outcome string) {
	getMetrics().engineSubmissions.WithLabelValues(outcome).Inc()
}

func RecordEngineEval(duration time.Duration) {
	getMetrics().engineEvalDuration.Observe(duration.Seconds())
}

func SetEngineFaulted(faulted bool) {
	value := 0.0
	if faulted {
		value = 1.0
	}
	getMetrics().engineFaulted.Set(value)
}

// RecordDispatch counts a dispatch. outcome is "ok" or an error kind.
func RecordDispatch(namespace, outcome string, duration time.Duration) {
	m := getMetrics()
	m.dispatchTotal.WithLabelValues(namespace, outcome).Inc()
	m.dispatchDuration.WithLabelValues(namespace).Observe(duration.Seconds())
}

func SetRegistryTools(count int) {
	getMetrics().registryTools.Set(float64(count))
}

func RecordRegistryChange(kind, source string) {
	getMetrics().registryChanges.WithLabelValues(kind, source).Inc()
}

func RecordStoreSave(duration time.Duration, err error) {
	m := getMetrics()
	m.storeSaveDuration.Observe(duration.Seconds())
	if err != nil {
		m.storeErrorsTotal.WithLabelValues("save").Inc()
	}
}

func RecordStoreError(op string) {
	getMetrics().storeErrorsTotal.WithLabelValues(op).Inc()
}

func RecordDiscoveryScan(trigger string) {
	getMetrics().discoveryScans.WithLabelValues(trigger).Inc()
}

// RecordRPC counts a routed JSON-RPC request. Unknown methods are recorded
// as "unknown" to bound label cardinality.
func RecordRPC(transport, method, outcome string) {
	getMetrics().rpcRequests.WithLabelValues(transport, method, outcome).Inc()
}

func RecordNotificationsSent(method string, count int) {
	getMetrics().rpcNotifications.WithLabelValues(method).Add(float64(count))
}
