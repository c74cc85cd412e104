package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entslink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "entslink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	busFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entslink",
			Subsystem: "bus",
			Name:      "frames_total",
			Help:      "Bus frames moved, by side and direction.",
		},
		[]string{"side", "direction"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entslink",
			Subsystem: "peripheral",
			Name:      "dispatches_total",
			Help:      "Commands dispatched to modules, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	peripheralErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entslink",
			Subsystem: "peripheral",
			Name:      "errors_total",
			Help:      "Peripheral-side transport errors by class.",
		},
		[]string{"class"},
	)
	transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "entslink",
			Subsystem: "controller",
			Name:      "transactions_total",
			Help:      "Controller transactions by kind and outcome class.",
		},
		[]string{"kind", "outcome"},
	)
	transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "entslink",
			Subsystem: "controller",
			Name:      "transaction_duration_seconds",
			Help:      "Controller transaction duration in seconds.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			busFrames,
			dispatches,
			peripheralErrors,
			transactions,
			transactionDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame; side is "controller" or "peripheral",
// direction is "tx" or "rx".
func RecordFrame(side, direction string) {
	RegisterMetrics()
	busFrames.WithLabelValues(side, direction).Inc()
}

func RecordDispatch(kind, outcome string) {
	RegisterMetrics()
	dispatches.WithLabelValues(kind, outcome).Inc()
}

func RecordPeripheralError(class string) {
	RegisterMetrics()
	peripheralErrors.WithLabelValues(class).Inc()
}

func RecordTransaction(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	transactions.WithLabelValues(kind, outcome).Inc()
	transactionDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}
