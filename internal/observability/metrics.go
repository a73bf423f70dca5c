package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcwire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcwire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcwire",
			Subsystem: "wire",
			Name:      "frames_total",
			Help:      "Frames handled by the codec.",
		},
		[]string{"direction", "phase", "result"},
	)
	frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mcwire",
			Subsystem: "wire",
			Name:      "frame_bytes",
			Help:      "Payload size of frames handled by the codec.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
		[]string{"direction"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcwire",
			Subsystem: "wire",
			Name:      "frame_errors_total",
			Help:      "Codec failures by error kind.",
		},
		[]string{"kind"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcwire",
			Subsystem: "session",
			Name:      "connections",
			Help:      "Open connections by protocol phase.",
		},
		[]string{"phase"},
	)
	loopTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcwire",
			Subsystem: "eventloop",
			Name:      "tasks_total",
			Help:      "Tasks executed by an event loop.",
		},
		[]string{"loop", "result"},
	)
	mailboxSchedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcwire",
			Subsystem: "mailbox",
			Name:      "schedules_total",
			Help:      "Mailbox scheduling attempts by outcome.",
		},
		[]string{"result"},
	)
	mailboxItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcwire",
			Subsystem: "mailbox",
			Name:      "items_total",
			Help:      "Mailbox items executed by outcome.",
		},
		[]string{"result"},
	)
	signatureResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcwire",
			Subsystem: "signature",
			Name:      "results_total",
			Help:      "Signature chain validation results.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			httpRequests,
			httpDuration,
			frames,
			frameBytes,
			frameErrors,
			connections,
			loopTasks,
			mailboxSchedules,
			mailboxItems,
			signatureResults,
		)
	})
}

// MetricsHandler exposes the mcwire registry in the Prometheus text format.
func MetricsHandler() http.Handler {
	RegisterMetrics()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(direction, phase, result string, size int) {
	RegisterMetrics()
	frames.WithLabelValues(direction, phase, result).Inc()
	if size > 0 {
		frameBytes.WithLabelValues(direction).Observe(float64(size))
	}
}

func RecordFrameError(kind string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(kind).Inc()
}

func ConnectionEntered(phase string) {
	RegisterMetrics()
	connections.WithLabelValues(phase).Inc()
}

func ConnectionLeft(phase string) {
	RegisterMetrics()
	connections.WithLabelValues(phase).Dec()
}

func RecordLoopTask(loop string, err error) {
	RegisterMetrics()
	loopTasks.WithLabelValues(loop, resultLabel(err)).Inc()
}

func RecordMailboxSchedule(result string) {
	RegisterMetrics()
	mailboxSchedules.WithLabelValues(result).Inc()
}

func RecordMailboxItem(err error) {
	RegisterMetrics()
	mailboxItems.WithLabelValues(resultLabel(err)).Inc()
}

func RecordSignatureResult(result string) {
	RegisterMetrics()
	signatureResults.WithLabelValues(result).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
