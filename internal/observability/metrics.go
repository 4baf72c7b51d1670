package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "satlink"

var (
	registerOnce sync.Once

	framesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "decoded_total",
			Help:      "Command frames closed on the link, by decode result.",
		},
		[]string{"result"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Dispatch attempts by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Handler run time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command", "policy", "success"},
	)
	releaseInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "handler",
			Name:      "release_in_flight",
			Help:      "Released handlers queued or running on the worker pool.",
		},
	)
	transferAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "attempts_total",
			Help:      "Single-file transfer attempts by role and outcome.",
		},
		[]string{"role", "outcome"},
	)
	transferBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Payload bytes moved by verified transfers.",
		},
		[]string{"role"},
	)
	folderSyncFiles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "foldersync",
			Name:      "files_total",
			Help:      "File bodies sent by folder sync.",
		},
	)
	folderSyncBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "foldersync",
			Name:      "bytes_total",
			Help:      "Bytes sent by folder sync, manifest included.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "route", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesDecoded,
			dispatches,
			handlerDuration,
			releaseInFlight,
			transferAttempts,
			transferBytes,
			folderSyncFiles,
			folderSyncBytes,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(ok bool) {
	RegisterMetrics()
	result := "ok"
	if !ok {
		result = "error"
	}
	framesDecoded.WithLabelValues(result).Inc()
}

func RecordDispatch(command, outcome string) {
	RegisterMetrics()
	dispatches.WithLabelValues(command, outcome).Inc()
}

func RecordHandler(command, policy string, duration time.Duration, success bool) {
	RegisterMetrics()
	handlerDuration.WithLabelValues(command, policy, strconv.FormatBool(success)).
		Observe(duration.Seconds())
}

func ReleaseQueued() {
	RegisterMetrics()
	releaseInFlight.Inc()
}

func ReleaseDone() {
	RegisterMetrics()
	releaseInFlight.Dec()
}

// ReleaseInFlight reads the released-handler gauge.
func ReleaseInFlight() float64 {
	RegisterMetrics()
	var m dto.Metric
	if err := releaseInFlight.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func RecordTransfer(role, outcome string, bytes int) {
	RegisterMetrics()
	transferAttempts.WithLabelValues(role, outcome).Inc()
	if bytes > 0 {
		transferBytes.WithLabelValues(role).Add(float64(bytes))
	}
}

func RecordFolderSync(files int, bytes int64) {
	RegisterMetrics()
	folderSyncFiles.Add(float64(files))
	folderSyncBytes.Add(float64(bytes))
}

func RecordHTTPRequest(node, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, route, statusLabel).Observe(duration.Seconds())
}
