package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "levin",
			Subsystem: "wire",
			Name:      "frames_received_total",
			Help:      "Complete frames reassembled from peer chunks.",
		},
		[]string{"command"},
	)
	headerRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "levin",
			Subsystem: "wire",
			Name:      "header_rejects_total",
			Help:      "Inbound headers dropped by validation.",
		},
		[]string{"reason"},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "levin",
			Subsystem: "wire",
			Name:      "bytes_total",
			Help:      "Bytes moved through the Levin layer.",
		},
		[]string{"direction"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "levin",
			Subsystem: "dispatch",
			Name:      "commands_total",
			Help:      "Commands seen by the dispatcher by outcome.",
		},
		[]string{"command", "outcome"},
	)
	sendFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "levin",
			Subsystem: "outbound",
			Name:      "send_failures_total",
			Help:      "Outbound header or payload writes the transport refused.",
		},
		[]string{"command", "stage"},
	)
	peers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "levin",
			Subsystem: "registry",
			Name:      "peers",
			Help:      "Sessions currently in the connection registry.",
		},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "levin",
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "TCP connections opened and closed.",
		},
		[]string{"direction", "event"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "levin",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "levin",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived,
			headerRejects,
			wireBytes,
			dispatches,
			sendFailures,
			peers,
			connections,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordFrame(command string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(command).Inc()
}

func RecordHeaderReject(reason string) {
	RegisterMetrics()
	headerRejects.WithLabelValues(reason).Inc()
}

func RecordBytes(direction string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	wireBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordDispatch(command, outcome string) {
	RegisterMetrics()
	dispatches.WithLabelValues(command, outcome).Inc()
}

func RecordSendFailure(command, stage string) {
	RegisterMetrics()
	sendFailures.WithLabelValues(command, stage).Inc()
}

func SetPeers(n int) {
	RegisterMetrics()
	peers.Set(float64(n))
}

// RecordConnection counts a transport connection event. direction is
// "inbound" or "outbound"; event is "open" or "close".
func RecordConnection(direction, event string) {
	RegisterMetrics()
	connections.WithLabelValues(direction, event).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
