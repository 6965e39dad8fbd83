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
			Namespace: "universe",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "universe",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	heartbeatPings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "universe",
			Subsystem: "heartbeat",
			Name:      "pings_total",
			Help:      "Pings sent by the initiating side.",
		},
		[]string{"channel"},
	)
	heartbeatPongs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "universe",
			Subsystem: "heartbeat",
			Name:      "pongs_total",
			Help:      "Pongs observed, labelled by the side that saw them.",
		},
		[]string{"channel", "role"},
	)
	livenessFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "universe",
			Subsystem: "heartbeat",
			Name:      "liveness_failures_total",
			Help:      "Connections torn down after too many unanswered pings.",
		},
		[]string{"channel"},
	)
	controllerStates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "universe",
			Subsystem: "controller",
			Name:      "state_transitions_total",
			Help:      "Controller state transitions by target state.",
		},
		[]string{"role", "state"},
	)
	bridgePosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "universe",
			Subsystem: "bridge",
			Name:      "posts_total",
			Help:      "Envelopes posted to remote targets.",
		},
		[]string{"channel", "name", "success"},
	)
	graphNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "universe",
			Subsystem: "graph",
			Name:      "live_nodes",
			Help:      "Live nodes in a graph.",
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			heartbeatPings, heartbeatPongs, livenessFailures,
			controllerStates, bridgePosts, graphNodes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPing(channel string) {
	RegisterMetrics()
	heartbeatPings.WithLabelValues(channel).Inc()
}

func RecordPong(channel, role string) {
	RegisterMetrics()
	heartbeatPongs.WithLabelValues(channel, role).Inc()
}

func RecordLivenessFailure(channel string) {
	RegisterMetrics()
	livenessFailures.WithLabelValues(channel).Inc()
}

func RecordState(role, state string) {
	RegisterMetrics()
	controllerStates.WithLabelValues(role, state).Inc()
}

func RecordBridgePost(channel, name string, err error) {
	RegisterMetrics()
	bridgePosts.WithLabelValues(channel, name, strconv.FormatBool(err == nil)).Inc()
}

func SetLiveNodes(role string, n int) {
	RegisterMetrics()
	graphNodes.WithLabelValues(role).Set(float64(n))
}
