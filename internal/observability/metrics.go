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
			Namespace: "gatekeeper",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	inboundFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Inbound frames by classification.",
		},
		[]string{"kind"},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Subsystem: "transport",
			Name:      "state",
			Help:      "1 for the current connection state, 0 otherwise.",
		},
		[]string{"state"},
	)
	connectFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "transport",
			Name:      "connect_failures_total",
			Help:      "Connection attempts or live sessions that ended in failure.",
		},
	)
	rpcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls by action and outcome.",
		},
		[]string{"action", "success"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gatekeeper",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "RPC round trip including pacing delay.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"action"},
	)
	verifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gatekeeper",
			Subsystem: "verify",
			Name:      "outcomes_total",
			Help:      "Verification session outcomes.",
		},
		[]string{"outcome"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gatekeeper",
			Subsystem: "verify",
			Name:      "active_sessions",
			Help:      "Verification sessions awaiting a code.",
		},
	)
)

// Verification outcomes.
const (
	OutcomeChallenged = "challenged"
	OutcomePassed     = "passed"
	OutcomeEvicted    = "evicted"
	OutcomeKickFailed = "kick_failed"
	OutcomeSkipped    = "skipped"
	OutcomeReplaced   = "replaced"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			inboundFrames,
			connectionState,
			connectFailures,
			rpcCalls,
			rpcDuration,
			verifications,
			activeSessions,
		)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrame(kind string) {
	RegisterMetrics()
	inboundFrames.WithLabelValues(kind).Inc()
}

// RecordConnectionState sets the gauge for current and clears every other known state.
func RecordConnectionState(current string, all []string) {
	RegisterMetrics()
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}

func RecordConnectFailure() {
	RegisterMetrics()
	connectFailures.Inc()
}

func RecordRPC(action string, duration time.Duration, success bool) {
	RegisterMetrics()
	rpcCalls.WithLabelValues(action, strconv.FormatBool(success)).Inc()
	rpcDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func RecordVerification(outcome string) {
	RegisterMetrics()
	verifications.WithLabelValues(outcome).Inc()
}

func SetActiveSessions(n int) {
	RegisterMetrics()
	activeSessions.Set(float64(n))
}
