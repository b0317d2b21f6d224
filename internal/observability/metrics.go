package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsocial_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records store query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fitsocial_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// FriendMutations counts lifecycle operations by operation and outcome.
	FriendMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsocial_friend_mutations_total",
		Help: "Total friendship lifecycle operations by outcome",
	}, []string{"operation", "outcome"})

	// FriendRefreshes counts relationship refreshes by outcome.
	FriendRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsocial_friend_refreshes_total",
		Help: "Total relationship list refreshes by outcome",
	}, []string{"outcome"})

	// InviteNotifications counts dispatcher decisions.
	InviteNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsocial_invite_notifications_total",
		Help: "Invite notification dispatch results",
	}, []string{"result"})

	// CandidateSearches counts fired candidate searches and dropped stale results.
	CandidateSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsocial_candidate_searches_total",
		Help: "Candidate profile searches by result",
	}, []string{"result"})

	// ActiveSessions is the gauge of open relationship sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitsocial_active_sessions",
		Help: "Number of open relationship sessions",
	})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fitsocial_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fitsocial_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// Outcome maps an operation error to a metric label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
