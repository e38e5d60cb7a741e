package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the party game server.
//
// Naming convention: namespace_subsystem_name
// - namespace: partyline (application-level grouping)
// - subsystem: websocket, room, game, platform (feature-level grouping)
//
// Metric Types:
// - Gauge: Current state (connections, rooms)
// - Counter: Cumulative events (frames processed, broadcasts coalesced)
// - Histogram: Latency distributions (dispatch time, tick duration)

var (
	// ActiveConnections tracks the current number of active WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partyline",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms across all games.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partyline",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// ActiveSessions tracks the current number of live reconnect sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partyline",
		Subsystem: "session",
		Name:      "sessions_active",
		Help:      "Current number of live reconnect sessions",
	})

	// FrameEvents tracks the total number of inbound frames processed.
	FrameEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partyline",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total inbound frames processed",
	}, []string{"event_type", "status"})

	// DispatchDuration tracks the time spent dispatching inbound frames.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "partyline",
		Subsystem: "websocket",
		Name:      "dispatch_seconds",
		Help:      "Time spent dispatching inbound frames",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// BroadcastsSent tracks room broadcasts actually flushed to the wire.
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partyline",
		Subsystem: "room",
		Name:      "broadcasts_sent_total",
		Help:      "Room broadcasts flushed to the wire",
	})

	// BroadcastsCoalesced tracks broadcasts absorbed by the throttle window.
	BroadcastsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "partyline",
		Subsystem: "room",
		Name:      "broadcasts_coalesced_total",
		Help:      "Room broadcasts replaced inside the throttle window",
	})

	// TickDuration tracks simulation tick processing time per game.
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "partyline",
		Subsystem: "game",
		Name:      "tick_seconds",
		Help:      "Simulation tick processing time",
		Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
	}, []string{"game_id"})

	// Eliminations tracks cycle eliminations by hit type.
	Eliminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partyline",
		Subsystem: "game",
		Name:      "eliminations_total",
		Help:      "Cycle eliminations by hit type",
	}, []string{"hit_type"})

	// PlatformRequests tracks outbound platform API calls.
	PlatformRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partyline",
		Subsystem: "platform",
		Name:      "requests_total",
		Help:      "Outbound platform API calls",
	}, []string{"operation", "status"})

	// CircuitBreakerState exports breaker state (0=closed, 1=open, 2=half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "partyline",
		Subsystem: "platform",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// RateLimitExceeded tracks rejected actions by limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "partyline",
		Subsystem: "websocket",
		Name:      "rate_limit_exceeded_total",
		Help:      "Actions rejected by rate limiting",
	}, []string{"limit_type"})

	// ReporterDrift tracks the periodic reporter's scheduling drift.
	ReporterDrift = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "partyline",
		Subsystem: "runtime",
		Name:      "reporter_drift_seconds",
		Help:      "Scheduler drift observed by the periodic reporter",
	})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
