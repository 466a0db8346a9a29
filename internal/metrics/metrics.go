// Package metrics holds the process-wide Prometheus instruments. Collectors
// are registered once at init via promauto and shared across packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DBOpenConnections tracks the sql.DB pool size, sampled periodically.
	DBOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rustygpt_db_open_connections",
		Help: "Open connections in the database pool.",
	})

	// DBInUseConnections tracks connections currently checked out of the pool.
	DBInUseConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rustygpt_db_in_use_connections",
		Help: "Database connections currently in use.",
	})

	// SSESubscribers counts currently attached event-stream subscribers.
	SSESubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rustygpt_sse_subscribers",
		Help: "Currently connected SSE subscribers.",
	})

	// ActiveGenerations counts assistant streams the supervisor is tracking.
	ActiveGenerations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rustygpt_active_generations",
		Help: "Assistant generations currently in flight.",
	})

	// EventsPublished counts events accepted by the conversation event bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rustygpt_events_published_total",
		Help: "Conversation events published, by event type.",
	}, []string{"event_type"})

	// EventsDropped counts events discarded because a subscriber queue was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rustygpt_events_dropped_total",
		Help: "Events dropped due to slow subscribers.",
	})

	// SessionsRotated counts session rotations performed at validation time.
	SessionsRotated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rustygpt_sessions_rotated_total",
		Help: "Sessions rotated during validation.",
	})

	// RateLimited counts requests rejected by the token-bucket limiter.
	RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rustygpt_rate_limited_total",
		Help: "Requests rejected by rate limiting, by bucket.",
	}, []string{"bucket"})
)
