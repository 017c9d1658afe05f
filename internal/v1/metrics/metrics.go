package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the bingo game coordinator.
//
// Naming convention: namespace_subsystem_name
// - namespace: bingo (application-level grouping)
// - subsystem: tcp, room, maps (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)

var (
	// ActiveConnections tracks the current number of live TCP connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "tcp",
		Name:      "connections_active",
		Help:      "Current number of active client connections",
	})

	// HandshakeResults counts handshakes by outcome code.
	HandshakeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "tcp",
		Name:      "handshakes_total",
		Help:      "Handshake attempts by outcome code",
	}, []string{"code"})

	// ActiveRooms tracks the current number of live rooms.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of live rooms",
	})

	// RoomMembers tracks the member count per room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"join_code"})

	// RequestsProcessed counts game requests by name and status.
	RequestsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "requests_total",
		Help:      "Game requests processed, by request name and status",
	}, []string{"request", "status"})

	// RequestDuration tracks request handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "request_processing_seconds",
		Help:      "Time spent processing game requests",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"request"})

	// BroadcastDrops counts events dropped because a subscriber mailbox
	// was full or closed.
	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "broadcast_drops_total",
		Help:      "Events dropped on enqueue to a subscriber mailbox",
	})

	// CellClaims counts claim attempts by verdict.
	CellClaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "room",
		Name:      "cell_claims_total",
		Help:      "Cell claim attempts by verdict",
	}, []string{"verdict"})

	// MapQueueSize tracks the prefetch queue depth per mode.
	MapQueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bingo",
		Subsystem: "maps",
		Name:      "queue_size",
		Help:      "Prefetched maps currently queued per mode",
	}, []string{"mode"})

	// MapFetchErrors counts failed catalogue fetches per mode.
	MapFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bingo",
		Subsystem: "maps",
		Name:      "fetch_errors_total",
		Help:      "Failed map catalogue fetches per mode",
	}, []string{"mode"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
