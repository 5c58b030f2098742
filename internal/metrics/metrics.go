package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector receives room registry and signaling events.
type Collector interface {
	RoomCreated()
	RoomDeleted()
	MemberJoined()
	MemberLeft(reason string)
	MessageReceived(messageType string)
	BroadcastSent(messageType string, delivered, dropped int)
	JoinRejected(reason string)
}

// Leave reasons.
const (
	ReasonLeave     = "leave"
	ReasonTransport = "transport"
	ReasonMoved     = "moved"
)

// PrometheusCollector implements Collector on a prometheus registry.
type PrometheusCollector struct {
	gatherer prometheus.Gatherer

	activeRooms   prometheus.Gauge
	activeMembers prometheus.Gauge
	joins         prometheus.Counter
	leaves        *prometheus.CounterVec
	received      *prometheus.CounterVec
	delivered     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	rejected      *prometheus.CounterVec
}

// NewPrometheusCollector registers the signaling metrics on reg. Pass
// prometheus.NewRegistry() in tests to keep them isolated.
func NewPrometheusCollector(reg *prometheus.Registry) *PrometheusCollector {
	f := promauto.With(reg)
	return &PrometheusCollector{
		gatherer: reg,
		activeRooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_active_rooms",
			Help: "Number of rooms with at least one member",
		}),
		activeMembers: f.NewGauge(prometheus.GaugeOpts{
			Name: "mesh_active_members",
			Help: "Number of peers currently joined to a room",
		}),
		joins: f.NewCounter(prometheus.CounterOpts{
			Name: "mesh_joins_total",
			Help: "Total number of accepted room joins",
		}),
		leaves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_leaves_total",
			Help: "Total number of members removed from rooms",
		}, []string{"reason"}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_signaling_messages_received_total",
			Help: "Total number of signaling frames received",
		}, []string{"type"}),
		delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_broadcast_delivered_total",
			Help: "Total number of broadcast frames queued to members",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_broadcast_dropped_total",
			Help: "Total number of broadcast frames dropped by backpressure",
		}, []string{"type"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mesh_join_rejected_total",
			Help: "Total number of rejected join attempts",
		}, []string{"reason"}),
	}
}

func (c *PrometheusCollector) RoomCreated() { c.activeRooms.Inc() }
func (c *PrometheusCollector) RoomDeleted() { c.activeRooms.Dec() }

func (c *PrometheusCollector) MemberJoined() {
	c.activeMembers.Inc()
	c.joins.Inc()
}

func (c *PrometheusCollector) MemberLeft(reason string) {
	c.activeMembers.Dec()
	c.leaves.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) MessageReceived(messageType string) {
	c.received.WithLabelValues(messageType).Inc()
}

func (c *PrometheusCollector) BroadcastSent(messageType string, delivered, dropped int) {
	c.delivered.WithLabelValues(messageType).Add(float64(delivered))
	c.dropped.WithLabelValues(messageType).Add(float64(dropped))
}

func (c *PrometheusCollector) JoinRejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint.
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RoomCreated()                   {}
func (Nop) RoomDeleted()                   {}
func (Nop) MemberJoined()                  {}
func (Nop) MemberLeft(string)              {}
func (Nop) MessageReceived(string)         {}
func (Nop) BroadcastSent(string, int, int) {}
func (Nop) JoinRejected(string)            {}
