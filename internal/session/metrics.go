package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics ports the teacher's internal/websocket/metrics.go gauges and
// counter, extended with send-latency and permission-denial counters the
// messaging/permission layers need observability into.
var (
	connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_session_connections",
		Help: "Current number of active duplex sessions.",
	})
	conversationRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_session_conversation_rooms",
		Help: "Current number of conversation topics with at least one local subscriber.",
	})
	messagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_session_messages_delivered_total",
		Help: "Total messages delivered to sessions over the duplex transport.",
	})
	permissionDenied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_session_permission_denied_total",
		Help: "Total message:send events rejected by the permission engine.",
	})
	sendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatcore_session_send_latency_seconds",
		Help:    "Latency from message:send receipt to persisted-and-fanned-out.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(connections, conversationRooms, messagesDelivered, permissionDenied, sendLatency)
}

func incConnections() { connections.Inc() }
func decConnections() { connections.Dec() }
func setConversationRooms(count int) { conversationRooms.Set(float64(count)) }
func addDelivered(count int)         { messagesDelivered.Add(float64(count)) }
func incPermissionDenied()           { permissionDenied.Inc() }
func observeSendLatency(seconds float64) { sendLatency.Observe(seconds) }
