package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpLatencySeconds  *prometheus.HistogramVec
	messagesCreated     *prometheus.CounterVec
	messagesMarkedRead  prometheus.Counter
	notificationsEmit   *prometheus.CounterVec
	pushDeliveries      *prometheus.CounterVec
	realtimeConnections prometheus.Gauge
	sseClientsActive    prometheus.Gauge
	uploadRequests      *prometheus.CounterVec
	uploadRejected      *prometheus.CounterVec
	uploadLatency       prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		messagesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_created_total",
			Help: "Messages persisted, by kind.",
		}, []string{"kind"})

		messagesMarkedRead = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_marked_read_total",
			Help: "Messages transitioned from unread to read.",
		})

		notificationsEmit = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_emitted_total",
			Help: "Notification emit attempts, by status.",
		}, []string{"status"})

		pushDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Realtime push attempts, by outcome.",
		}, []string{"outcome"})

		realtimeConnections = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Live websocket push channels registered on this node.",
		})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sse_clients_active",
			Help: "Open notification stream subscribers.",
		})

		uploadRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uploads_total",
			Help: "Attachments stored, by content type.",
		}, []string{"content_type"})

		uploadRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rejected_total",
			Help: "Attachment uploads rejected, by reason.",
		}, []string{"reason"})

		uploadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_latency_seconds",
			Help:    "Attachment upload duration including storage.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			messagesCreated,
			messagesMarkedRead,
			notificationsEmit,
			pushDeliveries,
			realtimeConnections,
			sseClientsActive,
			uploadRequests,
			uploadRejected,
			uploadLatency,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// MessagesCreated counts persisted messages.
func MessagesCreated() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesCreated
}

// MessagesMarkedRead counts unread to read transitions.
func MessagesMarkedRead() prometheus.Counter {
	RegisterMetrics()
	return messagesMarkedRead
}

// NotificationsEmitted counts emit attempts labelled created or failed.
func NotificationsEmitted() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsEmit
}

// PushDeliveries counts push outcomes.
func PushDeliveries() *prometheus.CounterVec {
	RegisterMetrics()
	return pushDeliveries
}

// RealtimeConnectionsActive tracks live push channels.
func RealtimeConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return realtimeConnections
}

// SSEClientsActive tracks notification stream subscribers.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// UploadRequests counts stored attachments.
func UploadRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRequests
}

// UploadRejected counts rejected uploads.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejected
}

// UploadLatency observes upload duration.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatency
}
