package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayRequests,
		gatewayDuration,
		webhookEvents,
	)
}

var (
	// op: create_link|fetch_by_id|fetch_by_ref
	// result: ok|unavailable|error
	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Payment gateway API calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Payment gateway API call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"op"},
	)

	// kind: payment|other|malformed
	webhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Incoming gateway webhook notifications by kind.",
		},
		[]string{"kind"},
	)
)

func ObserveGatewayCall(op, result string, elapsed time.Duration) {
	gatewayRequests.WithLabelValues(norm(op), norm(result)).Inc()
	gatewayDuration.WithLabelValues(norm(op)).Observe(elapsed.Seconds())
}

func IncWebhookEvent(kind string) { webhookEvents.WithLabelValues(norm(kind)).Inc() }
