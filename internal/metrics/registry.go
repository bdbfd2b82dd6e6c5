// Package metrics exposes paycal's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is the custom registry served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "paycal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"handler", "method", "status_code"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status_code"},
	)

	// WebhookEventsTotal counts inbound webhook deliveries by event kind and outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycal",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Stripe webhook deliveries by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// AttendeeUpdatesTotal counts finished attendee updates by result.
	AttendeeUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "paycal",
			Subsystem: "calendar",
			Name:      "attendee_updates_total",
			Help:      "Calendar attendee updates by result",
		},
		[]string{"result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
		HTTPRequestsTotal,
		WebhookEventsTotal,
		AttendeeUpdatesTotal,
	)
}
