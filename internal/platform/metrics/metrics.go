// Package metrics defines the application's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter the engine exposes. Components receive it by
// injection so tests can assert against an isolated registry.
type Metrics struct {
	registry *prometheus.Registry

	// EventsPublished counts events committed to the bus, per topic.
	EventsPublished *prometheus.CounterVec

	// PublishFailures counts failed publish attempts, per topic.
	PublishFailures *prometheus.CounterVec

	// RemindersFired counts reminders that completed the scheduled -> fired
	// transition.
	RemindersFired prometheus.Counter

	// RemindersScheduled counts reminders registered with the scheduler.
	RemindersScheduled prometheus.Counter

	// OutboxDeadLetters counts outbox entries moved to the dead-letter state.
	OutboxDeadLetters prometheus.Counter

	// ConsumerFailures counts event handler failures, per subscriber group.
	ConsumerFailures *prometheus.CounterVec

	// AuditRecordsPruned counts audit rows removed by the retention sweeper.
	AuditRecordsPruned prometheus.Counter

	// HTTPRequests counts handled HTTP requests by method, route and status.
	HTTPRequests *prometheus.CounterVec
}

// New creates the metric set on a fresh registry that also carries the
// standard Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		EventsPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpulse_events_published_total",
			Help: "Events committed to the bus, per topic.",
		}, []string{"topic"}),

		PublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpulse_publish_failures_total",
			Help: "Failed publish attempts, per topic.",
		}, []string{"topic"}),

		RemindersFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_reminders_fired_total",
			Help: "Reminders that transitioned from scheduled to fired.",
		}),

		RemindersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_reminders_scheduled_total",
			Help: "Reminders registered with the scheduler.",
		}),

		OutboxDeadLetters: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_outbox_dead_letters_total",
			Help: "Outbox entries moved to the dead-letter state.",
		}),

		ConsumerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpulse_consumer_failures_total",
			Help: "Event handler failures, per subscriber group.",
		}, []string{"group"}),

		AuditRecordsPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskpulse_audit_records_pruned_total",
			Help: "Audit rows removed by the retention sweeper.",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskpulse_http_requests_total",
			Help: "Handled HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint for this
// metric set's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
