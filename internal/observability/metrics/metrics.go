package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opslink_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opslink_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	incidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opslink_incidents_created_total",
		Help: "Count of incidents opened",
	})

	incidentStatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opslink_incident_status_changes_total",
		Help: "Count of incident status transitions by target status",
	}, []string{"status"})

	unitStatusChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opslink_unit_status_changes_total",
		Help: "Count of unit status transitions by target status",
	}, []string{"status"})

	unitsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opslink_units_dispatched_total",
		Help: "Count of unit-to-incident assignments",
	})

	recordFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opslink_record_write_failures_total",
		Help: "Count of activity/audit record writes that failed after retries",
	}, []string{"sink"})

	staleUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opslink_stale_units_flagged_total",
		Help: "Count of units flagged by the stale-location watchdog",
	})

	eventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opslink_event_publish_failures_total",
		Help: "Count of live dispatch events that could not be published",
	})
)

// ObserveHTTPRequest records metrics for a completed HTTP request.
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveIncidentCreated records one opened incident.
func ObserveIncidentCreated() {
	incidentsCreated.Inc()
}

// ObserveIncidentStatus records an incident status transition.
func ObserveIncidentStatus(status string) {
	incidentStatusChanges.WithLabelValues(status).Inc()
}

// ObserveUnitStatus records a unit status transition.
func ObserveUnitStatus(status string) {
	unitStatusChanges.WithLabelValues(status).Inc()
}

// ObserveUnitsDispatched records units bound to an incident.
func ObserveUnitsDispatched(count int) {
	for i := 0; i < count; i++ {
		unitsDispatched.Inc()
	}
}

// ObserveRecordFailure records a lost activity ("activity") or audit
// ("audit") write.
func ObserveRecordFailure(sink string) {
	recordFailures.WithLabelValues(sink).Inc()
}

// ObserveStaleUnit records one watchdog flag.
func ObserveStaleUnit() {
	staleUnits.Inc()
}

// ObserveEventPublishFailure records a dropped live dispatch event.
func ObserveEventPublishFailure() {
	eventPublishFailures.Inc()
}
