// Package metrics exposes the platform's Prometheus self-metrics.
// Subsystems never import this package: each exports metric hooks, and the
// server passes these Record functions to SetMetricHooks at startup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest pipeline metrics
	IngestAcceptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigia_ingest_accepted_total",
			Help: "Total number of observations accepted and durably written",
		},
	)

	IngestRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_ingest_rejected_total",
			Help: "Total number of observations rejected by reason",
		},
		[]string{"reason"}, // unknown_sensor, validation, rate_limited, stale_append, out_of_range, backend
	)

	IngestDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigia_ingest_deferred_total",
			Help: "Total number of accepted observations whose rule evaluation missed the deadline",
		},
	)

	// Aggregation metrics
	RecomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_recompute_total",
			Help: "Total number of bucket recompute attempts by outcome",
		},
		[]string{"outcome"}, // ok, retry, failed
	)

	RecomputeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigia_recompute_queue_depth",
			Help: "Number of bucket rebuilds waiting in the recompute queue",
		},
	)

	// Alert lifecycle metrics
	AlertsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vigia_alerts_active",
			Help: "Number of currently active alerts by rule",
		},
		[]string{"rule"},
	)

	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_alerts_fired_total",
			Help: "Total number of alerts fired by severity and rule",
		},
		[]string{"severity", "rule"},
	)

	AlertsEscalatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_alerts_escalated_total",
			Help: "Total number of alert severity escalations by rule",
		},
		[]string{"rule"},
	)

	AlertsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_alerts_resolved_total",
			Help: "Total number of alerts resolved by rule",
		},
		[]string{"rule"},
	)

	AlertsAcknowledgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigia_alerts_acknowledged_total",
			Help: "Total number of alerts acknowledged by operators",
		},
	)

	AlertDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigia_alert_duration_seconds",
			Help:    "Duration of alerts from detection to resolution",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 86400}, // 1m to 1d
		},
		[]string{"rule"},
	)

	// Notification dispatch metrics
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_notifications_sent_total",
			Help: "Total number of notifications delivered by channel",
		},
		[]string{"channel"},
	)

	NotificationsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_notifications_failed_total",
			Help: "Total number of notifications permanently failed or dead-lettered by channel",
		},
		[]string{"channel"},
	)

	NotificationsCancelledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigia_notifications_cancelled_total",
			Help: "Total number of notifications cancelled before delivery by channel",
		},
		[]string{"channel"},
	)

	NotificationDispatchSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigia_notification_dispatch_seconds",
			Help:    "Gateway delivery latency per attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"channel"},
	)
)

// RecordIngestAccepted counts a durably written observation.
func RecordIngestAccepted() {
	IngestAcceptedTotal.Inc()
}

// RecordIngestRejected counts a rejected observation by reason.
func RecordIngestRejected(reason string) {
	IngestRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordIngestDeferred counts an observation whose evaluation was deferred.
func RecordIngestDeferred() {
	IngestDeferredTotal.Inc()
}

// RecordRecompute counts one recompute attempt outcome.
func RecordRecompute(outcome string) {
	RecomputeTotal.WithLabelValues(outcome).Inc()
}

// SetRecomputeQueueDepth tracks the pending rebuild backlog.
func SetRecomputeQueueDepth(depth int) {
	RecomputeQueueDepth.Set(float64(depth))
}

// RecordAlertFired records a newly triggered alert.
func RecordAlertFired(severity, rule string) {
	AlertsFiredTotal.WithLabelValues(severity, rule).Inc()
	AlertsActive.WithLabelValues(rule).Inc()
}

// RecordAlertEscalated records an in-place severity escalation.
func RecordAlertEscalated(rule string) {
	AlertsEscalatedTotal.WithLabelValues(rule).Inc()
}

// RecordAlertResolved records an alert resolution and its total duration.
func RecordAlertResolved(rule string, seconds float64) {
	AlertsResolvedTotal.WithLabelValues(rule).Inc()
	AlertsActive.WithLabelValues(rule).Dec()
	AlertDurationSeconds.WithLabelValues(rule).Observe(seconds)
}

// RecordAlertAcknowledged records an operator acknowledgement.
func RecordAlertAcknowledged() {
	AlertsAcknowledgedTotal.Inc()
}

// RecordNotificationSent records a successful delivery.
func RecordNotificationSent(channel string) {
	NotificationsSentTotal.WithLabelValues(channel).Inc()
}

// RecordNotificationFailed records a permanent delivery failure.
func RecordNotificationFailed(channel string) {
	NotificationsFailedTotal.WithLabelValues(channel).Inc()
}

// RecordNotificationCancelled records a delivery cancelled by resolution.
func RecordNotificationCancelled(channel string) {
	NotificationsCancelledTotal.WithLabelValues(channel).Inc()
}

// ObserveDispatchLatency records one gateway attempt's latency.
func ObserveDispatchLatency(channel string, seconds float64) {
	NotificationDispatchSeconds.WithLabelValues(channel).Observe(seconds)
}
