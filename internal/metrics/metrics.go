package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	emailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordernoti_emails_processed_total",
			Help: "Inbound order emails persisted, by tenant",
		},
		[]string{"tenant_id"},
	)

	messagesUnmatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordernoti_messages_unmatched_total",
			Help: "Order-like emails with no matching company, by tenant",
		},
		[]string{"tenant_id"},
	)

	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordernoti_notifications_total",
			Help: "Notification attempts by channel and outcome status",
		},
		[]string{"channel", "status"},
	)

	retryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordernoti_retry_attempts_total",
			Help: "Notification re-attempts made by the retry job",
		},
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordernoti_poll_duration_seconds",
			Help:    "Per-tenant mailbox poll cycle duration",
			Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"tenant_id"},
	)

	schedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordernoti_scheduler_ticks_total",
			Help: "Recurring job ticks by task and result (ok, skipped, error, lock_error)",
		},
		[]string{"task", "result"},
	)

	announcementMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordernoti_announcement_messages_total",
			Help: "Announcement recipient sends by outcome status",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEmailProcessed records a persisted inbound order email
func RecordEmailProcessed(tenantID string) {
	emailsProcessed.WithLabelValues(tenantID).Inc()
}

// RecordUnmatched records an order-like email that matched no company
func RecordUnmatched(tenantID string) {
	messagesUnmatched.WithLabelValues(tenantID).Inc()
}

// RecordNotification records a notification attempt outcome
func RecordNotification(channel, status string) {
	notificationsSent.WithLabelValues(channel, status).Inc()
}

// RecordRetryAttempt records one re-attempt made by the retry job
func RecordRetryAttempt() {
	retryAttempts.Inc()
}

// RecordPollDuration records how long one tenant's poll cycle took
func RecordPollDuration(tenantID string, d time.Duration) {
	pollDuration.WithLabelValues(tenantID).Observe(d.Seconds())
}

// RecordSchedulerTick records a recurring job tick outcome
func RecordSchedulerTick(task, result string) {
	schedulerTicks.WithLabelValues(task, result).Inc()
}

// RecordAnnouncementMessage records one announcement recipient send outcome
func RecordAnnouncementMessage(status string) {
	announcementMessages.WithLabelValues(status).Inc()
}
