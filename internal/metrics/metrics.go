package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommentsPostedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdesk_comments_posted_total",
			Help: "Total number of thread comments accepted",
		},
	)

	CommentsRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdesk_comments_rate_limited_total",
			Help: "Total number of comments rejected by the rate bucket",
		},
	)

	NotificationsSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdesk_notifications_sent_total",
			Help: "Total number of update notification emails sent",
		},
	)

	NotificationsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdesk_notifications_failed_total",
			Help: "Total number of update notification deliveries that failed",
		},
	)

	NotificationsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orderdesk_notifications_dropped_total",
			Help: "Total number of notification jobs dropped because the queue was full",
		},
	)

	NotificationDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orderdesk_notification_delivery_duration_seconds",
			Help:    "Duration of notification email deliveries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all Prometheus metrics.
func Register() {
	prometheus.MustRegister(CommentsPostedTotal)
	prometheus.MustRegister(CommentsRateLimitedTotal)
	prometheus.MustRegister(NotificationsSentTotal)
	prometheus.MustRegister(NotificationsFailedTotal)
	prometheus.MustRegister(NotificationsDroppedTotal)
	prometheus.MustRegister(NotificationDeliveryDuration)
}
