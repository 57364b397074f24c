package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "opsdesk"

var (
	emailQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "email_queue_size",
			Help:      "Number of emails in the delivery queue by status",
		},
		[]string{"status"},
	)

	emailsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "emails_enqueued_total",
			Help:      "Total emails added to the delivery queue",
		},
	)

	emailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "emails_sent_total",
			Help:      "Total email delivery attempts by outcome",
		},
		[]string{"status"},
	)

	emailSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "email_send_duration_seconds",
			Help:      "Time to deliver an email",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// recordEmailsEnqueued records new queue entries.
func recordEmailsEnqueued(count int) {
	emailsEnqueued.Add(float64(count))
}

// recordEmailSent records a delivery attempt outcome.
func recordEmailSent(status string) {
	emailsSent.WithLabelValues(status).Inc()
}

// recordEmailDuration records email delivery duration.
func recordEmailDuration(duration time.Duration) {
	emailSendDuration.Observe(duration.Seconds())
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	emailQueueSize.WithLabelValues("pending").Set(float64(stats.Pending))
	emailQueueSize.WithLabelValues("sent").Set(float64(stats.Sent))
	emailQueueSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
