package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	IngestCycles      prometheus.Counter
	EmailsIngested    prometheus.Counter
	EmailsDeduped     prometheus.Counter
	ShopSyncFailures  prometheus.Counter
	JobsProcessed     prometheus.Counter
	JobsFailed        prometheus.Counter
	JobsDeadLettered  prometheus.Counter
	JobsSkippedLocked prometheus.Counter
	RepliesSent       prometheus.Counter
	Escalations       prometheus.Counter
	SpamDropped       prometheus.Counter
	CreditRejections  prometheus.Counter
	ProcessingTime    prometheus.Histogram
	QueueDepth        prometheus.Gauge
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		IngestCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_ingest_cycles_total",
			Help: "Total number of ingestion cycles",
		}),
		EmailsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_emails_ingested_total",
			Help: "Total number of inbound emails persisted",
		}),
		EmailsDeduped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_emails_deduped_total",
			Help: "Total number of inbound emails skipped as duplicates",
		}),
		ShopSyncFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_shop_sync_failures_total",
			Help: "Total number of per-shop mailbox sync failures",
		}),
		JobsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_jobs_processed_total",
			Help: "Total number of jobs completed successfully",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_jobs_failed_total",
			Help: "Total number of job attempts that failed",
		}),
		JobsDeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead letter queue",
		}),
		JobsSkippedLocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_jobs_skipped_locked_total",
			Help: "Total number of jobs skipped because the conversation lock was held",
		}),
		RepliesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_replies_sent_total",
			Help: "Total number of outbound replies sent",
		}),
		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_escalations_total",
			Help: "Total number of conversations escalated to a human",
		}),
		SpamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_spam_dropped_total",
			Help: "Total number of messages dropped as spam",
		}),
		CreditRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "support_mail_credit_rejections_total",
			Help: "Total number of messages held for missing credits",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "support_mail_job_processing_duration_seconds",
			Help:    "Time spent processing one job",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "support_mail_queue_depth",
			Help: "Number of pending jobs in the queue",
		}),
	}
}
