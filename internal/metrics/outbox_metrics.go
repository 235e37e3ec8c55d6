package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы публикации события из outbox.
const (
	PublishSent      = "sent"
	PublishRetry     = "retry_error"
	PublishFailed    = "failed"
	PublishDLQ       = "dlq"
	PublishDLQFailed = "dlq_failed"
)

// OutboxMetrics описывает публикацию событий заказа и склада.
type OutboxMetrics struct {
	attempts      *prometheus.CounterVec
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
	publishTime   prometheus.Histogram
}

// NewOutboxMetrics регистрирует метрики в глобальном реестре.
func NewOutboxMetrics() *OutboxMetrics {
	return NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOutboxMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OutboxMetrics{
		attempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backoffice_outbox_publish_attempts_total",
			Help: "Outbox publish attempts by event type and result",
		}, []string{"event_type", "result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "backoffice_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox",
		}),
		oldestPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "backoffice_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record",
		}),
		publishTime: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "backoffice_outbox_publish_duration_seconds",
			Help:    "Time from enqueue to successful publish",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

// Attempt учитывает одну попытку публикации.
func (m *OutboxMetrics) Attempt(eventType, result string) {
	m.attempts.WithLabelValues(eventType, result).Inc()
}

// Backlog обновляет размер и возраст очереди.
func (m *OutboxMetrics) Backlog(pending int, oldestAge time.Duration) {
	if oldestAge < 0 {
		oldestAge = 0
	}
	m.pending.Set(float64(pending))
	m.oldestPending.Set(oldestAge.Seconds())
}

// Delivered фиксирует задержку между записью события и его публикацией.
func (m *OutboxMetrics) Delivered(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	m.publishTime.Observe(lag.Seconds())
}

// CleanupMetrics описывает очистку просроченных ключей идемпотентности.
type CleanupMetrics struct {
	removed prometheus.Counter
	runs    *prometheus.CounterVec
}

// NewCleanupMetricsWithRegisterer регистрирует метрики cleanup-воркера.
func NewCleanupMetricsWithRegisterer(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CleanupMetrics{
		removed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backoffice_idempotency_keys_removed_total",
			Help: "Expired idempotency keys removed by the cleanup worker",
		}),
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backoffice_idempotency_cleanup_runs_total",
			Help: "Idempotency cleanup runs by result",
		}, []string{"result"}),
	}
}

// Run фиксирует один проход очистки.
func (m *CleanupMetrics) Run(removed int, err error) {
	if err != nil {
		m.runs.WithLabelValues("error").Inc()
		return
	}
	m.runs.WithLabelValues("ok").Inc()
	m.removed.Add(float64(removed))
}
