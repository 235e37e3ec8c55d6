// Package outbox доставляет события размещения заказов и остатков из
// transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/tracing"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 30 * time.Second
)

// Worker публикует pending-сообщения из outbox в брокер по одному,
// в порядке записи.
type Worker struct {
	repo         domain.OutboxRepository
	publisher    domain.OutboxPublisher
	dlqPublisher domain.OutboxPublisher
	metrics      *metrics.OutboxMetrics
	logger       *log.Entry
	tracer       trace.Tracer
	now          func() time.Time

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration

	breakerFailures int
	breakerReset    time.Duration
}

type Option func(*Worker)

func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт получателя сообщений, исчерпавших попытки.
// Без него такие сообщения только помечаются failed.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlqPublisher = publisher }
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу между попытками, далее она удваивается.
// Ноль отключает паузы.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(delay, 0) }
}

// WithCircuitBreaker размыкает публикацию после failures ошибок подряд.
// Пока цепь разомкнута, сообщения остаются pending.
func WithCircuitBreaker(failures int, reset time.Duration) Option {
	return func(w *Worker) {
		w.breakerFailures = failures
		w.breakerReset = reset
	}
}

// BatchResult - итог одного прохода по outbox.
type BatchResult struct {
	Pulled       int
	Published    int
	Failed       int
	DeadLettered int
	// Deferred - сообщения, оставленные pending из-за разомкнутой цепи.
	Deferred int
}

func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		tracer:         tracing.Tracer("backoffice/outbox"),
		now:            time.Now,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.publisher != nil && w.breakerFailures > 0 {
		w.publisher = NewCircuitBreaker(w.publisher, w.breakerFailures, w.breakerReset,
			w.logger.WithField("component", "outbox-circuit-breaker"))
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// verdict - судьба одного сообщения после попытки доставки.
type verdict int

const (
	verdictSent verdict = iota
	verdictFailed
	// Сообщение остаётся pending, батч прерывается.
	verdictStop
	verdictCircuitOpen
)

// ProcessOnce выполняет один проход по outbox.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var res BatchResult
	if ctx.Err() != nil {
		return res
	}

	w.refreshBacklog()
	defer w.refreshBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return res
	}
	res.Pulled = len(batch)

loop:
	for i, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		switch w.deliver(ctx, msg, &res) {
		case verdictSent:
			res.Published++
		case verdictFailed:
			res.Failed++
		case verdictCircuitOpen:
			res.Deferred = len(batch) - i
			w.logger.WithField("deferred", res.Deferred).Warn("outbox publishing paused: circuit is open")
			break loop
		case verdictStop:
			break loop
		}
	}

	if res.Failed > 0 {
		w.logger.WithFields(log.Fields{"published": res.Published, "failed": res.Failed}).
			Warn("outbox batch finished with failures")
	}
	return res
}

// deliver публикует сообщение с повторами и закрывает его в репозитории.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage, res *BatchResult) verdict {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	attempts, err := w.publishWithRetry(ctx, msg)
	switch {
	case err == nil:
		if w.metrics != nil && !msg.CreatedAt.IsZero() {
			w.metrics.Delivered(w.now().Sub(msg.CreatedAt))
		}
		if err := w.repo.MarkSent(msg.ID); err != nil {
			entry.WithError(err).Warn("failed to mark outbox as sent")
		}
		return verdictSent
	case ctx.Err() != nil:
		// Не отправлено и не помечено: уйдёт в следующем проходе после перезапуска.
		return verdictStop
	case errors.Is(err, ErrCircuitOpen):
		return verdictCircuitOpen
	}

	entry.WithError(err).Error("outbox publish failed after retries")
	w.attempt(msg.EventType, metrics.PublishFailed)

	if w.dlqPublisher != nil {
		if dlqErr := w.dlqPublisher.Publish(newDeadLetter(msg, attempts, err, w.now()).message()); dlqErr != nil {
			entry.WithError(dlqErr).Warn("failed to publish to DLQ")
			w.attempt(msg.EventType, metrics.PublishDLQFailed)
		} else {
			res.DeadLettered++
			w.attempt(msg.EventType, metrics.PublishDLQ)
		}
	}
	if err := w.repo.MarkFailed(msg.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox as failed")
	}
	return verdictFailed
}

// publishWithRetry возвращает число сделанных попыток.
func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) (int, error) {
	_, span := w.tracer.Start(ctx, "outbox.Publish", trace.WithAttributes(
		attribute.String("outbox.id", msg.ID),
		attribute.String("outbox.event_type", msg.EventType),
		attribute.String("outbox.aggregate_id", msg.AggregateID),
	))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := w.pause(ctx, w.retryBackoff(attempt-1)); err != nil {
				span.RecordError(err)
				return attempt - 1, err
			}
		}

		err := w.publisher.Publish(msg)
		if err == nil {
			w.attempt(msg.EventType, metrics.PublishSent)
			span.SetAttributes(attribute.Int("outbox.attempts", attempt))
			return attempt, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return attempt, err
		}
		lastErr = err
		w.attempt(msg.EventType, metrics.PublishRetry)
	}

	err := fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "publish failed")
	return w.maxAttempts, err
}

func (w *Worker) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryBackoff - пауза после attempt-й неудачи: base * 2^(attempt-1), не более maxRetryDelay.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	delay := w.retryBaseDelay
	for range attempt - 1 {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func (w *Worker) attempt(eventType, result string) {
	if w.metrics != nil {
		w.metrics.Attempt(eventType, result)
	}
}

func (w *Worker) refreshBacklog() {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.Backlog(stats.PendingCount, stats.Age(w.now()))
}
