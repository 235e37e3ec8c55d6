// Package idempotency периодически удаляет истёкшие ключи идемпотентности.
// Истёкший ключ свободен и без удаления, очистка лишь ограничивает рост хранилища.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// Предел порций за один проход, остаток уходит на следующий тик.
	maxBatchesPerRun = 100
)

// Purger удаляет не более limit ключей с ExpiresAt <= before.
// domain.IdempotencyRepository ему удовлетворяет.
type Purger interface {
	PurgeExpired(before time.Time, limit int) (int, error)
}

// CleanupWorker по тику вызывает Sweep.
type CleanupWorker struct {
	repo      Purger
	metrics   *metrics.CleanupMetrics
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithInterval задаёт паузу между проходами. Неположительное значение игнорируется.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(size int) CleanupOption {
	return func(w *CleanupWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewCleanupWorker создаёт воркер очистки поверх repo.
func NewCleanupWorker(repo Purger, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleanup"),
		interval:  defaultCleanupInterval,
		batchSize: defaultCleanupBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run делает проход сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup disabled: no repository")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	removed, err := w.Sweep(ctx, w.now().UTC())
	if errors.Is(err, context.Canceled) {
		return
	}
	if w.metrics != nil {
		w.metrics.Run(removed, err)
	}

	entry := w.logger.WithField("removed", removed)
	switch {
	case err != nil:
		entry.WithError(err).Warn("idempotency cleanup failed")
	case removed > 0:
		entry.Info("expired idempotency keys removed")
	}
}

// Sweep удаляет истёкшие к моменту before ключи порциями batchSize и
// возвращает число удалённых. Неполная порция означает, что удалять больше нечего.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (int, error) {
	if before.IsZero() {
		before = w.now().UTC()
	}

	removed := 0
	for range maxBatchesPerRun {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		n, err := w.repo.PurgeExpired(before, w.batchSize)
		removed += n
		if err != nil {
			return removed, err
		}
		if n < w.batchSize {
			break
		}
	}
	return removed, nil
}
