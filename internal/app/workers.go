package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/service/idempotency"
	"github.com/vladislavdragonenkov/backoffice/internal/service/outbox"
)

// startWorkers запускает outbox worker и очистку idempotency-ключей.
// Возвращённый канал закрывается, когда все воркеры остановились.
func startWorkers(
	ctx context.Context,
	cfg Config,
	deps *runtimeDependencies,
	publisher domain.OutboxPublisher,
	dlqPublisher domain.OutboxPublisher,
	logger *log.Entry,
) <-chan struct{} {
	var wg sync.WaitGroup

	if publisher != nil && deps.outboxRepo != nil {
		worker := outbox.NewWorker(deps.outboxRepo, publisher,
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics()),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithCircuitBreaker(cfg.OutboxBreakerFailures, cfg.OutboxBreakerReset),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
		logger.WithField("topic", cfg.KafkaTopic).Info("outbox worker started")
	} else {
		logger.Info("kafka is not configured, outbox events stay pending")
	}

	if deps.idempotencyRepo != nil {
		cleaner := idempotency.NewCleanupWorker(deps.idempotencyRepo,
			idempotency.WithLogger(log.WithField("component", "idempotency-cleanup")),
			idempotency.WithMetrics(metrics.NewCleanupMetricsWithRegisterer(prometheus.DefaultRegisterer)),
			idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
			idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			cleaner.Run(ctx)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// shutdownWorkers отменяет контекст воркеров и ждёт их остановки с таймаутом.
func shutdownWorkers(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logger.Warn("background workers did not stop in time")
	}
}

// outboxBacklogCheck сообщает о backlog outbox больше порога.
func outboxBacklogCheck(repo domain.OutboxRepository, maxPending int) func(ctx context.Context) error {
	return func(context.Context) error {
		if repo == nil {
			return nil
		}
		stats, err := repo.Stats()
		if err != nil {
			return err
		}
		if stats.PendingCount > maxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, maxPending)
		}
		return nil
	}
}
