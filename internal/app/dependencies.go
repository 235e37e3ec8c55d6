package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/backoffice/internal/health"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/memory"
	"github.com/vladislavdragonenkov/backoffice/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/backoffice/internal/storage/redis"
)

// runtimeDependencies - хранилища и их проверки здоровья для выбранного драйвера.
type runtimeDependencies struct {
	uow             domain.UnitOfWork
	orders          domain.OrderQueryRepository
	inventory       domain.InventoryQueryRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	checkers        map[string]healthcheck.Checker
	closeFn         func() error
}

// initRuntimeDependencies открывает хранилище и бэкенд idempotency-ключей.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	var closers []func() error

	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		if cfg.SeedDemo {
			store.SeedDemo()
			logger.Info("memory store seeded with demo catalog")
		}
		deps.uow = store
		deps.orders = store
		deps.inventory = store
		deps.outboxRepo = store.Outbox()
		deps.checkers["storage"] = healthcheck.NewSimpleChecker("memory", func(context.Context) error {
			return store.Ping()
		})
		if cfg.idempotencyBackend() == IdempotencyBackendMemory {
			deps.idempotencyRepo = memory.NewIdempotencyRepository()
		}

	case StorageDriverPostgres:
		store, err := postgres.OpenWithPool(ctx, cfg.PostgresDSN, postgres.PoolConfig{MaxOpenConns: cfg.PostgresMaxOpenConns})
		if err != nil {
			return nil, fmt.Errorf("open postgres storage: %w", err)
		}
		closers = append(closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		if cfg.SeedDemo {
			if err := store.SeedDemo(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("seed postgres demo catalog: %w", err)
			}
		}

		queries := postgres.NewQueryRepository(store)
		deps.uow = postgres.NewUnitOfWork(store, cfg.LockTimeout)
		deps.orders = queries
		deps.inventory = queries
		deps.outboxRepo = postgres.NewOutboxRepository(store)
		deps.checkers["storage"] = healthcheck.NewSimpleChecker("postgres", store.Ping)
		switch cfg.idempotencyBackend() {
		case IdempotencyBackendPostgres:
			deps.idempotencyRepo = postgres.NewIdempotencyRepository(store)
		case IdempotencyBackendMemory:
			deps.idempotencyRepo = memory.NewIdempotencyRepository()
		}
		logger.WithField("auto_migrate", cfg.PostgresAutoMigrate).Info("postgres storage initialized")
	}

	if cfg.idempotencyBackend() == IdempotencyBackendRedis {
		client, err := redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			_ = closeAll(closers)
			return nil, fmt.Errorf("open redis idempotency backend: %w", err)
		}
		closers = append(closers, client.Close)
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client, "")
		deps.checkers["idempotency"] = healthcheck.NewSimpleChecker("redis", redisPing(client))
		logger.WithField("addr", cfg.RedisAddr).Info("redis idempotency backend initialized")
	}

	deps.closeFn = func() error { return closeAll(closers) }
	return deps, nil
}

func redisPing(client goredis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

// closeAll закрывает ресурсы в обратном порядке открытия.
func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
