// Package app собирает сервис бэк-офиса: HTTP API, admin gRPC, метрики,
// outbox и фоновую очистку idempotency-ключей.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "github.com/vladislavdragonenkov/backoffice/internal/health"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
	"github.com/vladislavdragonenkov/backoffice/internal/service/httpsvc"
	"github.com/vladislavdragonenkov/backoffice/internal/service/placement"
	"github.com/vladislavdragonenkov/backoffice/internal/tracing"
	"github.com/vladislavdragonenkov/backoffice/internal/version"
)

const (
	serviceName     = "backoffice"
	shutdownTimeout = 5 * time.Second
)

// Run запускает сервис и блокируется до отмены ctx или падения одного из серверов.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	brokers := cfg.kafkaBrokers()
	// Ошибка producer не фатальна: события остаются в outbox.
	kafkaProducer, _ := initKafkaProducer(brokers, logger)
	defer closeKafka(kafkaProducer, logger)
	if len(brokers) > 0 {
		healthHandler.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", kafkaChecker(brokers)))
	}
	if cfg.OutboxMaxPending > 0 {
		healthHandler.RegisterChecker("outbox", healthcheck.NewOptionalChecker("outbox", outboxBacklogCheck(deps.outboxRepo, cfg.OutboxMaxPending)))
	}

	coordinator := placement.NewCoordinator(deps.uow,
		placement.WithLogger(log.WithField("component", "placement")),
		placement.WithMetrics(metrics.NewPlacementMetrics()),
		placement.WithTimeout(cfg.OrderTimeout),
	)

	apiOpts := []httpsvc.Option{httpsvc.WithLogger(log.WithField("component", "http-api"))}
	if deps.idempotencyRepo != nil {
		apiOpts = append(apiOpts, httpsvc.WithIdempotency(deps.idempotencyRepo, cfg.IdempotencyTTL))
	}
	api := httpsvc.NewHandler(coordinator, deps.orders, deps.inventory, apiOpts...)

	workersCtx, cancelWorkers := context.WithCancel(ctx)
	publisher, dlqPublisher := outboxPublishers(kafkaProducer, cfg)
	workersDone := startWorkers(workersCtx, cfg, deps, publisher, dlqPublisher, logger)
	defer shutdownWorkers(cancelWorkers, workersDone, logger)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	grpcServer, grpcHealth := newAdminGRPCServer()

	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}
	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}

	apiSrv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("admin gRPC сервер слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	return runErr
}
