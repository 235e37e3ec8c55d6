package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/backoffice/internal/health"
	"github.com/vladislavdragonenkov/backoffice/internal/metrics"
)

// newAdminGRPCServer поднимает служебный gRPC: grpc.health.v1 для балансировщиков
// и reflection для grpcurl. Бизнес-API сервиса живёт в HTTP.
func newAdminGRPCServer() (*grpc.Server, *health.Server) {
	m := metrics.GRPCServerMetrics(prometheus.DefaultRegisterer)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(m.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(m.StreamServerInterceptor()),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	m.InitializeMetrics(srv)
	return srv, hs
}

// stopGRPC ждёт завершения активных вызовов не дольше shutdownTimeout.
func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.GracefulStop()
	}()

	timer := time.NewTimer(shutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("grpc graceful stop timed out, forcing stop")
		srv.Stop()
	}
}

// adminMux собирает служебные HTTP-маршруты: метрики и пробы.
func adminMux(hc *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /healthz", hc)
	mux.HandleFunc("GET /livez", healthcheck.LivenessHandler)
	mux.HandleFunc("GET /readyz", hc.ReadinessHandler)
	return mux
}

// startMetricsServer слушает addr в фоне и останавливается вместе с ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, hc *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: adminMux(hc), ReadHeaderTimeout: 5 * time.Second}
	logger = logger.WithField("addr", addr)

	go func() {
		logger.Info("admin http listening: /metrics /healthz /livez /readyz")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	context.AfterFunc(ctx, func() { shutdownHTTP(srv, logger) })
	return srv
}

func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
