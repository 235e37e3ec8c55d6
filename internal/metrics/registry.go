package metrics

import (
	"errors"
	"fmt"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

// register добавляет коллектор в registerer. Если коллектор с тем же
// описанием уже есть, возвращается он: приложение можно собрать в одном
// процессе несколько раз.
func register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var dup prometheus.AlreadyRegisteredError
	if !errors.As(err, &dup) {
		panic(fmt.Sprintf("register %s: %v", name, err))
	}
	existing, ok := dup.ExistingCollector.(C)
	if !ok {
		panic(fmt.Sprintf("%s is already registered as %T", name, dup.ExistingCollector))
	}
	return existing
}

func registerCounter(r prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	return register(r, opts.Name, prometheus.NewCounter(opts))
}

func registerCounterVec(r prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	return register(r, opts.Name, prometheus.NewCounterVec(opts, labels))
}

func registerGauge(r prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	return register(r, opts.Name, prometheus.NewGauge(opts))
}

func registerHistogram(r prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	return register(r, opts.Name, prometheus.NewHistogram(opts))
}

func registerHistogramVec(r prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	return register(r, opts.Name, prometheus.NewHistogramVec(opts, labels))
}

// GRPCServerMetrics возвращает интерсепторы gRPC, зарегистрированные в registerer.
func GRPCServerMetrics(registerer prometheus.Registerer) *promgrpc.ServerMetrics {
	return register(registerer, "grpc_server", promgrpc.NewServerMetrics())
}
