package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegister_ReturnsExistingCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := prometheus.CounterOpts{Name: "backoffice_test_total", Help: "test"}

	first := registerCounter(reg, opts)
	second := registerCounter(reg, opts)
	require.Same(t, first, second)
}

func TestRegister_PanicsOnTypeConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	registerGauge(reg, prometheus.GaugeOpts{Name: "backoffice_test_value", Help: "test"})

	require.Panics(t, func() {
		registerHistogram(reg, prometheus.HistogramOpts{Name: "backoffice_test_value", Help: "test"})
	})
}

func TestRegister_PanicsOnInvalidName(t *testing.T) {
	require.Panics(t, func() {
		registerCounter(prometheus.NewRegistry(), prometheus.CounterOpts{Name: "bad name", Help: "test"})
	})
}

func TestGRPCServerMetrics_Shared(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.Same(t, GRPCServerMetrics(reg), GRPCServerMetrics(reg))
}
