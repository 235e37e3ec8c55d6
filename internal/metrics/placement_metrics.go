package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы размещения заказа (значения label result).
const (
	ResultPlaced              = "placed"
	ResultInvalidRequest      = "invalid_request"
	ResultNotFound            = "not_found"
	ResultInsufficientStock   = "insufficient_stock"
	ResultConstraintViolation = "constraint_violation"
	ResultOperational         = "operational"
)

// PlacementMetrics содержит метрики размещения заказов.
type PlacementMetrics struct {
	ordersTotal   *prometheus.CounterVec
	duration      prometheus.Histogram
	stepDuration  *prometheus.HistogramVec
	itemsPerOrder prometheus.Histogram
	lowStock      prometheus.Counter
	inFlight      prometheus.Gauge
}

// NewPlacementMetrics регистрирует метрики в глобальном реестре.
func NewPlacementMetrics() *PlacementMetrics {
	return NewPlacementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewPlacementMetricsWithRegisterer регистрирует метрики в переданном реестре (удобно в тестах).
func NewPlacementMetricsWithRegisterer(registerer prometheus.Registerer) *PlacementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PlacementMetrics{
		ordersTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "backoffice_orders_placement_total",
			Help: "Order placement attempts by result",
		}, []string{"result"}),
		duration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "backoffice_order_placement_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "backoffice_order_placement_step_duration_seconds",
			Help:    "Duration of individual placement phases in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		itemsPerOrder: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "backoffice_order_items",
			Help:    "Number of line items per placed order",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		lowStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "backoffice_inventory_low_stock_total",
			Help: "Number of times a variant dropped to its reorder level",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "backoffice_order_placements_in_flight",
			Help: "Number of order placements currently running",
		}),
	}
}

// Started отмечает начало размещения.
func (m *PlacementMetrics) Started() {
	m.inFlight.Inc()
}

// Finished фиксирует исход и длительность размещения.
func (m *PlacementMetrics) Finished(result string, duration time.Duration) {
	m.inFlight.Dec()
	m.ordersTotal.WithLabelValues(result).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordItems записывает количество позиций успешно размещённого заказа.
func (m *PlacementMetrics) RecordItems(n int) {
	m.itemsPerOrder.Observe(float64(n))
}

// RecordStepDuration записывает время выполнения фазы размещения.
func (m *PlacementMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordLowStock увеличивает счётчик достижения уровня дозаказа.
func (m *PlacementMetrics) RecordLowStock() {
	m.lowStock.Inc()
}
