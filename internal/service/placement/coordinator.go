// Package placement размещает заказ как одну атомарную единицу работы:
// проверка клиента и остатков, списание, создание заказа и начисление баланса.
package placement

import (
	"context"
	"errors"
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
	// DefaultTimeout ограничивает всю транзакцию размещения.
	DefaultTimeout = 5 * time.Second

	stepValidate = "validate"
	stepMutate   = "mutate"
	stepCommit   = "commit"
)

// Coordinator выполняет размещение заказов поверх UnitOfWork.
type Coordinator struct {
	uow     domain.UnitOfWork
	logger  *log.Entry
	metrics *metrics.PlacementMetrics
	tracer  trace.Tracer
	timeout time.Duration
	now     func() time.Time
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики размещения.
func WithMetrics(m *metrics.PlacementMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithTimeout задаёт предельную длительность транзакции.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator создаёт координатор размещения.
func NewCoordinator(uow domain.UnitOfWork, opts ...Option) *Coordinator {
	c := &Coordinator{
		uow:     uow,
		logger:  log.New().WithField("component", "order-placement"),
		tracer:  tracing.Tracer("backoffice/placement"),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaceOrder атомарно размещает заказ.
//
// Отмена ctx учитывается до начала фазы изменений. После этого транзакция
// доводится до Commit или Rollback в пределах таймаута независимо от клиента.
func (c *Coordinator) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (order domain.Order, err error) {
	started := c.now()
	if c.metrics != nil {
		c.metrics.Started()
	}

	ctx, span := c.tracer.Start(ctx, "placement.PlaceOrder", trace.WithAttributes(
		attribute.Int("order.items", len(req.Items)),
		attribute.Int64("order.created_by", req.ActingStaffID),
	))
	defer func() {
		result := resultOf(err)
		if c.metrics != nil {
			c.metrics.Finished(result, c.now().Sub(started))
		}
		span.SetAttributes(attribute.String("placement.result", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		} else {
			span.SetAttributes(attribute.Int64("order.id", order.ID))
		}
		span.End()
	}()

	logger := c.logger.WithField("operation", "PlaceOrder")
	if req.CustomerID != nil {
		logger = logger.WithField("customer_id", *req.CustomerID)
	}

	if errs := req.ValidateInvariants(); len(errs) > 0 {
		err = errors.Join(errs...)
		logger.WithError(err).Info("order request rejected")
		return domain.Order{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Order{}, domain.Operational("place order", ctxErr)
	}

	order, err = c.placeInTx(ctx, req, logger)
	if err != nil {
		entry := logger.WithError(err)
		if domain.IsOperational(err) {
			entry.Error("order placement failed")
		} else {
			entry.Info("order placement rejected")
		}
		return domain.Order{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordItems(len(order.Items))
	}
	logger.WithFields(log.Fields{
		"order_id": order.ID,
		"items":    order.ItemsCount,
		"total":    order.TotalAmount.StringFixed(2),
	}).Info("order placed")
	return order, nil
}

func (c *Coordinator) placeInTx(ctx context.Context, req domain.PlaceOrderRequest, logger *log.Entry) (domain.Order, error) {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	// До фазы изменений отмена клиента обрывает транзакцию.
	stopCallerCancel := context.AfterFunc(ctx, cancel)

	validateStarted := c.now()
	tx, err := c.uow.Begin(txCtx)
	if err != nil {
		stopCallerCancel()
		return domain.Order{}, domain.Operational("begin transaction", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.WithError(rbErr).Warn("rollback failed")
		}
	}()

	// Клиент блокируется первым, затем остатки по возрастанию variant_id.
	var customer *domain.Customer
	if req.CustomerID != nil {
		found, err := tx.Customers().Get(txCtx, *req.CustomerID)
		if err != nil {
			stopCallerCancel()
			return domain.Order{}, domain.Operational("load customer", err)
		}
		customer = &found
	}

	demand := req.Demand()
	available := make(map[int64]int, len(demand))
	for _, d := range demand {
		if _, err := tx.Variants().Get(txCtx, d.VariantID); err != nil {
			stopCallerCancel()
			return domain.Order{}, domain.Operational("load variant", err)
		}
		ok, qty, err := tx.Inventory().CheckAndReserve(txCtx, d.VariantID, d.Quantity)
		if err != nil {
			stopCallerCancel()
			return domain.Order{}, domain.Operational("check inventory", err)
		}
		if !ok {
			stopCallerCancel()
			return domain.Order{}, &domain.StockError{VariantID: d.VariantID, Requested: d.Quantity, Available: qty}
		}
		available[d.VariantID] = qty
	}
	c.recordStep(stepValidate, validateStarted)

	if !stopCallerCancel() {
		return domain.Order{}, domain.Operational("place order", context.Cause(ctx))
	}

	mutateStarted := c.now()
	now := c.now().UTC()
	items := make([]domain.OrderItem, 0, len(req.Items))
	after := make([]domain.InventoryRecord, 0, len(req.Items))
	for _, line := range req.Items {
		rec, err := tx.Inventory().Decrement(txCtx, line.VariantID, line.Quantity)
		if err != nil {
			return domain.Order{}, domain.Operational("decrement inventory", err)
		}
		after = append(after, rec)
		items = append(items, domain.OrderItem{
			VariantID:       line.VariantID,
			Quantity:        line.Quantity,
			PriceAtPurchase: line.UnitPrice,
			DiscountRate:    line.DiscountRate,
			DiscountAmount:  line.DiscountAmount,
			CreatedBy:       req.ActingStaffID,
			CreatedAt:       now,
		})
	}

	order, err := tx.Orders().Create(txCtx, domain.Order{
		CustomerID:  req.CustomerID,
		ItemsCount:  len(items),
		TotalAmount: req.DeclaredTotal,
		Status:      req.EffectiveStatus(),
		OrderDate:   now,
		CreatedBy:   req.ActingStaffID,
		CreatedAt:   now,
		Items:       items,
	})
	if err != nil {
		return domain.Order{}, domain.Operational("create order", err)
	}

	for i, line := range req.Items {
		if err := tx.Movements().Append(txCtx, domain.StockMovement{
			VariantID:     line.VariantID,
			OrderID:       order.ID,
			Delta:         -line.Quantity,
			QuantityAfter: after[i].Quantity,
			Reason:        domain.MovementReasonOrderPlaced,
			CreatedBy:     req.ActingStaffID,
			CreatedAt:     now,
		}); err != nil {
			return domain.Order{}, domain.Operational("append stock movement", err)
		}
	}

	if customer != nil {
		if err := tx.Customers().IncreaseBalance(txCtx, customer.ID, req.DeclaredTotal); err != nil {
			return domain.Order{}, domain.Operational("increase customer balance", err)
		}
	}

	lowStock, err := c.enqueueEvents(txCtx, tx, order, after, available, now)
	if err != nil {
		return domain.Order{}, err
	}
	c.recordStep(stepMutate, mutateStarted)

	commitStarted := c.now()
	if err := tx.Commit(); err != nil {
		return domain.Order{}, domain.Operational("commit", err)
	}
	committed = true
	c.recordStep(stepCommit, commitStarted)
	if c.metrics != nil {
		for range lowStock {
			c.metrics.RecordLowStock()
		}
	}

	return order, nil
}

// enqueueEvents кладёт order.placed и, при пересечении уровня дозаказа, inventory.low_stock.
// Возвращает число поставленных low_stock событий.
func (c *Coordinator) enqueueEvents(
	ctx context.Context,
	tx domain.Tx,
	order domain.Order,
	after []domain.InventoryRecord,
	before map[int64]int,
	now time.Time,
) (int, error) {
	msg, err := orderPlacedMessage(order, now)
	if err != nil {
		return 0, domain.Operational("encode order event", err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return 0, domain.Operational("enqueue order event", err)
	}

	// Итоговое состояние варианта - последняя запись по нему.
	final := make(map[int64]domain.InventoryRecord, len(before))
	for _, rec := range after {
		final[rec.VariantID] = rec
	}
	queued := 0
	for variantID, rec := range final {
		if !rec.LowStock() || before[variantID] <= rec.ReorderLevel {
			continue
		}
		msg, err := lowStockMessage(rec, order.ID, now)
		if err != nil {
			return 0, domain.Operational("encode low stock event", err)
		}
		if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return 0, domain.Operational("enqueue low stock event", err)
		}
		queued++
	}
	return queued, nil
}

func (c *Coordinator) recordStep(step string, started time.Time) {
	if c.metrics != nil {
		c.metrics.RecordStepDuration(step, c.now().Sub(started))
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultPlaced
	case domain.IsInvalidRequest(err):
		return metrics.ResultInvalidRequest
	case domain.IsNotFound(err):
		return metrics.ResultNotFound
	case domain.IsInsufficientStock(err):
		return metrics.ResultInsufficientStock
	case domain.IsConstraintViolation(err):
		return metrics.ResultConstraintViolation
	default:
		return metrics.ResultOperational
	}
}
