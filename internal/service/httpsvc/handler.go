// Package httpsvc реализует HTTP API back-office: размещение заказов и чтение
// заказов, остатков и журнала движения.
package httpsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
	"github.com/vladislavdragonenkov/backoffice/internal/tracing"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
	maxBodyBytes     = 1 << 20
	// DefaultIdempotencyTTL - срок хранения ответа по Idempotency-Key.
	DefaultIdempotencyTTL = domain.DefaultIdempotencyTTL
)

// OrderPlacer размещает заказ одной транзакцией.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Order, error)
}

// Handler обслуживает /api/*.
type Handler struct {
	placer    OrderPlacer
	orders    domain.OrderQueryRepository
	inventory domain.InventoryQueryRepository
	idem      domain.IdempotencyRepository
	idemTTL   time.Duration
	logger    *log.Entry
	tracer    trace.Tracer
	now       func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithIdempotency включает обработку заголовка Idempotency-Key.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idem = repo
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler создаёт HTTP-обработчик API.
func NewHandler(
	placer OrderPlacer,
	orders domain.OrderQueryRepository,
	inventory domain.InventoryQueryRepository,
	opts ...Option,
) *Handler {
	h := &Handler{
		placer:    placer,
		orders:    orders,
		inventory: inventory,
		idemTTL:   DefaultIdempotencyTTL,
		logger:    log.New().WithField("component", "http-api"),
		tracer:    tracing.Tracer("backoffice/httpsvc"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes возвращает маршрутизатор с middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", h.handlePlaceOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.handleGetOrder)
	mux.HandleFunc("GET /api/customers/{id}/orders", h.handleListCustomerOrders)
	mux.HandleFunc("GET /api/inventory/{variant_id}", h.handleGetInventory)
	mux.HandleFunc("GET /api/inventory/{variant_id}/movements", h.handleListMovements)

	return h.withRequestID(h.withTracing(h.withLogging(mux)))
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body is too large or unreadable", Code: codeInvalidRequest})
		return
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if key == "" || h.idem == nil {
		status, payload := h.placeOrder(r.Context(), body)
		writeJSON(w, status, payload)
		return
	}

	h.withIdempotency(w, r, key, body, func() (int, any) {
		return h.placeOrder(r.Context(), body)
	})
}

func (h *Handler) placeOrder(ctx context.Context, raw []byte) (int, any) {
	var body placeOrderBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return http.StatusBadRequest, errorBody{Error: fmt.Sprintf("malformed JSON: %v", err), Code: codeInvalidRequest}
	}

	req, err := body.toRequest()
	if err != nil {
		return placementStatus(err)
	}

	order, err := h.placer.PlaceOrder(ctx, req)
	if err != nil {
		status, payload := placementStatus(err)
		if status >= http.StatusInternalServerError {
			loggerFrom(ctx, h.logger).WithError(err).Error("place order failed")
		}
		return status, payload
	}

	return http.StatusCreated, envelope{Message: successMessage, Data: toOrderDTO(order)}
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: toOrderDTO(order)})
}

func (h *Handler) handleListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListByCustomer(r.Context(), id, limit)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}

	result := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		result = append(result, toOrderDTO(o))
	}
	writeJSON(w, http.StatusOK, envelope{Data: result})
}

func (h *Handler) handleGetInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "variant_id")
	if !ok {
		return
	}

	rec, err := h.inventory.GetInventory(r.Context(), id)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: toInventoryDTO(rec)})
}

func (h *Handler) handleListMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "variant_id")
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	movements, err := h.inventory.ListMovements(r.Context(), id, limit)
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}

	result := make([]movementDTO, 0, len(movements))
	for _, m := range movements {
		result = append(result, toMovementDTO(m))
	}
	writeJSON(w, http.StatusOK, envelope{Data: result})
}

func (h *Handler) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := queryStatus(err)
	if status >= http.StatusInternalServerError {
		loggerFrom(r.Context(), h.logger).WithError(err).Error("query failed")
	}
	writeJSON(w, status, payload)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("%s must be a positive integer", name),
			Code:  codeInvalidRequest,
		})
		return 0, false
	}
	return id, true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > maxListLimit {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: fmt.Sprintf("limit must be between 1 and %d", maxListLimit),
			Code:  codeInvalidRequest,
		})
		return 0, false
	}
	return limit, true
}

func encode(payload any) ([]byte, error) {
	return json.Marshal(payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := encode(payload)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"failed to encode response","code":"operational"}`)
	}
	writeRaw(w, status, data)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		log.WithError(err).Debug("write response failed")
	}
}
