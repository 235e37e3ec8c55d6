// Package health отдаёт liveness/readiness и подробный статус зависимостей:
// базы данных, Redis и Kafka.
package health

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// rank упорядочивает статусы от лучшего к худшему.
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

const defaultCheckTimeout = 2 * time.Second

// Check - результат одной проверки.
type Check struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	DurationMs int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// Response - тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check(ctx context.Context) Check
}

// Handler опрашивает зарегистрированные проверки на каждый запрос.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	timeout  time.Duration

	version string
	started time.Time
	now     func() time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: map[string]Checker{},
		timeout:  defaultCheckTimeout,
		version:  version,
		started:  time.Now(),
		now:      time.Now,
	}
}

// SetTimeout ограничивает время одной проверки. Неположительное значение игнорируется.
func (h *Handler) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		h.mu.Lock()
		h.timeout = timeout
		h.mu.Unlock()
	}
}

// RegisterChecker добавляет проверку или заменяет проверку с тем же именем.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Names возвращает имена проверок по алфавиту.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Sorted(maps.Keys(h.checkers))
}

// Run выполняет все проверки параллельно. Сводный статус равен худшему из них.
func (h *Handler) Run(ctx context.Context) (Status, map[string]Check) {
	h.mu.RLock()
	names := slices.Sorted(maps.Keys(h.checkers))
	checkers := make([]Checker, len(names))
	for i, name := range names {
		checkers[i] = h.checkers[name]
	}
	timeout := h.timeout
	h.mu.RUnlock()

	results := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[i] = c.Check(cctx)
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	checks := make(map[string]Check, len(results))
	for i, res := range results {
		checks[names[i]] = res
		if res.Status.rank() > overall.rank() {
			overall = res.Status
		}
	}
	return overall, checks
}

// ServeHTTP отвечает 503 только при unhealthy. Degraded остаётся 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status, checks := h.Run(r.Context())
	now := h.now()

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        status,
		Timestamp:     now.UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
	})
}

func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// ReadinessHandler отказывает только при unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if status, _ := h.Run(r.Context()); status == StatusUnhealthy {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// FuncChecker оборачивает функцию проверки. Ошибка функции даёт onError.
type FuncChecker struct {
	name    string
	fn      func(ctx context.Context) error
	onError Status
}

// NewSimpleChecker - обязательная зависимость, её сбой делает сервис unhealthy.
func NewSimpleChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, onError: StatusUnhealthy}
}

// NewOptionalChecker - необязательная зависимость, её сбой даёт лишь degraded.
func NewOptionalChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn, onError: StatusDegraded}
}

func (c *FuncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	err := c.fn(ctx)
	elapsed := time.Since(start)

	res := Check{Name: c.name, Status: StatusHealthy, DurationMs: elapsed.Milliseconds(), Duration: elapsed}
	if err != nil {
		res.Status = c.onError
		res.Message = err.Error()
	}
	return res
}
