package outbox

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/domain"
)

// ErrCircuitOpen возвращается, пока брокер считается недоступным.
// Worker оставляет такие сообщения в pending, а не отправляет в DLQ.
var ErrCircuitOpen = errors.New("outbox publisher circuit is open")

// CircuitState - состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker размыкается после maxFailures неудачных публикаций подряд.
// Через resetTimeout после последней ошибки пропускается одна пробная
// публикация: успех замыкает цепь, ошибка снова размыкает.
type CircuitBreaker struct {
	next         domain.OutboxPublisher
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
}

func NewCircuitBreaker(next domain.OutboxPublisher, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "outbox-circuit-breaker")
	}
	return &CircuitBreaker{
		next:         next,
		maxFailures:  max(maxFailures, 1),
		resetTimeout: resetTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Publish(msg domain.OutboxMessage) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := cb.next.Publish(msg)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitClosed {
		return true
	}
	// В half-open пробная публикация уже идёт.
	if cb.state == CircuitHalfOpen || cb.now().Sub(cb.openedAt) < cb.resetTimeout {
		return false
	}
	cb.moveTo(CircuitHalfOpen)
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.moveTo(CircuitClosed)
		return
	}
	cb.failures++
	cb.openedAt = cb.now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.moveTo(CircuitOpen)
	}
}

// moveTo вызывается под mu.
func (cb *CircuitBreaker) moveTo(next CircuitState) {
	if cb.state == next {
		return
	}
	cb.logger.WithFields(log.Fields{
		"from":     cb.state.String(),
		"to":       next.String(),
		"failures": cb.failures,
	}).Info("outbox circuit breaker state changed")
	cb.state = next
}
