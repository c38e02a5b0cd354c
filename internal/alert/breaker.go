package alert

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker stops deliveries after consecutive failures against the bot
// server. Once the cooldown passes a single delivery is let through as a
// trial; its outcome closes or reopens the breaker. Deliveries arriving while
// the trial is in flight are rejected.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker that opens after threshold
// consecutive failures and stays open for cooldown
func NewCircuitBreaker(threshold int, cooldown time.Duration, logger *zap.Logger) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// allow reports whether a delivery may be attempted now
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case breakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.transition(breakerHalfOpen)
		return true
	case breakerHalfOpen:
		return false
	default:
		return true
	}
}

// release hands back a trial slot when the delivery never reached the server
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == breakerHalfOpen {
		cb.state = breakerOpen
		cb.openedAt = cb.now().Add(-cb.cooldown)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	if cb.state != breakerClosed {
		cb.transition(breakerClosed)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.threshold {
		cb.openedAt = cb.now()
		if cb.state != breakerOpen {
			cb.transition(breakerOpen)
		}
	}
}

// transition must be called with mu held
func (cb *CircuitBreaker) transition(to breakerState) {
	cb.logger.Info("Delivery circuit breaker state changed",
		zap.String("from", cb.state.String()),
		zap.String("to", to.String()),
		zap.Int("failures", cb.failures))
	cb.state = to
}

func (cb *CircuitBreaker) currentState() breakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
