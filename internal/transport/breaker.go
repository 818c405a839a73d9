package transport

import (
	"sync"
	"time"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

const (
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
)

// circuitBreaker trips open after `threshold` consecutive failures and
// lets one probe request through once `cooldown` has passed; the probe's
// outcome either closes the breaker or re-opens it.
type circuitBreaker struct {
	mu        sync.Mutex
	state     CircuitState
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	cooldown  time.Duration
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a request may proceed right now.
func (b *circuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = CircuitHalfOpen
			b.probing = true
			return true
		}
		return false
	default: // CircuitHalfOpen
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// observe records the outcome of a permitted request.
func (b *circuitBreaker) observe(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.state = CircuitClosed
		b.failures = 0
		b.probing = false
		return
	}

	b.failures++
	b.probing = false
	if b.state == CircuitHalfOpen || b.failures >= b.threshold {
		b.state = CircuitOpen
		b.openedAt = time.Now()
	}
}

func (b *circuitBreaker) currentState() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
