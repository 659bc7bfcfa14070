// Package breaker provides the circuit breaker guarding inter-tier
// forwarding: after a run of consecutive upstream failures the breaker
// opens and requests are refused locally until a cooldown passes, then a
// single half-open probe decides whether to close again.
package breaker

import (
	"sync"
	"time"

	"github.com/queryrelay/queryrelay/internal/config"
	"github.com/queryrelay/queryrelay/internal/logging"
)

// State is the breaker's current position
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Breaker is safe for concurrent use by all request handlers
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	threshold int
	cooldown  time.Duration
	logger    *logging.Logger
}

// New creates a closed breaker from configuration
func New(cfg config.BreakerConfig, logger *logging.Logger) *Breaker {
	return &Breaker{
		state:     StateClosed,
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		logger:    logger,
	}
}

// Allow reports whether a request may go upstream. While open it refuses
// until the cooldown elapses, then lets one probe through half-open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return true
	}

	if time.Since(b.lastFailure) > b.cooldown {
		b.state = StateHalfOpen
		b.logger.Info("Circuit breaker entering half-open state")
		return true
	}

	return false
}

// RecordSuccess closes the breaker and resets the failure count
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateClosed {
		b.logger.Info("Circuit breaker closing")
	}
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure counts a failure, opening the breaker at the threshold.
// A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen || b.failures >= b.threshold {
		if b.state != StateOpen {
			b.logger.Warn("Circuit breaker opened", "failures", b.failures)
		}
		b.state = StateOpen
	}
}

// State returns the breaker's current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
