package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before opening the circuit
	MaxFailures int

	// Cooldown is how long to wait before transitioning from Open to Half-Open
	Cooldown time.Duration

	// HalfOpenRequests is the max requests allowed through in Half-Open state
	HalfOpenRequests int

	// SuccessThreshold is the number of consecutive successes needed in Half-Open to go to Closed
	SuccessThreshold int

	// OnStateChange, if set, is called after every transition
	OnStateChange func(from, to CircuitBreakerState)
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		Cooldown:         5 * time.Second,
		HalfOpenRequests: 1,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker short-circuits calls to a dependency that keeps failing.
// Unlike a retry helper it never blocks: an open circuit fails the call
// immediately with ErrCircuitOpen. All state is kept in atomics.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	state     atomic.Int32
	failures  atomic.Int32
	successes atomic.Int32
	inflight  atomic.Int32
	openedAt  atomic.Int64
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
// Zero values in config fall back to DefaultCircuitBreakerConfig.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = def.MaxFailures
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenRequests <= 0 {
		config.HalfOpenRequests = def.HalfOpenRequests
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = def.SuccessThreshold
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Execute runs fn when the circuit allows it and records the outcome. fn is
// expected to honour ctx for its own deadline.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	halfOpen, err := cb.beforeRequest()
	if err != nil {
		return err
	}
	if halfOpen {
		defer cb.inflight.Add(-1)
	}
	if err := fn(ctx); err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) beforeRequest() (bool, error) {
	switch cb.State() {
	case StateClosed:
		return false, nil
	case StateOpen:
		if cb.now().Sub(time.Unix(0, cb.openedAt.Load())) < cb.config.Cooldown {
			return false, ErrCircuitOpen
		}
		cb.transition(StateOpen, StateHalfOpen)
	}
	// half-open: admit a bounded number of probes
	if cb.inflight.Add(1) > int32(cb.config.HalfOpenRequests) {
		cb.inflight.Add(-1)
		return false, ErrCircuitOpen
	}
	return true, nil
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.State() {
	case StateClosed:
		cb.failures.Store(0)
	case StateHalfOpen:
		if int(cb.successes.Add(1)) >= cb.config.SuccessThreshold {
			cb.transition(StateHalfOpen, StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	failures := cb.failures.Add(1)
	switch cb.State() {
	case StateClosed:
		if int(failures) >= cb.config.MaxFailures {
			cb.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateHalfOpen, StateOpen)
	}
}

// transition moves from -> to only if the breaker is still in from, so
// concurrent callers observing the same event transition once.
func (cb *CircuitBreaker) transition(from, to CircuitBreakerState) {
	if !cb.state.CompareAndSwap(int32(from), int32(to)) {
		return
	}
	switch to {
	case StateOpen:
		cb.openedAt.Store(cb.now().UnixNano())
		cb.successes.Store(0)
	case StateHalfOpen:
		cb.successes.Store(0)
		cb.inflight.Store(0)
	case StateClosed:
		cb.failures.Store(0)
		cb.successes.Store(0)
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// CircuitBreakerStats is a point-in-time view of the breaker counters
type CircuitBreakerStats struct {
	State     CircuitBreakerState
	Failures  int
	Successes int
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	return CircuitBreakerStats{
		State:     cb.State(),
		Failures:  int(cb.failures.Load()),
		Successes: int(cb.successes.Load()),
	}
}
