package store

import (
	"context"
	"errors"
	"sync"
	"time"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = leaseerrors.ErrCircuitOpen

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker decorates an Executor with circuit breaker logic. After
// threshold consecutive failures every call fails with ErrCircuitOpen until
// timeout has elapsed; a single probe is then let through to decide whether
// to close the circuit again.
type CircuitBreaker struct {
	exec      Executor
	mu        sync.RWMutex
	state     state
	failures  int
	threshold int
	timeout   time.Duration
	lastFail  time.Time
	now       func() time.Time
}

// NewCircuitBreaker returns a new CircuitBreaker around exec.
func NewCircuitBreaker(exec Executor, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CircuitBreaker{
		exec:      exec,
		threshold: threshold,
		timeout:   timeout,
		state:     stateClosed,
		now:       time.Now,
	}
}

// IsHealthy returns true if the circuit is closed or ready for a probe.
func (cb *CircuitBreaker) IsHealthy() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.state == stateOpen {
		return cb.now().Sub(cb.lastFail) > cb.timeout
	}
	return true
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true
	case stateOpen:
		if cb.now().Sub(cb.lastFail) > cb.timeout {
			cb.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		// one probe at a time
		return false
	}
	return false
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if errors.Is(err, context.Canceled) {
		// the caller gave up, the store said nothing about its health
		if cb.state == stateHalfOpen {
			cb.state = stateOpen
		}
		return
	}
	if err == nil {
		if cb.state == stateHalfOpen || cb.failures > 0 {
			cb.state = stateClosed
			cb.failures = 0
		}
		return
	}
	cb.lastFail = cb.now()
	cb.failures++
	if cb.state == stateHalfOpen || (cb.state == stateClosed && cb.failures >= cb.threshold) {
		cb.state = stateOpen
	}
}

// SetNX implements Executor.SetNX with circuit breaker logic.
func (cb *CircuitBreaker) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !cb.allow() {
		return false, ErrCircuitOpen
	}
	ok, err := cb.exec.SetNX(ctx, key, value, ttl)
	cb.record(err)
	return ok, err
}

// Run implements Executor.Run with circuit breaker logic.
func (cb *CircuitBreaker) Run(ctx context.Context, script *Script, keys []string, args ...any) ([]int64, error) {
	if !cb.allow() {
		return nil, ErrCircuitOpen
	}
	res, err := cb.exec.Run(ctx, script, keys, args...)
	cb.record(err)
	return res, err
}
