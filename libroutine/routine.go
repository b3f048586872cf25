// Package libroutine provides a circuit breaker and a keyed manager for
// long-running maintenance loops. Background jobs run through a breaker so a
// failing dependency stops being hammered until its reset timeout elapses.
package libroutine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int32

const (
	// Closed lets every call through.
	Closed State = iota
	// Open rejects calls until the reset timeout elapses.
	Open
	// HalfOpen lets exactly one probe call through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
var ErrCircuitOpen = errors.New("libroutine: circuit open")

// Routine is a circuit breaker around a recurring operation.
type Routine struct {
	mu           sync.Mutex
	state        State
	failureCount int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	halfOpenBusy bool
}

// NewRoutine returns a closed breaker that opens after threshold consecutive
// failures and probes again once resetTimeout has elapsed.
func NewRoutine(threshold int, resetTimeout time.Duration) *Routine {
	return &Routine{
		state:        Closed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

// Allow reports whether a call may proceed right now. The first Allow after
// the reset timeout moves the breaker to half-open; the following Allow claims
// the single probe slot, and further calls are rejected until the probe
// reports its result.
func (r *Routine) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Closed:
		return true
	case Open:
		if time.Since(r.openedAt) >= r.resetTimeout {
			r.state = HalfOpen
			r.halfOpenBusy = false
			return true
		}
		return false
	case HalfOpen:
		if r.halfOpenBusy {
			return false
		}
		r.halfOpenBusy = true
		return true
	default:
		return false
	}
}

func (r *Routine) markSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failureCount = 0
	r.halfOpenBusy = false
}

func (r *Routine) markFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureCount++
	if r.state == HalfOpen || r.failureCount >= r.threshold {
		r.state = Open
		r.openedAt = time.Now()
		r.halfOpenBusy = false
	}
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen without
// calling fn when the circuit rejects the call.
func (r *Routine) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(ctx); err != nil {
		r.markFailure()
		return err
	}
	r.markSuccess()
	return nil
}

// ExecuteWithRetry runs fn up to attempts times, sleeping interval between
// tries. It gives up immediately when the circuit is open or ctx is done.
func (r *Routine) ExecuteWithRetry(ctx context.Context, interval time.Duration, attempts int, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		err := r.Execute(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
}

// Loop runs fn immediately and then on every tick of interval or message on
// triggerChan, until ctx is done. Errors, including ErrCircuitOpen rejections,
// are passed to errCb.
func (r *Routine) Loop(ctx context.Context, interval time.Duration, triggerChan chan struct{}, fn func(ctx context.Context) error, errCb func(error)) {
	if errCb == nil {
		errCb = func(error) {}
	}
	run := func() {
		if err := r.Execute(ctx, fn); err != nil {
			errCb(err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		case <-triggerChan:
			run()
		}
	}
}

// GetState returns the current state. A breaker whose reset timeout has
// elapsed reports HalfOpen even before the next call performs the transition,
// so callers polling the state see the probe window.
func (r *Routine) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Open && time.Since(r.openedAt) >= r.resetTimeout {
		return HalfOpen
	}
	return r.state
}

// ForceOpen opens the circuit and restarts the reset timer.
func (r *Routine) ForceOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Open
	r.openedAt = time.Now()
	r.halfOpenBusy = false
}

// ForceClose closes the circuit and clears the failure count.
func (r *Routine) ForceClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Closed
	r.failureCount = 0
	r.halfOpenBusy = false
}

// GetThreshold returns the configured failure threshold.
func (r *Routine) GetThreshold() int {
	return r.threshold
}

// GetResetTimeout returns the configured reset timeout.
func (r *Routine) GetResetTimeout() time.Duration {
	return r.resetTimeout
}
