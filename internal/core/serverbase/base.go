// SPDX-License-Identifier: MPL-2.0

package serverbase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNotStarted is returned by Start when the service cannot leave the Created state.
var ErrNotStarted = errors.New("service cannot be started")

type (
	// Base provides common fields and lifecycle infrastructure for services.
	// Concrete services embed this struct.
	//
	// A service instance is single-use: once stopped or failed, create a new instance.
	Base struct {
		name string

		// atomic for lock-free reads
		state atomic.Int32

		stateMu sync.Mutex

		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		startedCh chan struct{}
		errCh     chan error
		errMu     sync.Mutex
		errClosed bool
		lastErr   error
	}

	// StartError is returned when Start is called outside the Created state.
	StartError struct {
		Name  string
		State State
	}
)

// Error implements the error interface for StartError.
func (e *StartError) Error() string {
	return fmt.Sprintf("cannot start %s in state %s", e.Name, e.State)
}

// Unwrap returns ErrNotStarted for errors.Is() compatibility.
func (e *StartError) Unwrap() error { return ErrNotStarted }

// NewBase creates a new Base with the given options.
// Default error channel buffer size is 1.
func NewBase(opts ...Option) *Base {
	b := &Base{
		name:      "service",
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	b.state.Store(int32(StateCreated))

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Name returns the service name used in lifecycle errors.
func (b *Base) Name() string { return b.name }

// State returns the current service state (atomic, lock-free read).
func (b *Base) State() State {
	return State(b.state.Load())
}

// IsRunning returns true if the service is in the Running state.
func (b *Base) IsRunning() bool {
	return b.State() == StateRunning
}

// Err returns a channel for receiving async errors.
func (b *Base) Err() <-chan error {
	return b.errCh
}

// LastError returns the error that caused the Failed state, or nil.
func (b *Base) LastError() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.lastErr
}

// TransitionToStarting attempts to transition from Created to Starting.
// Returns an error if the current state is not Created or if the context
// is already cancelled. Must be called at the beginning of Start().
func (b *Base) TransitionToStarting(ctx context.Context) error {
	// A cancelled context is detected before any goroutine can reach Running.
	select {
	case <-ctx.Done():
		b.TransitionToFailed(fmt.Errorf("%s: context cancelled before start: %w", b.name, ctx.Err()))
		return b.LastError()
	default:
	}

	if !b.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return &StartError{Name: b.name, State: State(b.state.Load())}
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	return nil
}

// TransitionToRunning marks the service as running and closes the started channel.
func (b *Base) TransitionToRunning() {
	if b.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(b.startedCh)
	}
}

// TransitionToFailed marks the service as failed with the given error.
func (b *Base) TransitionToFailed(err error) {
	b.stateMu.Lock()
	b.lastErr = err
	b.stateMu.Unlock()

	b.state.Store(int32(StateFailed))

	if b.cancel != nil {
		b.cancel()
	}

	b.SendError(err)
}

// TransitionToStopping attempts to transition to Stopping state.
// Returns true if the transition occurred, false if already stopped or stopping.
// Cancels the service context.
func (b *Base) TransitionToStopping() bool {
	for {
		currentState := State(b.state.Load())
		switch currentState {
		case StateStopped, StateFailed, StateStopping:
			return false
		case StateCreated:
			if b.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
			continue
		case StateStarting, StateRunning:
			if !b.state.CompareAndSwap(int32(currentState), int32(StateStopping)) {
				continue
			}
			if b.cancel != nil {
				b.cancel()
			}
			return true
		default:
			return false
		}
	}
}

// TransitionToStopped marks the service as fully stopped.
// Must be called after all goroutines have exited.
func (b *Base) TransitionToStopped() {
	b.state.Store(int32(StateStopped))
}

// Shutdown runs the usual stop sequence: transition to Stopping, call release
// (typically closing a listener), wait for the tracked goroutines and mark the
// service Stopped. It is a no-op when the service is not running, so Stop can
// be called more than once.
func (b *Base) Shutdown(release func() error) error {
	if !b.TransitionToStopping() {
		// A failed service may still have goroutines draining.
		if b.State() == StateFailed {
			b.WaitForShutdown()
		}
		return nil
	}

	var err error
	if release != nil {
		err = release()
	}

	b.WaitForShutdown()
	b.TransitionToStopped()
	b.CloseErrChannel()

	return err
}

// WaitForReady blocks until the service is ready or ctx is cancelled.
func (b *Base) WaitForReady(ctx context.Context) error {
	select {
	case <-b.startedCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s ready: %w", b.name, ctx.Err())
	}
}

// WaitForShutdown blocks until all tracked goroutines have completed.
func (b *Base) WaitForShutdown() {
	b.wg.Wait()
}

// Context returns the service context for use in goroutines.
// Returns nil if the service hasn't started.
func (b *Base) Context() context.Context {
	return b.ctx
}

// Done returns the service context's Done channel, or nil before Start.
func (b *Base) Done() <-chan struct{} {
	if b.ctx == nil {
		return nil
	}
	return b.ctx.Done()
}

// AddGoroutine increments the WaitGroup counter.
// Must be called before starting a goroutine.
func (b *Base) AddGoroutine() {
	b.wg.Add(1)
}

// DoneGoroutine decrements the WaitGroup counter.
// Must be deferred at the start of each goroutine.
func (b *Base) DoneGoroutine() {
	b.wg.Done()
}

// Go runs fn on a tracked goroutine with the service context.
func (b *Base) Go(fn func(ctx context.Context)) {
	b.AddGoroutine()
	go func() {
		defer b.DoneGoroutine()
		fn(b.ctx)
	}()
}

// SendError sends an error to the error channel (non-blocking).
// If the channel is full or closed, the error is dropped.
func (b *Base) SendError(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.errClosed {
		return
	}
	select {
	case b.errCh <- err:
	default:
	}
}

// CloseErrChannel closes the error channel to signal consumers. Safe to call twice.
func (b *Base) CloseErrChannel() {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if !b.errClosed {
		b.errClosed = true
		close(b.errCh)
	}
}

// StartedChannel returns the started channel for custom waiting logic.
// The channel is closed when the service transitions to Running.
func (b *Base) StartedChannel() <-chan struct{} {
	return b.startedCh
}
