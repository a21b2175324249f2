// SPDX-License-Identifier: MPL-2.0

package scheduler

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/core/serverbase"
)

// DefaultQueueSize is the number of lines that may wait for the worker.
const DefaultQueueSize = 32

var (
	// ErrStopped is returned for lines submitted to a scheduler that is not running.
	ErrStopped = errors.New("scheduler is not running")
	// ErrQueueFull is returned by Post when the queue has no room.
	ErrQueueFull = errors.New("scheduler queue is full")
)

type (
	// Submitter runs command lines on behalf of a transport.
	Submitter interface {
		Submit(ctx context.Context, line string, flags command.Flags) (command.Result, error)
	}

	// Poster queues command lines without waiting for them.
	Poster interface {
		Post(line string, flags command.Flags) error
	}

	// Scheduler owns the only goroutine that executes command lines.
	Scheduler struct {
		*serverbase.Base

		engine    *command.Engine
		logger    *log.Logger
		queueSize int
		queue     chan job
	}

	// Option configures a Scheduler.
	Option func(*Scheduler)

	// Direct runs lines inline on the caller's goroutine. It is meant for
	// single-shot callers such as the exec subcommand.
	Direct struct {
		Engine *command.Engine
	}

	job struct {
		ctx   context.Context
		line  string
		flags command.Flags
		reply chan command.Result
	}
)

// WithQueueSize sets the queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l.WithPrefix("sched")
		}
	}
}

// New creates a scheduler for engine. Call Start before submitting lines.
func New(engine *command.Engine, opts ...Option) *Scheduler {
	s := &Scheduler{
		Base:      serverbase.NewBase(serverbase.WithName("scheduler")),
		engine:    engine,
		logger:    log.New(io.Discard),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan job, s.queueSize)
	return s
}

// Engine returns the engine the worker executes on.
func (s *Scheduler) Engine() *command.Engine { return s.engine }

// Start launches the worker goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.TransitionToStarting(ctx); err != nil {
		return err
	}
	s.Go(s.work)
	s.TransitionToRunning()
	s.logger.Debug("scheduler started", "queue", s.queueSize)
	return nil
}

// Stop cancels the worker and waits for the line it is running, if any.
// Lines still queued are abandoned and their submitters get ErrStopped.
func (s *Scheduler) Stop() error {
	return s.Shutdown(nil)
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Submit queues line and waits until it has run or ctx is done.
func (s *Scheduler) Submit(ctx context.Context, line string, flags command.Flags) (command.Result, error) {
	if !s.IsRunning() {
		return command.UnknownCommand, ErrStopped
	}

	j := job{ctx: ctx, line: line, flags: flags, reply: make(chan command.Result, 1)}
	select {
	case s.queue <- j:
	case <-ctx.Done():
		return command.UnknownCommand, ctx.Err()
	case <-s.Done():
		return command.UnknownCommand, ErrStopped
	}

	select {
	case res := <-j.reply:
		return res, nil
	case <-ctx.Done():
		return command.UnknownCommand, ctx.Err()
	case <-s.Done():
		// The worker may have finished the line while stopping.
		select {
		case res := <-j.reply:
			return res, nil
		default:
			return command.UnknownCommand, ErrStopped
		}
	}
}

// Post queues line without waiting. Timer and event sources use it so that a
// slow command never blocks the firing goroutine.
func (s *Scheduler) Post(line string, flags command.Flags) error {
	if !s.IsRunning() {
		return ErrStopped
	}
	select {
	case s.queue <- job{ctx: s.Context(), line: line, flags: flags}:
		return nil
	default:
		s.logger.Warn("dropping line, queue full", "line", line)
		return ErrQueueFull
	}
}

func (s *Scheduler) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if j.ctx.Err() != nil {
				continue
			}
			res := s.engine.ExecuteLine(j.ctx, j.line, j.flags)
			if j.reply != nil {
				j.reply <- res
			}
		}
	}
}

// Submit runs line immediately on the engine.
func (d Direct) Submit(ctx context.Context, line string, flags command.Flags) (command.Result, error) {
	if err := ctx.Err(); err != nil {
		return command.UnknownCommand, err
	}
	return d.Engine.ExecuteLine(ctx, line, flags), nil
}
