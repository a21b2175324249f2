// SPDX-License-Identifier: MPL-2.0

package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/core/serverbase"
	"github.com/flashcmd/flashcmd/internal/scheduler"
)

// Forever is the repeat count of an event that never expires.
const Forever = -1

var (
	// ErrInvalidInterval is returned for intervals that are not positive.
	ErrInvalidInterval = errors.New("event interval must be positive")
	// ErrInvalidTimes is returned for repeat counts other than Forever or a positive number.
	ErrInvalidTimes = errors.New("event repeat count must be -1 or positive")
	// ErrEventNotFound is returned when cancelling an unknown event ID.
	ErrEventNotFound = errors.New("event not found")
)

type (
	// Clock is the time source of the manager. testutil.FakeClock satisfies it.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
	}

	// Event is a snapshot of one repeating event.
	Event struct {
		ID       int
		Interval time.Duration
		// Remaining is the number of firings left, or Forever.
		Remaining int
		Command   string
		NextAt    time.Time
	}

	// Manager owns the repeating events and the goroutine that fires them.
	Manager struct {
		*serverbase.Base

		poster scheduler.Poster
		clock  Clock
		logger *log.Logger

		mu     sync.Mutex
		events []*Event
		nextID int
		wake   chan struct{}
	}

	// Option configures a Manager.
	Option func(*Manager)

	realClock struct{}
)

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.WithPrefix("event")
		}
	}
}

// NewManager creates a manager that posts due lines to poster.
func NewManager(poster scheduler.Poster, opts ...Option) *Manager {
	m := &Manager{
		Base:   serverbase.NewBase(serverbase.WithName("events")),
		poster: poster,
		clock:  realClock{},
		logger: log.New(io.Discard),
		nextID: 1,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the firing goroutine.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.TransitionToStarting(ctx); err != nil {
		return err
	}
	m.Go(m.run)
	m.TransitionToRunning()
	return nil
}

// Stop halts firing. Registered events are kept.
func (m *Manager) Stop() error {
	return m.Shutdown(nil)
}

// Add schedules line to run every interval, times times (or Forever).
// The first firing is one interval from now.
func (m *Manager) Add(interval time.Duration, times int, line string) (int, error) {
	if interval <= 0 {
		return 0, ErrInvalidInterval
	}
	if times != Forever && times <= 0 {
		return 0, ErrInvalidTimes
	}

	m.mu.Lock()
	ev := &Event{
		ID:        m.nextID,
		Interval:  interval,
		Remaining: times,
		Command:   line,
		NextAt:    m.clock.Now().Add(interval),
	}
	m.nextID++
	m.events = append(m.events, ev)
	m.mu.Unlock()

	m.logger.Info("added repeating event", "id", ev.ID, "every", interval, "times", times, "cmd", line)
	m.poke()
	return ev.ID, nil
}

// Cancel removes the event with the given ID.
func (m *Manager) Cancel(id int) error {
	m.mu.Lock()
	i := slices.IndexFunc(m.events, func(ev *Event) bool { return ev.ID == id })
	if i < 0 {
		m.mu.Unlock()
		return fmt.Errorf("cancel event %d: %w", id, ErrEventNotFound)
	}
	m.events = slices.Delete(m.events, i, i+1)
	m.mu.Unlock()

	m.poke()
	return nil
}

// Clear removes every event and returns how many there were.
func (m *Manager) Clear() int {
	m.mu.Lock()
	n := len(m.events)
	m.events = nil
	m.mu.Unlock()

	m.poke()
	return n
}

// List returns a snapshot of the events in creation order.
func (m *Manager) List() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, *ev)
	}
	return out
}

// Reset clears every event. It is called by the factory reset.
func (m *Manager) Reset(context.Context) error {
	m.Clear()
	return nil
}

func (m *Manager) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// run keeps at most one timer armed, for the earliest event. The timer is only
// replaced when the earliest deadline changes.
func (m *Manager) run(ctx context.Context) {
	var (
		timer <-chan time.Time
		armed time.Time
	)
	for {
		next, ok := m.nextDue()
		switch {
		case !ok:
			timer, armed = nil, time.Time{}
		case !next.Equal(armed):
			timer, armed = m.clock.After(next.Sub(m.clock.Now())), next
		}

		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case now := <-timer:
			armed = time.Time{}
			m.fire(now)
		}
	}
}

func (m *Manager) nextDue() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next time.Time
	for _, ev := range m.events {
		if next.IsZero() || ev.NextAt.Before(next) {
			next = ev.NextAt
		}
	}
	return next, !next.IsZero()
}

// fire posts every event due at now, then reschedules or expires it.
func (m *Manager) fire(now time.Time) {
	var due []string

	m.mu.Lock()
	kept := m.events[:0]
	for _, ev := range m.events {
		if now.Before(ev.NextAt) {
			kept = append(kept, ev)
			continue
		}
		due = append(due, ev.Command)

		if ev.Remaining != Forever {
			ev.Remaining--
			if ev.Remaining == 0 {
				m.logger.Debug("repeating event expired", "id", ev.ID)
				continue
			}
		}
		ev.NextAt = ev.NextAt.Add(ev.Interval)
		if !ev.NextAt.After(now) {
			ev.NextAt = now.Add(ev.Interval)
		}
		kept = append(kept, ev)
	}
	clear(m.events[len(kept):])
	m.events = kept
	m.mu.Unlock()

	for _, line := range due {
		if err := m.poster.Post(line, command.FlagSourceEvent); err != nil {
			m.logger.Warn("repeating event not queued", "cmd", line, "err", err)
		}
	}
}
