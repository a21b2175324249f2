// SPDX-License-Identifier: MPL-2.0

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/flashcmd/flashcmd/internal/command"
)

// Register installs the event commands on e.
func (m *Manager) Register(e *command.Engine) error {
	cmds := []struct {
		name string
		fn   command.HandlerFunc
		doc  command.Doc
	}{
		{"addRepeatingEvent", m.addCmd, command.Doc{
			Args:        "[IntervalSeconds][RepeatsOr-1][CommandToRun]",
			Description: "Runs a command every N seconds, a number of times or forever with -1",
		}},
		{"cancelRepeatingEvent", m.cancelCmd, command.Doc{
			Args:        "[EventID]",
			Description: "Stops the repeating event with the given ID",
		}},
		{"clearRepeatingEvents", m.clearCmd, command.Doc{
			Description: "Stops every repeating event",
		}},
		{"listRepeatingEvents", m.listCmd, command.Doc{
			Description: "Prints the repeating events with their remaining runs",
		}},
	}

	for _, c := range cmds {
		if err := e.Registry().Register(c.name, command.WithDoc(c.fn, c.doc), nil); err != nil {
			return fmt.Errorf("register %s: %w", c.name, err)
		}
	}
	return nil
}

// addCmd keeps the command text unexpanded so $ references resolve at firing time.
func (m *Manager) addCmd(_ context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(command.NoExpand)
	if err := args.CheckArity(3); err != nil {
		return inv.Fail(command.NotEnoughArguments, err)
	}
	interval, err := args.Int(0)
	if err != nil {
		return inv.Fail(command.ResultFromError(err), err)
	}
	times, err := args.Int(1)
	if err != nil {
		return inv.Fail(command.ResultFromError(err), err)
	}

	if _, err := m.Add(time.Duration(interval)*time.Second, times, args.From(2)); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

func (m *Manager) cancelCmd(_ context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if err := args.CheckArity(1); err != nil {
		return inv.Fail(command.NotEnoughArguments, err)
	}
	id, err := args.Int(0)
	if err != nil {
		return inv.Fail(command.ResultFromError(err), err)
	}
	if err := m.Cancel(id); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

func (m *Manager) clearCmd(_ context.Context, inv *command.Invocation) command.Result {
	n := m.Clear()
	inv.Logger().Info("cleared repeating events", "count", n)
	return command.OK
}

func (m *Manager) listCmd(ctx context.Context, _ *command.Invocation) command.Result {
	w := command.Output(ctx)
	now := m.clock.Now()
	for _, ev := range m.List() {
		times := "forever"
		if ev.Remaining != Forever {
			times = fmt.Sprintf("%d left", ev.Remaining)
		}
		fmt.Fprintf(w, "Event %d: every %s, %s, next in %s: %s\n",
			ev.ID, ev.Interval, times, ev.NextAt.Sub(now).Round(time.Second), ev.Command)
	}
	return command.OK
}
