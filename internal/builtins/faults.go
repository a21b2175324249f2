// SPDX-License-Identifier: MPL-2.0

package builtins

import (
	"context"

	"github.com/flashcmd/flashcmd/internal/command"
)

// stackOverflow recurses until the Go runtime aborts the process. The engine
// does not recover from it.
func (c *commands) stackOverflow(_ context.Context, inv *command.Invocation) command.Result {
	if !c.deps.FaultInjection {
		return inv.Fail(command.BadArgument, ErrFaultInjectionDisabled)
	}
	inv.Logger().Info("will overflow soon")
	overflow(0)
	return command.OK
}

func (c *commands) crashNull(_ context.Context, inv *command.Invocation) command.Result {
	if !c.deps.FaultInjection {
		return inv.Fail(command.BadArgument, ErrFaultInjectionDisabled)
	}
	inv.Logger().Info("will crash soon")
	p := nullTarget()
	*p = 0
	return command.OK
}

// irTest is a diagnostic hook kept for scripts that call it. It only logs.
func (c *commands) irTest(_ context.Context, inv *command.Invocation) command.Result {
	inv.Logger().Info("ir test routine")
	return command.OK
}

func overflow(a int) int {
	var frame [64]byte
	for i := range frame {
		frame[i] = byte(a)
	}
	return overflow(a+1) + int(frame[a%len(frame)])
}

func nullTarget() *int { return nil }
