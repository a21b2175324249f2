// SPDX-License-Identifier: MPL-2.0

package builtins

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flashcmd/flashcmd/internal/command"
)

// requireArgs checks arity and logs a warning naming the command on failure.
func requireArgs(inv *command.Invocation, args *command.Args, n int) (command.Result, bool) {
	if err := args.CheckArity(n); err != nil {
		return inv.Fail(command.NotEnoughArguments, err), false
	}
	return command.OK, true
}

// intArg parses argument i, mapping parse failures to result codes.
func intArg(inv *command.Invocation, args *command.Args, i int) (int, command.Result, bool) {
	v, err := args.Int(i)
	if err != nil {
		return 0, inv.Fail(command.ResultFromError(err), err), false
	}
	return v, command.OK, true
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *commands) alias(_ context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(command.NoExpand)
	if res, ok := requireArgs(inv, args, 2); !ok {
		return res
	}
	name, _ := args.Arg(0)
	return inv.Engine.CreateAlias(name, aliasTarget(args))
}

// aliasTarget is the verbatim remainder after the alias name. A remainder that
// is one quoted token is unwrapped, so `alias on "SetChannel 1 1"` and
// `alias on SetChannel 1 1` bind the same line.
func aliasTarget(args *command.Args) string {
	target := args.From(1)
	if args.Count() == 2 && strings.HasPrefix(target, `"`) {
		target, _ = args.Arg(1)
	}
	return target
}

func (c *commands) echo(ctx context.Context, inv *command.Invocation) command.Result {
	msg := inv.Tokenize(command.ExpandAtStartOnly | command.SingleArgument).From(0)
	inv.Logger().Info(msg)
	fmt.Fprintln(command.Output(ctx), msg)
	return command.OK
}

func (c *commands) restart(_ context.Context, inv *command.Invocation) command.Result {
	delay, err := inv.Tokenize(0).IntOr(0, int(DefaultRestartDelay/time.Second))
	if err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	inv.Logger().Info("will reboot", "in", seconds(delay))
	c.deps.Device.ScheduleRestart(seconds(delay))
	return command.OK
}

func (c *commands) clearConfig(ctx context.Context, inv *command.Invocation) command.Result {
	if err := c.deps.Device.ClearConfig(ctx); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	inv.Logger().Info("whole device config has been cleared, restart device to connect to clear AP")
	return command.OK
}

// clearAll resets the device and every extension, wipes the registry (aliases
// included) and installs the builtin and extension commands again.
func (c *commands) clearAll(ctx context.Context, inv *command.Invocation) command.Result {
	if err := c.deps.Device.ClearConfig(ctx); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	if err := c.deps.Device.ClearChannels(ctx); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	for _, ext := range c.deps.Extensions {
		if err := ext.Reset(ctx); err != nil {
			return inv.Fail(command.BadArgument, err)
		}
	}

	inv.Engine.Registry().ClearAll()
	if err := Register(inv.Engine, c.deps); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	for _, ext := range c.deps.Extensions {
		if err := ext.Register(inv.Engine); err != nil {
			return inv.Fail(command.BadArgument, err)
		}
	}

	inv.Logger().Info("all clear")
	return command.OK
}

func (c *commands) deepSleep(_ context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if res, ok := requireArgs(inv, args, 1); !ok {
		return res
	}
	n, res, ok := intArg(inv, args, 0)
	if !ok {
		return res
	}
	c.deps.Device.DeepSleep(seconds(n))
	return command.OK
}

func (c *commands) powerSave(_ context.Context, inv *command.Invocation) command.Result {
	on, err := inv.Tokenize(0).IntOr(0, 1)
	if err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	inv.Logger().Info("power save", "on", on != 0)
	c.deps.Device.SetPowerSave(on != 0)
	return command.OK
}

func (c *commands) flags(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if args.Count() == 0 {
		return inv.Fail(command.NotEnoughArguments, command.ErrNotEnoughArguments)
	}
	v, err := args.Int64(0)
	if err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	if err := c.deps.Device.SetFlags(ctx, uint64(v)); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	inv.Logger().Info("new flags set", "flags", v)
	return command.OK
}

func (c *commands) otaHTTP(_ context.Context, inv *command.Invocation) command.Result {
	url := strings.TrimSpace(inv.Args)
	if url == "" {
		inv.Logger().Info("command requires 1 argument", "cmd", inv.Name)
		return command.NotEnoughArguments
	}
	c.deps.Device.RequestOTA(url)
	return command.OK
}

func (c *commands) scheduleHADiscovery(_ context.Context, inv *command.Invocation) command.Result {
	delay, err := inv.Tokenize(0).IntOr(0, int(DefaultDiscoveryDelay/time.Second))
	if err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	c.deps.Device.ScheduleHADiscovery(seconds(delay))
	return command.OK
}

func (c *commands) clearNoPingTime(context.Context, *command.Invocation) command.Result {
	c.deps.Device.ClearNoPingTime()
	return command.OK
}

func (c *commands) setStartValue(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if res, ok := requireArgs(inv, args, 2); !ok {
		return res
	}
	ch, res, ok := intArg(inv, args, 0)
	if !ok {
		return res
	}
	val, res, ok := intArg(inv, args, 1)
	if !ok {
		return res
	}
	if err := c.deps.Device.SetStartValue(ctx, ch, val); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

func (c *commands) openAP(context.Context, *command.Invocation) command.Result {
	c.deps.Device.OpenAP()
	return command.OK
}

func (c *commands) safeMode(ctx context.Context, inv *command.Invocation) command.Result {
	if err := c.deps.Device.EnterSafeMode(ctx, SafeModeRestartDelay); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

func (c *commands) pingInterval(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if res, ok := requireArgs(inv, args, 1); !ok {
		return res
	}
	n, res, ok := intArg(inv, args, 0)
	if !ok {
		return res
	}
	if err := c.deps.Device.SetPingInterval(ctx, seconds(n)); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

func (c *commands) pingHost(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if res, ok := requireArgs(inv, args, 1); !ok {
		return res
	}
	host, _ := args.Arg(0)
	if err := c.deps.Device.SetPingHost(ctx, host); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

func (c *commands) setChannel(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if res, ok := requireArgs(inv, args, 2); !ok {
		return res
	}
	ch, res, ok := intArg(inv, args, 0)
	if !ok {
		return res
	}
	val, res, ok := intArg(inv, args, 1)
	if !ok {
		return res
	}
	if err := c.deps.Device.SetChannel(ctx, ch, val); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

// channel serves the Channel<n> family. The channel number comes from the
// invoked name; a bare "Channel" takes it from the first argument instead.
// Without a value the channel is printed.
func (c *commands) channel(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	valueIdx := 0

	var ch int
	if suffix, ok := command.NumericSuffix(inv.Name); ok {
		n, err := strconv.Atoi(suffix)
		if err != nil {
			return inv.Fail(command.BadArgument, err)
		}
		ch = n
	} else {
		if res, ok := requireArgs(inv, args, 1); !ok {
			return res
		}
		n, res, ok := intArg(inv, args, 0)
		if !ok {
			return res
		}
		ch, valueIdx = n, 1
	}

	if args.Count() <= valueIdx {
		v := c.deps.Device.Channel(ch)
		inv.Logger().Info("channel", "ch", ch, "value", v)
		fmt.Fprintf(command.Output(ctx), "Channel%d = %d\n", ch, v)
		return command.OK
	}
	val, res, ok := intArg(inv, args, valueIdx)
	if !ok {
		return res
	}
	if err := c.deps.Device.SetChannel(ctx, ch, val); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

func (c *commands) toggleChannel(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(0)
	if res, ok := requireArgs(inv, args, 1); !ok {
		return res
	}
	ch, res, ok := intArg(inv, args, 0)
	if !ok {
		return res
	}
	if _, err := c.deps.Device.ToggleChannel(ctx, ch); err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	return command.OK
}

// ifCmd runs "if <cond> then <cmdA> [else <cmdB>]". Only the condition is
// expanded here; the chosen branch is expanded when it runs.
func (c *commands) ifCmd(ctx context.Context, inv *command.Invocation) command.Result {
	args := inv.Tokenize(command.ExpandAtStartOnly)
	if res, ok := requireArgs(inv, args, 3); !ok {
		return res
	}
	cond, _ := args.Arg(0)
	if kw, _ := args.Arg(1); !strings.EqualFold(kw, "then") {
		return inv.Fail(command.BadArgument, fmt.Errorf("expected 'then' after condition, got %q", kw))
	}
	thenLine, _ := args.Arg(2)

	var elseLine string
	if args.Count() > 3 {
		if kw, _ := args.Arg(3); !strings.EqualFold(kw, "else") {
			return inv.Fail(command.BadArgument, fmt.Errorf("expected 'else', got %q", kw))
		}
		if res, ok := requireArgs(inv, args, 5); !ok {
			return res
		}
		elseLine, _ = args.Arg(4)
	}

	ok, err := c.deps.Evaluator.Evaluate(ctx, cond)
	if err != nil {
		return inv.Fail(command.BadArgument, err)
	}
	switch {
	case ok:
		return inv.Engine.ExecuteLine(ctx, thenLine, inv.Flags)
	case elseLine != "":
		return inv.Engine.ExecuteLine(ctx, elseLine, inv.Flags)
	default:
		return command.OK
	}
}

func (c *commands) listCmds(ctx context.Context, inv *command.Invocation) command.Result {
	out := command.Output(ctx)
	count := 0
	inv.Engine.Registry().ListAll(func(e *command.Entry) bool {
		inv.Logger().Info("cmd", "name", e.Name())
		fmt.Fprintln(out, e.Name())
		count++
		return true
	})
	inv.Logger().Info("listed commands", "count", count)
	return command.OK
}
