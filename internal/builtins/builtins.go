// SPDX-License-Identifier: MPL-2.0

package builtins

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flashcmd/flashcmd/internal/command"
)

const (
	// DefaultRestartDelay is used by restart and reboot without an argument.
	DefaultRestartDelay = 3 * time.Second
	// DefaultDiscoveryDelay is used by scheduleHADiscovery without an argument.
	DefaultDiscoveryDelay = 5 * time.Second
	// SafeModeRestartDelay is the restart delay armed by SafeMode.
	SafeModeRestartDelay = 3 * time.Second
)

// ErrFaultInjectionDisabled is reported when a crash command runs while fault
// injection is off.
var ErrFaultInjectionDisabled = errors.New("fault injection is disabled")

type (
	// Device is the set of device operations the leaf commands need.
	Device interface {
		ScheduleRestart(delay time.Duration)
		ClearConfig(ctx context.Context) error
		ClearChannels(ctx context.Context) error
		DeepSleep(d time.Duration)
		SetPowerSave(on bool)
		SetFlags(ctx context.Context, flags uint64) error
		RequestOTA(url string)
		ScheduleHADiscovery(delay time.Duration)
		ClearNoPingTime()
		SetStartValue(ctx context.Context, ch, value int) error
		OpenAP()
		EnterSafeMode(ctx context.Context, restartDelay time.Duration) error
		SetPingInterval(ctx context.Context, interval time.Duration) error
		SetPingHost(ctx context.Context, host string) error
		Channel(ch int) int
		SetChannel(ctx context.Context, ch, value int) error
		ToggleChannel(ctx context.Context, ch int) (int, error)
	}

	// Extension is another command set that clearAll resets and then installs
	// again after the registry is wiped.
	Extension interface {
		Register(e *command.Engine) error
		Reset(ctx context.Context) error
	}

	// Deps are the collaborators of the builtin commands.
	Deps struct {
		Device Device
		// Evaluator decides if conditions. Nil uses a CUEEvaluator.
		Evaluator Evaluator
		// FaultInjection enables stackOverflow and crashNull.
		FaultInjection bool
		// Extensions are reset and reinstalled by clearAll.
		Extensions []Extension
	}

	builtin struct {
		name string
		doc  command.Doc
		run  func(c *commands, ctx context.Context, inv *command.Invocation) command.Result
	}

	commands struct {
		deps Deps
	}
)

// builtinTable lists the builtin commands in registration order.
func builtinTable() []builtin {
	return []builtin{
		{"alias", command.Doc{Args: "[Alias] [Command with spaces]", Description: "Adds an aliased command, so a command with spaces can be called with a short, nospaced alias."}, (*commands).alias},
		{"echo", command.Doc{Args: "[Message]", Description: "Sends the message back to the console. Variables are expanded, so $CH12 prints the value of channel 12."}, (*commands).echo},
		{"restart", command.Doc{Args: "[Seconds]", Description: "Reboots the module after the given delay (3 seconds by default)."}, (*commands).restart},
		{"reboot", command.Doc{Args: "[Seconds]", Description: "Same as restart."}, (*commands).restart},
		{"clearConfig", command.Doc{Description: "Clears all config, including WiFi data."}, (*commands).clearConfig},
		{"clearAll", command.Doc{Description: "Clears config and all remaining features, like aliases, channels and repeating events."}, (*commands).clearAll},
		{"DeepSleep", command.Doc{Args: "[Seconds]", Description: "Starts deep sleep for the given number of seconds."}, (*commands).deepSleep},
		{"PowerSave", command.Doc{Args: "[Optional 1 or 0, by default 1 is assumed]", Description: "Enables dynamic power saving mode. PowerSave 0 disables it."}, (*commands).powerSave},
		{"stackOverflow", command.Doc{Description: "Causes a stack overflow. Requires fault injection to be enabled."}, (*commands).stackOverflow},
		{"crashNull", command.Doc{Description: "Causes a crash. Requires fault injection to be enabled."}, (*commands).crashNull},
		{"simonirtest", command.Doc{Description: "Diagnostic test routine. Only logs."}, (*commands).irTest},
		{"if", command.Doc{Args: "[Condition] then [CommandA] [else [CommandB]]", Description: "Runs CommandA when the condition holds, otherwise CommandB. Quote commands with spaces or use aliases."}, (*commands).ifCmd},
		{"ota_http", command.Doc{Args: "[HTTP_URL]", Description: "Starts the firmware update from the given HTTP URL."}, (*commands).otaHTTP},
		{"scheduleHADiscovery", command.Doc{Args: "[Seconds]", Description: "Schedules Home Assistant discovery after the given delay (5 seconds by default)."}, (*commands).scheduleHADiscovery},
		{"flags", command.Doc{Args: "[IntegerValue]", Description: "Sets the device flags."}, (*commands).flags},
		{"ClearNoPingTime", command.Doc{Description: "Sets the ping watchdog's time since last ping reply to 0."}, (*commands).clearNoPingTime},
		{"SetStartValue", command.Doc{Args: "[Channel] [Value]", Description: "Sets the startup value for a channel. Use -1 to remember the last state."}, (*commands).setStartValue},
		{"OpenAP", command.Doc{Description: "Temporarily disconnects from the WiFi network and opens an access point."}, (*commands).openAP},
		{"SafeMode", command.Doc{Description: "Forces a reboot into safe mode."}, (*commands).safeMode},
		{"PingInterval", command.Doc{Args: "[IntegerSeconds]", Description: "Sets the interval between ping watchdog attempts."}, (*commands).pingInterval},
		{"PingHost", command.Doc{Args: "[IPStr]", Description: "Sets the host probed by the ping watchdog."}, (*commands).pingHost},
		{"SetChannel", command.Doc{Args: "[Channel] [Value]", Description: "Sets the value of a channel."}, (*commands).setChannel},
		{"Channel", command.Doc{Args: "[Value]", Description: "Channel<n> sets channel n, or prints it when no value is given."}, (*commands).channel},
		{"ToggleChannel", command.Doc{Args: "[Channel]", Description: "Flips a channel between 0 and 1."}, (*commands).toggleChannel},
		{"listCmds", command.Doc{Description: "Lists every registered command."}, (*commands).listCmds},
	}
}

// Names returns the builtin command names in registration order.
func Names() []string {
	table := builtinTable()
	names := make([]string, len(table))
	for i, b := range table {
		names[i] = b.name
	}
	return names
}

// Register installs the builtin command set on e. Registration stops at the
// first collision.
func Register(e *command.Engine, deps Deps) error {
	if deps.Device == nil {
		return errors.New("builtins: nil device")
	}
	if deps.Evaluator == nil {
		deps.Evaluator = NewCUEEvaluator()
	}
	c := &commands{deps: deps}

	for _, b := range builtinTable() {
		run := b.run
		h := command.HandlerFunc(func(ctx context.Context, inv *command.Invocation) command.Result {
			return run(c, ctx, inv)
		})
		if err := e.Registry().Register(b.name, command.WithDoc(h, b.doc), nil); err != nil {
			return fmt.Errorf("registering %s: %w", b.name, err)
		}
	}
	return nil
}
