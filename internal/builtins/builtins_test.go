// SPDX-License-Identifier: MPL-2.0

package builtins

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flashcmd/flashcmd/internal/command"
)

type (
	fakeDevice struct {
		mu           sync.Mutex
		calls        []string
		channels     map[int]int
		startValues  map[int]int
		flags        uint64
		powerSave    bool
		pingHost     string
		pingInterval time.Duration
		restartDelay time.Duration
		discovery    time.Duration
		sleep        time.Duration
		otaURL       string
		failClear    bool
	}

	fakeExtension struct {
		resets    int
		registers int
	}

	fixedEvaluator struct {
		result bool
		err    error
		got    []string
	}
)

func newFakeDevice() *fakeDevice {
	return &fakeDevice{channels: map[int]int{}, startValues: map[int]int{}}
}

func (f *fakeDevice) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDevice) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeDevice) ScheduleRestart(d time.Duration) {
	f.record("restart")
	f.restartDelay = d
}

func (f *fakeDevice) ClearConfig(context.Context) error {
	f.record("clearConfig")
	if f.failClear {
		return errors.New("disk full")
	}
	f.flags, f.pingHost = 0, ""
	return nil
}

func (f *fakeDevice) ClearChannels(context.Context) error {
	f.record("clearChannels")
	for k := range f.channels {
		f.channels[k] = 0
	}
	return nil
}

func (f *fakeDevice) DeepSleep(d time.Duration) {
	f.record("deepSleep")
	f.sleep = d
}

func (f *fakeDevice) SetPowerSave(on bool) { f.powerSave = on }

func (f *fakeDevice) SetFlags(_ context.Context, flags uint64) error {
	f.flags = flags
	return nil
}

func (f *fakeDevice) RequestOTA(url string) { f.otaURL = url }

func (f *fakeDevice) ScheduleHADiscovery(d time.Duration) { f.discovery = d }

func (f *fakeDevice) ClearNoPingTime() { f.record("clearNoPingTime") }

func (f *fakeDevice) SetStartValue(_ context.Context, ch, value int) error {
	f.startValues[ch] = value
	return nil
}

func (f *fakeDevice) OpenAP() { f.record("openAP") }

func (f *fakeDevice) EnterSafeMode(_ context.Context, d time.Duration) error {
	f.record("safeMode")
	f.restartDelay = d
	return nil
}

func (f *fakeDevice) SetPingInterval(_ context.Context, d time.Duration) error {
	f.pingInterval = d
	return nil
}

func (f *fakeDevice) SetPingHost(_ context.Context, host string) error {
	f.pingHost = host
	return nil
}

func (f *fakeDevice) Channel(ch int) int { return f.channels[ch] }

func (f *fakeDevice) SetChannel(_ context.Context, ch, value int) error {
	if ch < 0 {
		return errors.New("invalid channel")
	}
	f.channels[ch] = value
	return nil
}

func (f *fakeDevice) ToggleChannel(_ context.Context, ch int) (int, error) {
	v := 1
	if f.channels[ch] != 0 {
		v = 0
	}
	f.channels[ch] = v
	return v, nil
}

func (f *fakeDevice) Resolve(name string) (string, bool) {
	if name == "CH1" {
		return "80", true
	}
	return "", false
}

func (e *fakeExtension) Register(eng *command.Engine) error {
	e.registers++
	return eng.Register("addRepeatingEvent", func(context.Context, *command.Invocation) command.Result {
		return command.OK
	}, nil)
}

func (e *fakeExtension) Reset(context.Context) error {
	e.resets++
	return nil
}

func (f *fixedEvaluator) Evaluate(_ context.Context, expr string) (bool, error) {
	f.got = append(f.got, expr)
	return f.result, f.err
}

func setup(t *testing.T, deps Deps) (*command.Engine, *fakeDevice) {
	t.Helper()
	dev, ok := deps.Device.(*fakeDevice)
	if !ok || dev == nil {
		dev = newFakeDevice()
		deps.Device = dev
	}
	e := command.NewEngine(command.WithResolver(dev))
	if err := Register(e, deps); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return e, dev
}

func run(t *testing.T, e *command.Engine, line string) command.Result {
	t.Helper()
	return e.ExecuteLine(context.Background(), line, command.FlagSourceUART)
}

func TestRegister_AllNames(t *testing.T) {
	t.Parallel()

	e, _ := setup(t, Deps{})
	for _, name := range Names() {
		entry, ok := e.Registry().Find(name)
		if !ok {
			t.Errorf("%s not registered", name)
			continue
		}
		if doc, ok := entry.Doc(); !ok || doc.Description == "" {
			t.Errorf("%s has no description", name)
		}
	}
	if e.Registry().Len() != len(Names()) {
		t.Errorf("Len() = %d, want %d", e.Registry().Len(), len(Names()))
	}
}

func TestRegister_NilDevice(t *testing.T) {
	t.Parallel()

	if err := Register(command.NewEngine(), Deps{}); err == nil {
		t.Error("Register() with nil device should fail")
	}
}

func TestRegister_Twice(t *testing.T) {
	t.Parallel()

	e, dev := setup(t, Deps{})
	err := Register(e, Deps{Device: dev})
	if !errors.Is(err, command.ErrBadArgument) {
		t.Errorf("second Register() error = %v, want ErrBadArgument", err)
	}
}

func TestCommands_Arity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want command.Result
	}{
		{"alias onlyname", command.NotEnoughArguments},
		{"DeepSleep", command.NotEnoughArguments},
		{"flags", command.NotEnoughArguments},
		{"flags notanumber", command.BadArgument},
		{"ota_http", command.NotEnoughArguments},
		{"ota_http   ", command.NotEnoughArguments},
		{"SetStartValue 1", command.NotEnoughArguments},
		{"SetStartValue x 1", command.BadArgument},
		{"PingInterval", command.NotEnoughArguments},
		{"PingHost", command.NotEnoughArguments},
		{"SetChannel 1", command.NotEnoughArguments},
		{"SetChannel 1 x", command.BadArgument},
		{"ToggleChannel", command.NotEnoughArguments},
		{"restart soon", command.BadArgument},
		{"Channel", command.NotEnoughArguments},
		{"if", command.NotEnoughArguments},
		{"if 1 then", command.NotEnoughArguments},
		{"if 1 than echo", command.BadArgument},
		{"if 1 then echo otherwise echo", command.BadArgument},
		{"if 1 then echo else", command.NotEnoughArguments},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()

			e, _ := setup(t, Deps{})
			if got := run(t, e, tt.line); got != tt.want {
				t.Errorf("ExecuteLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestCommands_DeviceEffects(t *testing.T) {
	t.Parallel()

	e, dev := setup(t, Deps{})

	steps := []string{
		"flags 1099511627776",
		"PowerSave 0",
		"PingHost 192.168.1.1",
		"PingInterval 15",
		"SetStartValue 4 -1",
		"SetChannel 2 100",
		"ToggleChannel 3",
		"DeepSleep 60",
		"ota_http http://example.org/fw.rbl",
		"scheduleHADiscovery",
		"ClearNoPingTime",
		"OpenAP",
	}
	for _, line := range steps {
		if got := run(t, e, line); got != command.OK {
			t.Fatalf("ExecuteLine(%q) = %v", line, got)
		}
	}

	if dev.flags != 1<<40 {
		t.Errorf("flags = %d", dev.flags)
	}
	if dev.powerSave {
		t.Error("power save still on")
	}
	if dev.pingHost != "192.168.1.1" || dev.pingInterval != 15*time.Second {
		t.Errorf("ping = %q every %v", dev.pingHost, dev.pingInterval)
	}
	if dev.startValues[4] != -1 {
		t.Errorf("start value = %d", dev.startValues[4])
	}
	if dev.channels[2] != 100 || dev.channels[3] != 1 {
		t.Errorf("channels = %v", dev.channels)
	}
	if dev.sleep != time.Minute {
		t.Errorf("sleep = %v", dev.sleep)
	}
	if dev.otaURL != "http://example.org/fw.rbl" {
		t.Errorf("ota = %q", dev.otaURL)
	}
	if dev.discovery != DefaultDiscoveryDelay {
		t.Errorf("discovery delay = %v", dev.discovery)
	}
	if !dev.called("clearNoPingTime") || !dev.called("openAP") {
		t.Errorf("calls = %v", dev.calls)
	}
}

func TestCommands_Restart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want time.Duration
	}{
		{"restart", DefaultRestartDelay},
		{"reboot", DefaultRestartDelay},
		{"restart 10", 10 * time.Second},
		{"REBOOT 0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()

			e, dev := setup(t, Deps{})
			if got := run(t, e, tt.line); got != command.OK {
				t.Fatalf("ExecuteLine() = %v", got)
			}
			if dev.restartDelay != tt.want {
				t.Errorf("restart delay = %v, want %v", dev.restartDelay, tt.want)
			}
		})
	}
}

func TestCommands_SafeMode(t *testing.T) {
	t.Parallel()

	e, dev := setup(t, Deps{})
	if got := run(t, e, "SafeMode"); got != command.OK {
		t.Fatal(got)
	}
	if !dev.called("safeMode") || dev.restartDelay != SafeModeRestartDelay {
		t.Errorf("calls = %v, delay = %v", dev.calls, dev.restartDelay)
	}
}

func TestCommands_Echo(t *testing.T) {
	t.Parallel()

	e, _ := setup(t, Deps{})
	var out bytes.Buffer
	ctx := command.WithOutput(context.Background(), &out)

	if got := e.ExecuteLine(ctx, `echo   First channel is $CH1 and "this" is the test  `, 0); got != command.OK {
		t.Fatal(got)
	}
	if want := "First channel is 80 and \"this\" is the test\n"; out.String() != want {
		t.Errorf("echo wrote %q, want %q", out.String(), want)
	}
}

func TestCommands_AliasKeepsVariables(t *testing.T) {
	t.Parallel()

	e, _ := setup(t, Deps{})
	if got := run(t, e, "alias show echo value is $CH1"); got != command.OK {
		t.Fatal(got)
	}
	entry, ok := e.Registry().Find("show")
	if !ok {
		t.Fatal("alias not registered")
	}
	if entry.AliasTarget() != "echo value is $CH1" {
		t.Errorf("AliasTarget() = %q", entry.AliasTarget())
	}

	var out bytes.Buffer
	ctx := command.WithOutput(context.Background(), &out)
	if got := e.ExecuteLine(ctx, "show", 0); got != command.OK {
		t.Fatal(got)
	}
	if out.String() != "value is 80\n" {
		t.Errorf("alias output = %q", out.String())
	}

	if got := run(t, e, "alias echo something"); got != command.BadArgument {
		t.Errorf("alias over builtin = %v, want BadArgument", got)
	}
}

func TestCommands_AliasQuotedTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		line       string
		wantTarget string
	}{
		{"bare words", "alias on SetChannel 2 1", "SetChannel 2 1"},
		{"one quoted token", `alias on "SetChannel 2 1"`, "SetChannel 2 1"},
		{"unterminated quote", `alias on "SetChannel 2 1`, "SetChannel 2 1"},
		{"quoted name inside a longer line", `alias on "SetChannel" 2 1`, `"SetChannel" 2 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, dev := setup(t, Deps{})
			if got := run(t, e, tt.line); got != command.OK {
				t.Fatalf("%s = %v", tt.line, got)
			}
			entry, ok := e.Registry().Find("on")
			if !ok {
				t.Fatal("alias not registered")
			}
			if entry.AliasTarget() != tt.wantTarget {
				t.Errorf("AliasTarget() = %q, want %q", entry.AliasTarget(), tt.wantTarget)
			}
			if tt.wantTarget != "SetChannel 2 1" {
				return
			}
			if got := run(t, e, "on"); got != command.OK {
				t.Fatalf("on = %v", got)
			}
			if dev.channels[2] != 1 {
				t.Errorf("channel 2 = %d, want 1", dev.channels[2])
			}
		})
	}
}

func TestCommands_ChannelFamily(t *testing.T) {
	t.Parallel()

	e, dev := setup(t, Deps{})

	if got := run(t, e, "Channel7 42"); got != command.OK {
		t.Fatal(got)
	}
	if dev.channels[7] != 42 {
		t.Errorf("channel 7 = %d", dev.channels[7])
	}
	if got := run(t, e, "Channel 8 5"); got != command.OK {
		t.Fatal(got)
	}
	if dev.channels[8] != 5 {
		t.Errorf("channel 8 = %d", dev.channels[8])
	}

	var out bytes.Buffer
	ctx := command.WithOutput(context.Background(), &out)
	if got := e.ExecuteLine(ctx, "channel7", 0); got != command.OK {
		t.Fatal(got)
	}
	if out.String() != "Channel7 = 42\n" {
		t.Errorf("output = %q", out.String())
	}
	if got := run(t, e, "Channel7 x"); got != command.BadArgument {
		t.Errorf("Channel7 x = %v", got)
	}
}

func TestCommands_If(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		line     string
		cond     bool
		wantCh   int
		wantCond string
	}{
		{"then taken", `if $CH1>50 then "SetChannel 1 1" else "SetChannel 1 2"`, true, 1, "80>50"},
		{"else taken", `if $CH1>50 then "SetChannel 1 1" else "SetChannel 1 2"`, false, 2, "80>50"},
		{"no else", `if 0 then "SetChannel 1 1"`, false, 0, "0"},
		{"case insensitive keywords", `if 1 THEN "SetChannel 1 3"`, true, 3, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			eval := &fixedEvaluator{result: tt.cond}
			e, dev := setup(t, Deps{Evaluator: eval})

			if got := run(t, e, tt.line); got != command.OK {
				t.Fatalf("ExecuteLine() = %v", got)
			}
			if len(eval.got) != 1 || eval.got[0] != tt.wantCond {
				t.Errorf("evaluated %q, want %q", eval.got, tt.wantCond)
			}
			if dev.channels[1] != tt.wantCh {
				t.Errorf("channel 1 = %d, want %d", dev.channels[1], tt.wantCh)
			}
		})
	}
}

func TestCommands_IfBranchResult(t *testing.T) {
	t.Parallel()

	e, _ := setup(t, Deps{Evaluator: &fixedEvaluator{result: true}})
	if got := run(t, e, "if 1 then nosuchcommand"); got != command.UnknownCommand {
		t.Errorf("ExecuteLine() = %v, want the branch's UnknownCommand", got)
	}

	e, _ = setup(t, Deps{Evaluator: &fixedEvaluator{err: errors.New("bad expr")}})
	if got := run(t, e, "if ??? then echo"); got != command.BadArgument {
		t.Errorf("ExecuteLine() = %v, want BadArgument", got)
	}
}

func TestCommands_IfWithCUE(t *testing.T) {
	t.Parallel()

	e, dev := setup(t, Deps{})
	if got := run(t, e, `if "$CH1 >= 80" then "SetChannel 5 1" else "SetChannel 5 2"`); got != command.OK {
		t.Fatal(got)
	}
	if dev.channels[5] != 1 {
		t.Errorf("channel 5 = %d, want 1", dev.channels[5])
	}
}

func TestCommands_ClearAll(t *testing.T) {
	t.Parallel()

	ext := &fakeExtension{}
	e, dev := setup(t, Deps{Extensions: []Extension{ext}})
	if err := ext.Register(e); err != nil {
		t.Fatal(err)
	}
	dev.channels[1] = 5
	dev.flags = 3

	if got := run(t, e, "alias myalias echo hi"); got != command.OK {
		t.Fatal(got)
	}
	before := e.Registry().Len()

	if got := run(t, e, "clearAll"); got != command.OK {
		t.Fatalf("clearAll = %v", got)
	}

	if _, ok := e.Registry().Find("myalias"); ok {
		t.Error("alias survived clearAll")
	}
	if _, ok := e.Registry().Find("addRepeatingEvent"); !ok {
		t.Error("extension commands were not reinstalled")
	}
	if e.Registry().Len() != before-1 {
		t.Errorf("Len() = %d, want %d", e.Registry().Len(), before-1)
	}
	if ext.resets != 1 || ext.registers != 2 {
		t.Errorf("extension resets=%d registers=%d", ext.resets, ext.registers)
	}
	if dev.channels[1] != 0 || dev.flags != 0 {
		t.Errorf("device not cleared: channels=%v flags=%d", dev.channels, dev.flags)
	}

	// The rebuilt table still works, including a second clearAll.
	if got := run(t, e, "clearAll"); got != command.OK {
		t.Errorf("second clearAll = %v", got)
	}
}

func TestCommands_ClearConfigFailure(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice()
	dev.failClear = true
	e, _ := setup(t, Deps{Device: dev})

	if got := run(t, e, "clearConfig"); got != command.BadArgument {
		t.Errorf("clearConfig = %v, want BadArgument", got)
	}
	if got := run(t, e, "clearAll"); got != command.BadArgument {
		t.Errorf("clearAll = %v, want BadArgument", got)
	}
	if _, ok := e.Registry().Find("echo"); !ok {
		t.Error("failed clearAll must not wipe the registry")
	}
}

func TestCommands_FaultInjectionDisabled(t *testing.T) {
	t.Parallel()

	e, _ := setup(t, Deps{})
	for _, line := range []string{"stackOverflow", "crashNull"} {
		if got := run(t, e, line); got != command.BadArgument {
			t.Errorf("%s = %v, want BadArgument", line, got)
		}
	}
}

func TestCommands_IRTestDiagnostic(t *testing.T) {
	t.Parallel()

	for _, deps := range []Deps{{}, {FaultInjection: true}} {
		e, _ := setup(t, deps)
		if got := run(t, e, "SimonIRTest"); got != command.OK {
			t.Errorf("simonirtest (fault injection %v) = %v, want OK", deps.FaultInjection, got)
		}
	}
}

func TestCommands_CrashNullPanics(t *testing.T) {
	t.Parallel()

	e, _ := setup(t, Deps{FaultInjection: true})
	defer func() {
		if recover() == nil {
			t.Error("crashNull did not panic")
		}
	}()
	run(t, e, "crashNull")
}

func TestCommands_ListCmds(t *testing.T) {
	t.Parallel()

	e, _ := setup(t, Deps{})
	var out bytes.Buffer
	ctx := command.WithOutput(context.Background(), &out)
	if got := e.ExecuteLine(ctx, "listCmds", 0); got != command.OK {
		t.Fatal(got)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != len(Names()) {
		t.Errorf("listCmds printed %d names, want %d", len(lines), len(Names()))
	}
}
