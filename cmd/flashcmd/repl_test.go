// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/peterh/liner"

	"github.com/flashcmd/flashcmd/internal/command"
)

type scriptedPrompter struct {
	lines   []string
	end     error
	history []string
}

func (p *scriptedPrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", p.end
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func (p *scriptedPrompter) AppendHistory(item string) {
	p.history = append(p.history, item)
}

func TestRunREPL(t *testing.T) {
	t.Parallel()

	p := &scriptedPrompter{lines: []string{"echo hi", "   ", "nosuch", "EXIT", "echo never"}, end: io.EOF}
	var submitted []string
	submit := func(_ context.Context, line string) (command.Result, error) {
		submitted = append(submitted, line)
		if strings.HasPrefix(line, "echo") {
			return command.OK, nil
		}
		return command.UnknownCommand, nil
	}

	var out bytes.Buffer
	if err := runREPL(context.Background(), p, submit, &out); err != nil {
		t.Fatalf("runREPL() error = %v", err)
	}

	if want := []string{"echo hi", "nosuch"}; !slices.Equal(submitted, want) {
		t.Errorf("submitted = %v, want %v", submitted, want)
	}
	if want := []string{"echo hi", "nosuch", "EXIT"}; !slices.Equal(p.history, want) {
		t.Errorf("history = %v, want %v", p.history, want)
	}
	for _, want := range []string{"<OK>", "<UNKNOWN_COMMAND>"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q: %q", want, out.String())
		}
	}
}

func TestRunREPL_EndOfInput(t *testing.T) {
	t.Parallel()

	for _, end := range []error{io.EOF, liner.ErrPromptAborted} {
		p := &scriptedPrompter{end: end}
		err := runREPL(context.Background(), p, func(context.Context, string) (command.Result, error) {
			t.Error("nothing should be submitted")
			return command.OK, nil
		}, io.Discard)
		if err != nil {
			t.Errorf("runREPL() with %v error = %v", end, err)
		}
	}
}

func TestRunREPL_SubmitError(t *testing.T) {
	t.Parallel()

	boom := errors.New("scheduler stopped")
	p := &scriptedPrompter{lines: []string{"echo"}, end: io.EOF}
	err := runREPL(context.Background(), p, func(context.Context, string) (command.Result, error) {
		return command.UnknownCommand, boom
	}, io.Discard)
	if !errors.Is(err, boom) {
		t.Errorf("runREPL() error = %v, want %v", err, boom)
	}
}

func TestCommandCompleter(t *testing.T) {
	t.Parallel()

	reg := command.NewRegistry(nil)
	for _, name := range []string{"SetChannel", "SetStartValue", "echo"} {
		if err := reg.Register(name, command.HandlerFunc(func(context.Context, *command.Invocation) command.Result {
			return command.OK
		}), nil); err != nil {
			t.Fatal(err)
		}
	}
	complete := commandCompleter(reg)

	tests := []struct {
		line string
		want []string
	}{
		{"set", []string{"SetChannel", "SetStartValue"}},
		{"SetC", []string{"SetChannel"}},
		{"ECH", []string{"echo"}},
		{"zzz", nil},
		{"SetChannel 1", nil},
	}

	for _, tt := range tests {
		got := complete(tt.line)
		if !slices.Equal(got, tt.want) {
			t.Errorf("complete(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
