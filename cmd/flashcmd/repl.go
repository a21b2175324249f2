// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/config"
	"github.com/flashcmd/flashcmd/internal/node"
)

const (
	replPrompt      = "flashcmd> "
	historyFileName = "history"
)

type (
	// prompter is the part of liner.State the REPL loop uses.
	prompter interface {
		Prompt(prompt string) (string, error)
		AppendHistory(item string)
	}

	// submitFunc runs one line and returns its result.
	submitFunc func(ctx context.Context, line string) (command.Result, error)
)

func newReplCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive command prompt",
		Long: `Start an interactive prompt with line editing, history and tab completion
of command names. Repeating events keep firing while the prompt is open.

Type exit or quit, or press Ctrl+D, to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.repl(cmd.Context()); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
}

func (a *App) repl(ctx context.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	n, err := a.openNode(ctx, cfg, node.WithoutBootCount())
	if err != nil {
		return err
	}
	defer n.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(commandCompleter(n.Engine().Registry()))

	historyPath := replHistoryPath()
	loadHistory(line, historyPath)
	defer saveHistory(line, historyPath)

	out := command.WithOutput(ctx, a.stdout)
	return runREPL(ctx, line, func(ctx context.Context, l string) (command.Result, error) {
		return n.Submit(out, l, 0)
	}, a.stdout)
}

// runREPL reads lines from p until EOF, Ctrl+C, exit or quit, submits each
// and prints its result.
func runREPL(ctx context.Context, p prompter, submit submitFunc, out io.Writer) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := p.Prompt(replPrompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		p.AppendHistory(input)
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		res, err := submit(ctx, input)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderResult(res))
	}
}

// commandCompleter completes the first word against the registered command
// names, case-insensitively.
func commandCompleter(reg *command.Registry) liner.Completer {
	return func(line string) []string {
		if strings.ContainsAny(line, " \t") {
			return nil
		}
		prefix := strings.ToLower(line)
		var matches []string
		for _, name := range reg.Names() {
			if strings.HasPrefix(strings.ToLower(name), prefix) {
				matches = append(matches, name)
			}
		}
		return matches
	}
}

func replHistoryPath() string {
	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, historyFileName)
}

func loadHistory(line *liner.State, path string) {
	if f, err := os.Open(path); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
}

// saveHistory writes the history with owner-only permissions.
func saveHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
