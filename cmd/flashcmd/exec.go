// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/shell"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/issue"
	"github.com/flashcmd/flashcmd/internal/node"
)

func newExecCommand(app *App) *cobra.Command {
	var expandEnv bool

	execCmd := &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run one command line",
		Long: `Run one command line against the persisted device state and exit with its
result code (0 for OK).

A single argument is taken as a whole command line. Several arguments are
joined with spaces, and arguments that contain spaces are wrapped in double
quotes so they reach the command as one token.

Device variables such as $CH1 are expanded by the command engine. Quote them
from your shell, or pass --env to expand $VAR and ${VAR} from the process
environment first.`,
		Example: `  flashcmd exec SetChannel 1 100
  flashcmd exec 'alias on SetChannel 1 1'
  flashcmd exec --env echo '${USER}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := joinCommandLine(args, expandEnv, os.Getenv)
			if err != nil {
				return app.fail(cmd, err)
			}
			if err := app.execLine(cmd.Context(), line); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
	execCmd.Flags().SetInterspersed(false)
	execCmd.Flags().BoolVar(&expandEnv, "env", false, "expand $VAR and ${VAR} from the environment before running")

	return execCmd
}

// execLine runs line on a node that does not count as a boot.
func (a *App) execLine(ctx context.Context, line string) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	n, err := a.openNode(ctx, cfg, node.WithoutBootCount())
	if err != nil {
		return err
	}
	defer n.Close()

	res, err := n.Submit(command.WithOutput(ctx, a.stdout), line, 0)
	if err != nil {
		return err
	}
	if a.verbose {
		fmt.Fprintln(a.stderr, VerboseStyle.Render(line)+" "+renderResult(res))
	}
	return resultError(line, res)
}

// resultError maps a failed result to an ExitError carrying the result code.
func resultError(line string, res command.Result) error {
	if res.IsOK() {
		return nil
	}
	id := issue.CommandFailedId
	if res == command.UnknownCommand {
		id = issue.UnknownCommandId
	}
	styled := fmt.Sprintf("%s %s %s\n", ErrorStyle.Render("Error:"), CmdStyle.Render(line), renderResult(res))
	return &ExitError{
		Code: int(res),
		Err:  newServiceError(fmt.Errorf("%s: %w", line, res.Err()), id, styled),
	}
}

// joinCommandLine turns argv into one command line. Arguments with blanks
// are double-quoted; the engine's tokenizer knows no other quoting.
func joinCommandLine(args []string, expandEnv bool, getenv func(string) string) (string, error) {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if expandEnv {
			expanded, err := shell.Expand(arg, getenv)
			if err != nil {
				return "", fmt.Errorf("expand %q: %w", arg, err)
			}
			arg = expanded
		}
		parts = append(parts, arg)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	for i, p := range parts {
		if p == "" || strings.ContainsAny(p, " \t") {
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, " "), nil
}
