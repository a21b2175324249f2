// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flashcmd/flashcmd/internal/config"
	"github.com/flashcmd/flashcmd/internal/node"
)

func newServeCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the consoles, the serial reader and the autoexec script",
		Long: `Run the device until interrupted.

The enabled transports (TCP console, SSH console, serial reader) are started,
the autoexec script runs once and repeating events fire. A restart or deep
sleep requested by a command rebuilds the device in place, the way the
firmware reboots.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			if err := app.serve(cmd.Context(), cfg); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
}

// serve runs nodes back to back until ctx ends or one fails.
func (a *App) serve(ctx context.Context, cfg *config.Config) error {
	for boot := 1; ; boot++ {
		n, err := a.openNode(ctx, cfg)
		if err != nil {
			return err
		}
		if n.SafeMode() {
			fmt.Fprintln(a.stderr, WarningStyle.Render("!")+" safe mode: too many unfinished boots, autoexec skipped")
		}
		if a.verbose {
			fmt.Fprintln(a.stderr, VerboseStyle.Render(fmt.Sprintf("boot %d", boot)))
		}

		runErr := n.Run(ctx)
		sleep := n.SleepDuration()
		closeErr := n.Close()

		if !errors.Is(runErr, node.ErrRestart) {
			return errors.Join(runErr, closeErr)
		}
		if closeErr != nil {
			return closeErr
		}
		if sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
