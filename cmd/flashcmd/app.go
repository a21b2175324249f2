// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/flashcmd/flashcmd/internal/config"
	"github.com/flashcmd/flashcmd/internal/node"
)

// defaultIssueStyle is the glamour style used for catalog entries.
const defaultIssueStyle = "dark"

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra handler receives an App and reaches
	// configuration, the node and the standard streams through it.
	App struct {
		Config config.Provider

		stdin      io.Reader
		stdout     io.Writer
		stderr     io.Writer
		issueStyle string

		// Bound to the persistent root flags.
		configPath string
		verbose    bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdin  io.Reader
		Stdout io.Writer
		Stderr io.Writer
		// IssueStyle is the glamour style for catalog entries ("dark" when empty).
		IssueStyle string
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) (*App, error) {
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.IssueStyle == "" {
		deps.IssueStyle = defaultIssueStyle
	}

	return &App{
		Config:     deps.Config,
		stdin:      deps.Stdin,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		issueStyle: deps.IssueStyle,
	}, nil
}

// loadConfig loads the configuration, honoring --config.
func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.configPath})
}

// newLogger builds the root logger on stderr at the configured level;
// --verbose forces debug.
func (a *App) newLogger(cfg *config.Config) *log.Logger {
	logger := log.NewWithOptions(a.stderr, log.Options{
		ReportTimestamp: true,
		Level:           cfg.Log.Level.Level(),
	})
	if a.verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// openNode builds and starts a node for cfg.
func (a *App) openNode(ctx context.Context, cfg *config.Config, opts ...node.Option) (*node.Node, error) {
	base := []node.Option{
		node.WithLogger(a.newLogger(cfg)),
		node.WithStdin(a.stdin),
	}
	n, err := node.New(ctx, cfg, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

// fail renders err on stderr and returns an ExitError so fang does not print
// it a second time.
func (a *App) fail(cmd *cobra.Command, err error) error {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return exitErr
	}
	reportError(a.stderr, err, a.verbose, a.issueStyle)
	if exitErr != nil {
		return exitErr
	}
	return &ExitError{Code: 1, Err: err}
}
