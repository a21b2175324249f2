// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/flashcmd/flashcmd/internal/config"
	"github.com/flashcmd/flashcmd/internal/issue"
)

// newConfigCommand creates the `flashcmd config` command tree.
// Subcommands that read configuration use the App's Provider.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage flashcmd configuration",
		Long: `Manage flashcmd configuration.

Configuration is stored in:
  - Linux: ~/.config/flashcmd/config.cue
  - macOS: ~/Library/Application Support/flashcmd/config.cue
  - Windows: %APPDATA%\flashcmd\config.cue

Environment variables named FLASHCMD_<SECTION>_<FIELD> (for example
FLASHCMD_CONSOLE_PORT) override the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.showConfig(cmd.Context()); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Long: `Write the default configuration to the --config path, or to the default
location when --config is not given. An existing file is kept unless --force
is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.initConfig(force); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.configFilePath()
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

// configFilePath is the --config value or the default location.
func (a *App) configFilePath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.DefaultPath()
}

func (a *App) showConfig(ctx context.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	w := a.stdout

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	source := SubtitleStyle.Render("(using defaults)")
	if path, pathErr := a.configFilePath(); pathErr == nil {
		if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
			source = path
		}
	}
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), source)

	section := func(name string) {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s:\n", keyStyle.Render(name))
	}
	field := func(name, value string) {
		fmt.Fprintf(w, "  %s: %s\n", name, valueStyle.Render(value))
	}

	section("engine")
	field("max_depth", strconv.Itoa(cfg.Engine.MaxDepth))

	section("log")
	field("level", cfg.Log.Level.String())

	section("console")
	field("enabled", strconv.FormatBool(cfg.Console.Enabled))
	field("address", fmt.Sprintf("%s:%d", cfg.Console.Host, cfg.Console.Port))
	field("rate_per_second", strconv.FormatFloat(cfg.Console.RatePerSecond, 'g', -1, 64))
	field("burst", strconv.Itoa(cfg.Console.Burst))

	section("ssh")
	field("enabled", strconv.FormatBool(cfg.SSH.Enabled))
	field("address", fmt.Sprintf("%s:%d", cfg.SSH.Host, cfg.SSH.Port))
	field("password", maskSecret(cfg.SSH.Password))
	if cfg.SSH.HostKeyPath != "" {
		field("host_key_path", cfg.SSH.HostKeyPath)
	}

	section("uart")
	field("enabled", strconv.FormatBool(cfg.UART.Enabled))
	field("device", cfg.UART.Device)

	section("script")
	if cfg.Script.Path == "" {
		fmt.Fprintf(w, "  path: %s\n", SubtitleStyle.Render("(none)"))
	} else {
		field("path", cfg.Script.Path)
	}
	field("watch", strconv.FormatBool(cfg.Script.Watch))

	section("store")
	field("path", cfg.Store.Path)

	section("diagnostics")
	field("fault_injection", strconv.FormatBool(cfg.Diagnostics.FaultInjection))

	return nil
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	return "********"
}

func (a *App) initConfig(force bool) error {
	path, err := a.configFilePath()
	if err != nil {
		return err
	}

	if err := config.WriteFile(path, config.DefaultConfig(), force); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return issue.NewErrorContext().
				WithOperation("create configuration").
				WithResource(path).
				WithSuggestion("Pass --force to overwrite it").
				WithSuggestion("Or inspect it with: flashcmd config show").
				Wrap(err).
				BuildError()
		}
		return err
	}

	fmt.Fprintf(a.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
