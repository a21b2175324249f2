// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/flashcmd/flashcmd/internal/cueutil"
	"github.com/flashcmd/flashcmd/internal/issue"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "flashcmd"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes every environment override, as in FLASHCMD_CONSOLE_PORT.
	EnvPrefix = "FLASHCMD_"
)

// ErrConfigExists is returned by WriteFile when the target exists and force
// is not set.
var ErrConfigExists = errors.New("config file already exists")

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the flashcmd configuration directory using platform
// conventions: %APPDATA% on Windows, ~/Library/Application Support on macOS
// and $XDG_CONFIG_HOME (defaulting to ~/.config) elsewhere.
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DefaultPath returns the path of the config file in ConfigDir.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), nil
}

// Load reads the configuration and reports the file it came from, empty when
// only defaults and environment overrides were used.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	return loadWithOptions(ctx, opts)
}

// loadWithOptions layers the sources in order: defaults, the CUE file
// validated against #Config, then FLASHCMD_* environment variables. The
// result is validated once more because the environment bypasses the schema.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	path, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Use 'flashcmd config show' to see the effective configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: opts.Environment}); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("apply environment overrides").
			WithSuggestion("Check the " + EnvPrefix + "* variables in your environment").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}

	if valid, errs := cfg.IsValid(); !valid {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Fix the fields named above in the file or the environment").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errors.Join(errs...)).
			BuildError()
	}

	return &cfg, path, nil
}

// resolvePath picks the config file: the explicit path, then ConfigDir, then
// the working directory. An explicit path must exist; the others are optional.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Create one with 'flashcmd config init'").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	name := ConfigFileName + "." + ConfigFileExt
	for _, candidate := range []string{filepath.Join(cfgDir, name), name} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("engine.max_depth", d.Engine.MaxDepth)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("console.enabled", d.Console.Enabled)
	v.SetDefault("console.host", d.Console.Host)
	v.SetDefault("console.port", d.Console.Port)
	v.SetDefault("console.rate_per_second", d.Console.RatePerSecond)
	v.SetDefault("console.burst", d.Console.Burst)
	v.SetDefault("ssh.enabled", d.SSH.Enabled)
	v.SetDefault("ssh.host", d.SSH.Host)
	v.SetDefault("ssh.port", d.SSH.Port)
	v.SetDefault("ssh.password", d.SSH.Password)
	v.SetDefault("ssh.host_key_path", d.SSH.HostKeyPath)
	v.SetDefault("uart.enabled", d.UART.Enabled)
	v.SetDefault("uart.device", d.UART.Device)
	v.SetDefault("script.path", d.Script.Path)
	v.SetDefault("script.watch", d.Script.Watch)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("diagnostics.fault_injection", d.Diagnostics.FaultInjection)
}

// loadCUEIntoViper validates the file against #Config and merges it over the
// defaults. Fields are optional, so the document is decoded non-concrete into
// a map instead of a struct.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	res, err := cueutil.ParseFile[map[string]any](configSchema, path, "#Config", cueutil.WithConcrete(false))
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(*res.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// WriteFile writes cfg as CUE to path, creating the directory. An existing
// file is only replaced when force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force && fileExists(path) {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The file may hold the SSH password.
	if err := os.WriteFile(path, []byte(GenerateCUE(cfg)), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateDefaultConfig writes the defaults to DefaultPath unless a file is
// already there.
func CreateDefaultConfig() error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	if err := WriteFile(path, DefaultConfig(), false); err != nil && !errors.Is(err, ErrConfigExists) {
		return err
	}
	return nil
}

// Save writes cfg to DefaultPath, replacing any existing file.
func Save(cfg *Config) error {
	path, err := DefaultPath()
	if err != nil {
		return err
	}
	return WriteFile(path, cfg, true)
}

// GenerateCUE renders cfg as a CUE document accepted by #Config.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// flashcmd configuration\n")
	sb.WriteString("// Environment variables named " + EnvPrefix + "<SECTION>_<FIELD> override these values.\n")

	fmt.Fprintf(&sb, "\nengine: {\n\tmax_depth: %d\n}\n", cfg.Engine.MaxDepth)
	fmt.Fprintf(&sb, "\nlog: {\n\tlevel: %q\n}\n", cfg.Log.Level)

	sb.WriteString("\nconsole: {\n")
	fmt.Fprintf(&sb, "\tenabled:         %v\n", cfg.Console.Enabled)
	fmt.Fprintf(&sb, "\thost:            %q\n", cfg.Console.Host)
	fmt.Fprintf(&sb, "\tport:            %d\n", cfg.Console.Port)
	fmt.Fprintf(&sb, "\trate_per_second: %s\n", formatNumber(cfg.Console.RatePerSecond))
	fmt.Fprintf(&sb, "\tburst:           %d\n", cfg.Console.Burst)
	sb.WriteString("}\n")

	sb.WriteString("\nssh: {\n")
	fmt.Fprintf(&sb, "\tenabled:  %v\n", cfg.SSH.Enabled)
	fmt.Fprintf(&sb, "\thost:     %q\n", cfg.SSH.Host)
	fmt.Fprintf(&sb, "\tport:     %d\n", cfg.SSH.Port)
	fmt.Fprintf(&sb, "\tpassword: %q\n", cfg.SSH.Password)
	if cfg.SSH.HostKeyPath != "" {
		fmt.Fprintf(&sb, "\thost_key_path: %q\n", cfg.SSH.HostKeyPath)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nuart: {\n")
	fmt.Fprintf(&sb, "\tenabled: %v\n", cfg.UART.Enabled)
	fmt.Fprintf(&sb, "\tdevice:  %q\n", cfg.UART.Device)
	sb.WriteString("}\n")

	sb.WriteString("\nscript: {\n")
	fmt.Fprintf(&sb, "\tpath:  %q\n", cfg.Script.Path)
	fmt.Fprintf(&sb, "\twatch: %v\n", cfg.Script.Watch)
	sb.WriteString("}\n")

	fmt.Fprintf(&sb, "\nstore: {\n\tpath: %q\n}\n", cfg.Store.Path)
	fmt.Fprintf(&sb, "\ndiagnostics: {\n\tfault_injection: %v\n}\n", cfg.Diagnostics.FaultInjection)

	return sb.String()
}

// formatNumber keeps a decimal point so CUE reads the value as a number even
// when it is whole.
func formatNumber(f float64) string {
	s := fmt.Sprintf("%g", f)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
