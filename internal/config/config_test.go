// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/flashcmd/flashcmd/internal/issue"
	"github.com/flashcmd/flashcmd/internal/testutil"

	"github.com/charmbracelet/log"
)

// noEnv keeps the process environment out of a load.
var noEnv = map[string]string{}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	testutil.MustWriteFile(t, path, content)
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if valid, errs := cfg.IsValid(); !valid {
		t.Fatalf("DefaultConfig() is invalid: %v", errs)
	}
	if cfg.Engine.MaxDepth != 16 {
		t.Errorf("Engine.MaxDepth = %d, want 16", cfg.Engine.MaxDepth)
	}
	if !cfg.Console.Enabled || cfg.Console.Port != 23 {
		t.Errorf("Console = %+v", cfg.Console)
	}
	if cfg.SSH.Enabled || cfg.UART.Enabled {
		t.Error("SSH and UART should be disabled by default")
	}
	if cfg.UART.Device != StdinDevice {
		t.Errorf("UART.Device = %q", cfg.UART.Device)
	}
	if cfg.Diagnostics.FaultInjection {
		t.Error("fault injection should be off by default")
	}
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir(), Environment: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty", path)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("Load() = %+v, want defaults", *cfg)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := writeConfig(t, dir, `
console: {
	port:            2323
	rate_per_second: 2.5
}
ssh: {
	enabled:  true
	password: "hunter2"
}
log: level: "debug"
diagnostics: fault_injection: true
`)

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir, Environment: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if cfg.Console.Port != 2323 || cfg.Console.RatePerSecond != 2.5 {
		t.Errorf("Console = %+v", cfg.Console)
	}
	if !cfg.Console.Enabled || cfg.Console.Burst != 20 {
		t.Errorf("unset console fields lost their defaults: %+v", cfg.Console)
	}
	if !cfg.SSH.Enabled || cfg.SSH.Password != "hunter2" || cfg.SSH.Port != 2222 {
		t.Errorf("SSH = %+v", cfg.SSH)
	}
	if cfg.Log.Level != LogLevelDebug {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if !cfg.Diagnostics.FaultInjection {
		t.Error("FaultInjection not loaded")
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "console: port: 2323\n")

	cfg, _, err := Load(context.Background(), LoadOptions{
		ConfigDirPath: dir,
		Environment: map[string]string{
			"FLASHCMD_CONSOLE_PORT":        "4000",
			"FLASHCMD_UART_ENABLED":        "true",
			"FLASHCMD_UART_DEVICE":         "/dev/ttyUSB0",
			"FLASHCMD_STORE_PATH":          MemoryStore,
			"FLASHCMD_ENGINE_MAX_DEPTH":    "4",
			"FLASHCMD_SCRIPT_PATH":         "autoexec.txt",
			"CONSOLE_PORT":                 "1",
			"FLASHCMD_DIAGNOSTICS_UNKNOWN": "x",
		},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Console.Port != 4000 {
		t.Errorf("Console.Port = %d, want 4000", cfg.Console.Port)
	}
	if !cfg.UART.Enabled || cfg.UART.Device != "/dev/ttyUSB0" {
		t.Errorf("UART = %+v", cfg.UART)
	}
	if cfg.Store.Path != MemoryStore || cfg.Engine.MaxDepth != 4 || cfg.Script.Path != "autoexec.txt" {
		t.Errorf("cfg = %+v", *cfg)
	}
}

func TestLoad_EnvironmentIsValidated(t *testing.T) {
	t.Parallel()

	_, _, err := Load(context.Background(), LoadOptions{
		ConfigDirPath: t.TempDir(),
		Environment:   map[string]string{"FLASHCMD_SSH_ENABLED": "true", "FLASHCMD_LOG_LEVEL": "loud"},
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
	}
	if !errors.Is(err, ErrInvalidLogLevel) || !errors.Is(err, ErrMissingValue) {
		t.Errorf("error should carry both field errors, got %v", err)
	}

	_, _, err = Load(context.Background(), LoadOptions{
		ConfigDirPath: t.TempDir(),
		Environment:   map[string]string{"FLASHCMD_CONSOLE_PORT": "many"},
	})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || ae.Operation != "apply environment overrides" {
		t.Errorf("Load() error = %v", err)
	}
}

func TestLoad_SchemaViolation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, "console: port: 70000\n")

	_, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir, Environment: noEnv})
	if err == nil {
		t.Fatal("Load() should reject an out of range port")
	}

	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("error type = %T, want *issue.ActionableError", err)
	}
	if ae.Operation != "load configuration" || ae.Resource != path {
		t.Errorf("Operation/Resource = %q/%q", ae.Operation, ae.Resource)
	}
	if ae.Issue != issue.ConfigLoadFailedId || !ae.HasSuggestions() {
		t.Errorf("Issue = %d, suggestions = %v", ae.Issue, ae.Suggestions)
	}
	if !strings.Contains(err.Error(), "console.port") {
		t.Errorf("error should name the field, got %v", err)
	}
}

func TestLoad_InvalidCUE(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "console: {port: \n")

	if _, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir, Environment: noEnv}); err == nil {
		t.Fatal("Load() should reject malformed CUE")
	}
}

func TestLoad_CustomPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	custom := filepath.Join(dir, "custom.cue")
	testutil.MustWriteFile(t, custom, "store: path: \":memory:\"\n")

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigFilePath: custom, Environment: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if path != custom || cfg.Store.Path != MemoryStore {
		t.Errorf("path = %q, store = %q", path, cfg.Store.Path)
	}

	_, _, err = Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(dir, "nope.cue"), Environment: noEnv})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("missing custom path error = %v", err)
	}
}

func TestLoad_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); !errors.Is(err, context.Canceled) {
		t.Errorf("Load() error = %v, want context.Canceled", err)
	}
}

func TestProvider(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, "log: level: \"warn\"\n")

	cfg, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir, Environment: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level.Level() != log.WarnLevel {
		t.Errorf("Level() = %v", cfg.Log.Level.Level())
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.cue")

	cfg := DefaultConfig()
	cfg.Console.Port = 2424
	cfg.SSH.Enabled = true
	cfg.SSH.Password = `pa"ss`
	cfg.Script = ScriptConfig{Path: "autoexec.txt", Watch: true}

	if err := WriteFile(path, cfg, false); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := WriteFile(path, cfg, false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second WriteFile() error = %v, want ErrConfigExists", err)
	}
	if err := WriteFile(path, cfg, true); err != nil {
		t.Errorf("forced WriteFile() error = %v", err)
	}

	loaded, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: path, Environment: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip = %+v, want %+v", *loaded, *cfg)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o600 {
			t.Errorf("mode = %v, want 0600", info.Mode().Perm())
		}
	}
}

func TestConfigDir_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME applies to Linux")
	}

	t.Setenv("XDG_CONFIG_HOME", "/tmp/test-xdg-config")
	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if want := filepath.Join("/tmp/test-xdg-config", AppName); dir != want {
		t.Errorf("ConfigDir() = %q, want %q", dir, want)
	}
}

func TestCreateDefaultConfigAndSave(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("CreateDefaultConfig() error = %v", err)
	}
	path, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "config.cue") {
		t.Errorf("DefaultPath() = %q", path)
	}

	cfg := DefaultConfig()
	cfg.Log.Level = LogLevelError
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// A second CreateDefaultConfig keeps the saved file.
	if err := CreateDefaultConfig(); err != nil {
		t.Fatalf("CreateDefaultConfig() error = %v", err)
	}

	loaded, _, err := Load(context.Background(), LoadOptions{Environment: noEnv})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Log.Level != LogLevelError {
		t.Errorf("Log.Level = %q, want error", loaded.Log.Level)
	}

	Reset()
	if configDirOverride != "" {
		t.Error("Reset() should clear the override")
	}
}
