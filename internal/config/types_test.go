// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value LogLevel
		valid bool
		level log.Level
	}{
		{LogLevelDebug, true, log.DebugLevel},
		{LogLevelInfo, true, log.InfoLevel},
		{LogLevelWarn, true, log.WarnLevel},
		{LogLevelError, true, log.ErrorLevel},
		{"trace", false, log.InfoLevel},
		{"", false, log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.value), func(t *testing.T) {
			t.Parallel()

			valid, errs := tt.value.IsValid()
			if valid != tt.valid {
				t.Errorf("IsValid() = %v, want %v", valid, tt.valid)
			}
			if !valid && (len(errs) != 1 || !errors.Is(errs[0], ErrInvalidLogLevel)) {
				t.Errorf("errors = %v", errs)
			}
			if got := tt.value.Level(); got != tt.level {
				t.Errorf("Level() = %v, want %v", got, tt.level)
			}
		})
	}
}

func TestConfig_IsValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   []error
	}{
		{"defaults", func(*Config) {}, nil},
		{"depth zero", func(c *Config) { c.Engine.MaxDepth = 0 }, []error{ErrInvalidMaxDepth}},
		{"port", func(c *Config) { c.Console.Port = 65536 }, []error{ErrInvalidConsoleConfig, ErrInvalidPort}},
		{"rate", func(c *Config) { c.Console.RatePerSecond = 0 }, []error{ErrInvalidConsoleConfig, ErrInvalidRate}},
		{"burst", func(c *Config) { c.Console.Burst = -1 }, []error{ErrInvalidRate}},
		{"ssh without password", func(c *Config) { c.SSH.Enabled = true }, []error{ErrInvalidSSHConfig, ErrMissingValue}},
		{"disabled ssh without password", func(c *Config) { c.SSH.Password = "" }, nil},
		{"uart without device", func(c *Config) { c.UART = UARTConfig{Enabled: true} }, []error{ErrMissingValue}},
		{"watch without script", func(c *Config) { c.Script.Watch = true }, []error{ErrMissingValue}},
		{"blank store", func(c *Config) { c.Store.Path = " " }, []error{ErrMissingValue}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := DefaultConfig()
			tt.mutate(cfg)
			valid, errs := cfg.IsValid()
			if valid != (tt.want == nil) {
				t.Fatalf("IsValid() = %v, %v", valid, errs)
			}
			if valid {
				return
			}
			var invalid *InvalidConfigError
			if len(errs) != 1 || !errors.As(errs[0], &invalid) {
				t.Fatalf("errors = %v, want one *InvalidConfigError", errs)
			}
			joined := errors.Join(invalid.FieldErrors...)
			for _, target := range tt.want {
				if !errors.Is(joined, target) {
					t.Errorf("field errors %v do not match %v", invalid.FieldErrors, target)
				}
			}
		})
	}
}

func TestInvalidConfigError_Message(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Console.Port = -2
	cfg.Engine.MaxDepth = 0
	_, errs := cfg.IsValid()
	msg := errs[0].Error()
	for _, want := range []string{"console.port", "engine.max_depth"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q should mention %q", msg, want)
		}
	}
	if !errors.Is(errs[0], ErrInvalidConfig) {
		t.Error("should unwrap to ErrInvalidConfig")
	}
}
