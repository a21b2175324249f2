// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	// LogLevelDebug logs the raw command echo and registrations.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo logs handler chatter.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs arity failures and dropped lines.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs unknown commands and failed registrations only.
	LogLevelError LogLevel = "error"

	// StdinDevice makes the UART reader consume stdin.
	StdinDevice = "-"
	// MemoryStore keeps the store in memory for the life of the process.
	MemoryStore = ":memory:"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidPort is returned when a Port is outside 0-65535.
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidMaxDepth is returned when engine.max_depth is below 1.
	ErrInvalidMaxDepth = errors.New("invalid max depth")
	// ErrInvalidRate is returned when the console rate limit is not positive.
	ErrInvalidRate = errors.New("invalid rate limit")
	// ErrMissingValue is returned when an enabled component lacks a required value.
	ErrMissingValue = errors.New("missing value")
	// ErrInvalidConsoleConfig is the sentinel error wrapped by InvalidConsoleConfigError.
	ErrInvalidConsoleConfig = errors.New("invalid console config")
	// ErrInvalidSSHConfig is the sentinel error wrapped by InvalidSSHConfigError.
	ErrInvalidSSHConfig = errors.New("invalid ssh config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level logged by every component.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// Port is a TCP port. Zero asks the system for a free one.
	Port int

	// InvalidPortError is returned when a Port is out of range.
	InvalidPortError struct {
		Field string
		Value Port
	}

	// InvalidMaxDepthError is returned when engine.max_depth is below 1.
	InvalidMaxDepthError struct {
		Value int
	}

	// InvalidRateError is returned when console.rate_per_second or
	// console.burst is not positive.
	InvalidRateError struct {
		Field string
		Value float64
	}

	// MissingValueError is returned when an enabled component lacks a value it
	// cannot run without.
	MissingValueError struct {
		Field string
	}

	// InvalidConsoleConfigError collects the field errors of ConsoleConfig.
	InvalidConsoleConfigError struct {
		FieldErrors []error
	}

	// InvalidSSHConfigError collects the field errors of SSHConfig.
	InvalidSSHConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sections.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the flashcmd configuration.
	Config struct {
		Engine      EngineConfig      `json:"engine" mapstructure:"engine" envPrefix:"ENGINE_"`
		Log         LogConfig         `json:"log" mapstructure:"log" envPrefix:"LOG_"`
		Console     ConsoleConfig     `json:"console" mapstructure:"console" envPrefix:"CONSOLE_"`
		SSH         SSHConfig         `json:"ssh" mapstructure:"ssh" envPrefix:"SSH_"`
		UART        UARTConfig        `json:"uart" mapstructure:"uart" envPrefix:"UART_"`
		Script      ScriptConfig      `json:"script" mapstructure:"script" envPrefix:"SCRIPT_"`
		Store       StoreConfig       `json:"store" mapstructure:"store" envPrefix:"STORE_"`
		Diagnostics DiagnosticsConfig `json:"diagnostics" mapstructure:"diagnostics" envPrefix:"DIAGNOSTICS_"`
	}

	// EngineConfig configures the command engine.
	EngineConfig struct {
		// MaxDepth bounds nested execution through aliases, if and events.
		MaxDepth int `json:"max_depth" mapstructure:"max_depth" env:"MAX_DEPTH"`
	}

	// LogConfig configures logging.
	LogConfig struct {
		Level LogLevel `json:"level" mapstructure:"level" env:"LEVEL"`
	}

	// ConsoleConfig configures the raw TCP console.
	ConsoleConfig struct {
		Enabled       bool    `json:"enabled" mapstructure:"enabled" env:"ENABLED"`
		Host          string  `json:"host" mapstructure:"host" env:"HOST"`
		Port          Port    `json:"port" mapstructure:"port" env:"PORT"`
		RatePerSecond float64 `json:"rate_per_second" mapstructure:"rate_per_second" env:"RATE_PER_SECOND"`
		Burst         int     `json:"burst" mapstructure:"burst" env:"BURST"`
	}

	// SSHConfig configures the SSH console.
	SSHConfig struct {
		Enabled     bool   `json:"enabled" mapstructure:"enabled" env:"ENABLED"`
		Host        string `json:"host" mapstructure:"host" env:"HOST"`
		Port        Port   `json:"port" mapstructure:"port" env:"PORT"`
		Password    string `json:"password" mapstructure:"password" env:"PASSWORD"`
		HostKeyPath string `json:"host_key_path" mapstructure:"host_key_path" env:"HOST_KEY_PATH"`
	}

	// UARTConfig configures the line reader on a serial device or stdin.
	UARTConfig struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled" env:"ENABLED"`
		Device  string `json:"device" mapstructure:"device" env:"DEVICE"`
	}

	// ScriptConfig configures the autoexec script.
	ScriptConfig struct {
		// Path is empty when no script runs at start up.
		Path  string `json:"path" mapstructure:"path" env:"PATH"`
		Watch bool   `json:"watch" mapstructure:"watch" env:"WATCH"`
	}

	// StoreConfig configures the persisted store.
	StoreConfig struct {
		// Path of the SQLite database, or MemoryStore.
		Path string `json:"path" mapstructure:"path" env:"PATH"`
	}

	// DiagnosticsConfig gates the crash-test commands.
	DiagnosticsConfig struct {
		FaultInjection bool `json:"fault_injection" mapstructure:"fault_injection" env:"FAULT_INJECTION"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels, and a
// list of validation errors if it is not.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// Level maps the LogLevel onto a charmbracelet/log level. Unknown values map
// to info.
func (l LogLevel) Level() log.Level {
	lvl, err := log.ParseLevel(string(l))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns ErrInvalidLogLevel for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error { return ErrInvalidLogLevel }

// IsValid reports whether the port is within 0-65535.
func (p Port) IsValid(field string) (bool, []error) {
	if p < 0 || p > 65535 {
		return false, []error{&InvalidPortError{Field: field, Value: p}}
	}
	return true, nil
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("%s: invalid port %d (valid: 0-65535)", e.Field, e.Value)
}

// Unwrap returns ErrInvalidPort for errors.Is() compatibility.
func (e *InvalidPortError) Unwrap() error { return ErrInvalidPort }

func (e *InvalidMaxDepthError) Error() string {
	return fmt.Sprintf("engine.max_depth: %d is below 1", e.Value)
}

// Unwrap returns ErrInvalidMaxDepth for errors.Is() compatibility.
func (e *InvalidMaxDepthError) Unwrap() error { return ErrInvalidMaxDepth }

func (e *InvalidRateError) Error() string {
	return fmt.Sprintf("%s: %v must be positive", e.Field, e.Value)
}

// Unwrap returns ErrInvalidRate for errors.Is() compatibility.
func (e *InvalidRateError) Unwrap() error { return ErrInvalidRate }

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("%s: required when the component is enabled", e.Field)
}

// Unwrap returns ErrMissingValue for errors.Is() compatibility.
func (e *MissingValueError) Unwrap() error { return ErrMissingValue }

// IsValid returns whether the ConsoleConfig has valid fields. Limits are
// checked even when the console is disabled.
func (c ConsoleConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Port.IsValid("console.port"); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.RatePerSecond <= 0 {
		errs = append(errs, &InvalidRateError{Field: "console.rate_per_second", Value: c.RatePerSecond})
	}
	if c.Burst <= 0 {
		errs = append(errs, &InvalidRateError{Field: "console.burst", Value: float64(c.Burst)})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConsoleConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConsoleConfigError.
func (e *InvalidConsoleConfigError) Error() string {
	return fmt.Sprintf("invalid console config: %s", joinErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidConsoleConfig followed by the field errors, so errors.Is
// matches both the section and the individual field sentinels.
func (e *InvalidConsoleConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConsoleConfig}, e.FieldErrors...)
}

// IsValid returns whether the SSHConfig has valid fields. An enabled SSH
// console needs a password.
func (c SSHConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Port.IsValid("ssh.port"); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.Enabled && c.Password == "" {
		errs = append(errs, &MissingValueError{Field: "ssh.password"})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidSSHConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidSSHConfigError.
func (e *InvalidSSHConfigError) Error() string {
	return fmt.Sprintf("invalid ssh config: %s", joinErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidSSHConfig followed by the field errors, so errors.Is
// matches both the section and the individual field sentinels.
func (e *InvalidSSHConfigError) Unwrap() []error {
	return append([]error{ErrInvalidSSHConfig}, e.FieldErrors...)
}

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if c.Engine.MaxDepth < 1 {
		errs = append(errs, &InvalidMaxDepthError{Value: c.Engine.MaxDepth})
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Console.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.SSH.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if c.UART.Enabled && strings.TrimSpace(c.UART.Device) == "" {
		errs = append(errs, &MissingValueError{Field: "uart.device"})
	}
	if c.Script.Watch && strings.TrimSpace(c.Script.Path) == "" {
		errs = append(errs, &MissingValueError{Field: "script.path"})
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		errs = append(errs, &MissingValueError{Field: "store.path"})
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", joinErrors(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig followed by the field errors, so errors.Is
// matches both the section and the individual field sentinels.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// DefaultConfig returns the default configuration: the TCP console on port 23,
// SSH and UART off, state kept in a database next to the configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{MaxDepth: 16},
		Log:    LogConfig{Level: LogLevelInfo},
		Console: ConsoleConfig{
			Enabled:       true,
			Host:          "0.0.0.0",
			Port:          23,
			RatePerSecond: 10,
			Burst:         20,
		},
		SSH: SSHConfig{
			Host: "0.0.0.0",
			Port: 2222,
		},
		UART:  UARTConfig{Device: StdinDevice},
		Store: StoreConfig{Path: "flashcmd.db"},
	}
}
