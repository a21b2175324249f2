// SPDX-License-Identifier: MPL-2.0

package command

import (
	"errors"
	"fmt"
)

const (
	// OK means the command ran successfully.
	OK Result = iota
	// EmptyString means the input line was blank or whitespace-only.
	EmptyString
	// UnknownCommand means neither the exact nor the fallback name resolved.
	UnknownCommand
	// NotEnoughArguments means a handler's arity guard failed.
	NotEnoughArguments
	// BadArgument means a value failed to parse or a name collided on registration.
	BadArgument
	// RecursionLimit means nested execution exceeded the engine's maximum depth.
	RecursionLimit
)

var (
	// ErrEmptyString is the sentinel error for EmptyString.
	ErrEmptyString = errors.New("empty command string")
	// ErrUnknownCommand is the sentinel error for UnknownCommand.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotEnoughArguments is the sentinel error for NotEnoughArguments.
	ErrNotEnoughArguments = errors.New("not enough arguments")
	// ErrBadArgument is the sentinel error for BadArgument.
	ErrBadArgument = errors.New("bad argument")
	// ErrRecursionLimit is the sentinel error for RecursionLimit.
	ErrRecursionLimit = errors.New("command recursion limit reached")
)

// Result is the flat status code returned by every command invocation.
type Result int

// String returns the stable name of the result code.
func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case EmptyString:
		return "EMPTY_STRING"
	case UnknownCommand:
		return "UNKNOWN_COMMAND"
	case NotEnoughArguments:
		return "NOT_ENOUGH_ARGUMENTS"
	case BadArgument:
		return "BAD_ARGUMENT"
	case RecursionLimit:
		return "RECURSION_LIMIT"
	default:
		return fmt.Sprintf("RESULT(%d)", int(r))
	}
}

// IsOK reports whether the result is OK.
func (r Result) IsOK() bool { return r == OK }

// Err returns nil for OK and the matching sentinel error otherwise.
func (r Result) Err() error {
	switch r {
	case OK:
		return nil
	case EmptyString:
		return ErrEmptyString
	case UnknownCommand:
		return ErrUnknownCommand
	case NotEnoughArguments:
		return ErrNotEnoughArguments
	case BadArgument:
		return ErrBadArgument
	case RecursionLimit:
		return ErrRecursionLimit
	default:
		return fmt.Errorf("command failed: %s", r)
	}
}

// ResultFromError maps an error back to the most specific result code.
// A nil error is OK; errors that match no sentinel become BadArgument.
func ResultFromError(err error) Result {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrEmptyString):
		return EmptyString
	case errors.Is(err, ErrUnknownCommand):
		return UnknownCommand
	case errors.Is(err, ErrNotEnoughArguments):
		return NotEnoughArguments
	case errors.Is(err, ErrRecursionLimit):
		return RecursionLimit
	default:
		return BadArgument
	}
}
