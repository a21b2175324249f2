// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

const (
	// MaxNameLength is the number of bytes of a command name used for lookup.
	// Longer names are truncated; the rest of the name token is discarded.
	MaxNameLength = 128

	// DefaultMaxDepth is the default bound on nested command execution.
	DefaultMaxDepth = 16
)

type (
	// Engine resolves command lines against a Registry and runs their handlers.
	// The engine keeps no per-call state; nesting depth travels in the context.
	Engine struct {
		registry *Registry
		resolver Resolver
		logger   *log.Logger
		maxDepth int
	}

	// Option configures an Engine.
	Option func(*Engine)

	depthContextKey struct{}
)

// WithRegistry makes the engine use an existing registry.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithResolver sets the resolver used for $NAME expansion.
func WithResolver(r Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithLogger sets the engine logger. Messages are tagged with the "cmd" prefix.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l.WithPrefix("cmd")
		}
	}
}

// WithMaxDepth bounds nested execution. Values below 1 keep the default.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		if depth > 0 {
			e.maxDepth = depth
		}
	}
}

// NewEngine creates an engine. Without WithRegistry a fresh registry is created.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:   log.New(io.Discard),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry(e.logger)
	}
	return e
}

// Registry returns the engine's command table.
func (e *Engine) Registry() *Registry { return e.registry }

// Resolver returns the variable resolver, which may be nil.
func (e *Engine) Resolver() Resolver { return e.resolver }

// Logger returns the command-tagged logger.
func (e *Engine) Logger() *log.Logger { return e.logger }

// MaxDepth returns the nesting bound.
func (e *Engine) MaxDepth() int { return e.maxDepth }

// Register binds name to fn in the engine's registry.
func (e *Engine) Register(name string, fn HandlerFunc, data any) error {
	return e.registry.Register(name, fn, data)
}

// Depth reports how many Execute calls enclose ctx.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthContextKey{}).(int)
	return d
}

// ExecuteLine runs one raw command line. Leading whitespace is skipped, the
// first whitespace-delimited token is the command name and everything after the
// separating whitespace is handed to the handler verbatim.
func (e *Engine) ExecuteLine(ctx context.Context, line string, flags Flags) Result {
	s := line[skipSpace(line, 0):]
	if s == "" {
		e.logger.Debug("empty command line")
		return EmptyString
	}
	if flags&FlagSourceTCP == 0 {
		e.logger.Debug("cmd", "line", s)
	}

	end := 0
	for end < len(s) && !isSpace(s[end]) {
		end++
	}
	name := s[:end]
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	args := s[skipSpace(s, end):]

	return e.Execute(ctx, name, args, flags)
}

// Execute runs the command name with a raw argument string. When name is not
// registered, the name with its trailing decimal digits removed is tried; the
// handler still receives the original name so it can read the suffix.
func (e *Engine) Execute(ctx context.Context, name, args string, flags Flags) Result {
	depth := Depth(ctx) + 1
	if depth > e.maxDepth {
		e.logger.Error("command nesting too deep", "cmd", name, "args", args, "depth", depth, "max", e.maxDepth)
		return RecursionLimit
	}
	ctx = context.WithValue(ctx, depthContextKey{}, depth)

	entry, ok := e.registry.Find(name)
	if !ok {
		if key := stripTrailingDigits(name); key != "" && key != name {
			entry, ok = e.registry.Find(key)
		}
	}
	if !ok {
		e.logger.Error("cmd not found", "cmd", name, "args", args)
		return UnknownCommand
	}

	return entry.handler.Invoke(ctx, &Invocation{
		Name:   name,
		Args:   args,
		Flags:  flags,
		Data:   entry.data,
		Engine: e,
	})
}

// NumericSuffix returns the decimal digits at the end of name, and whether
// there were any. Handlers of numbered command families use it.
func NumericSuffix(name string) (string, bool) {
	key := stripTrailingDigits(name)
	return name[len(key):], len(key) < len(name)
}

func stripTrailingDigits(name string) string {
	end := len(name)
	for end > 0 && name[end-1] >= '0' && name[end-1] <= '9' {
		end--
	}
	return name[:end]
}
