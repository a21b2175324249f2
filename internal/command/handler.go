// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

type (
	// Handler executes a command. Handlers run synchronously and must not block
	// on long operations; arm a timer or goroutine and return instead.
	Handler interface {
		Invoke(ctx context.Context, inv *Invocation) Result
	}

	// HandlerFunc adapts an ordinary function to the Handler interface.
	HandlerFunc func(ctx context.Context, inv *Invocation) Result

	// Invocation describes one call of a handler.
	Invocation struct {
		// Name is the command name as typed, including any numeric suffix that
		// was stripped to find the handler.
		Name string
		// Args is the raw, unparsed remainder of the line.
		Args string
		// Flags are the origin flags of the chain, unchanged.
		Flags Flags
		// Data is the opaque value bound at registration.
		Data any
		// Engine is the engine that resolved the command.
		Engine *Engine
	}

	// Doc describes a command for listings.
	Doc struct {
		Args        string
		Description string
	}

	documented struct {
		Handler
		doc Doc
	}

	outputContextKey struct{}
)

// Invoke calls f(ctx, inv).
func (f HandlerFunc) Invoke(ctx context.Context, inv *Invocation) Result {
	return f(ctx, inv)
}

// WithDoc attaches a description to h. The result behaves exactly like h.
func WithDoc(h Handler, doc Doc) Handler {
	return &documented{Handler: h, doc: doc}
}

// Tokenize parses the invocation's arguments with the engine's resolver.
func (inv *Invocation) Tokenize(opts TokenizeOption) *Args {
	var resolver Resolver
	if inv.Engine != nil {
		resolver = inv.Engine.Resolver()
	}
	return Tokenize(inv.Args, opts, resolver)
}

// Logger returns the command-tagged logger of the owning engine.
func (inv *Invocation) Logger() *log.Logger {
	if inv.Engine == nil {
		return log.New(io.Discard)
	}
	return inv.Engine.Logger()
}

// Fail logs err as a warning tagged with the command name and returns res.
func (inv *Invocation) Fail(res Result, err error) Result {
	if err != nil {
		inv.Logger().Warn("command failed", "cmd", inv.Name, "result", res, "err", err)
	}
	return res
}

// WithOutput returns a context whose commands write their user-visible output to w.
func WithOutput(ctx context.Context, w io.Writer) context.Context {
	return context.WithValue(ctx, outputContextKey{}, w)
}

// Output returns the writer installed by WithOutput, or io.Discard.
func Output(ctx context.Context) io.Writer {
	if w, ok := ctx.Value(outputContextKey{}).(io.Writer); ok && w != nil {
		return w
	}
	return io.Discard
}
