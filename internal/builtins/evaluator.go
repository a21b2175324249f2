// SPDX-License-Identifier: MPL-2.0

package builtins

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/flashcmd/flashcmd/internal/cueutil"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ErrNotACondition is returned when an expression evaluates to something other
// than a boolean or a number.
var ErrNotACondition = errors.New("expression is not a boolean or a number")

type (
	// Evaluator decides the condition of an if command. The expression has
	// already gone through $NAME expansion.
	Evaluator interface {
		Evaluate(ctx context.Context, expr string) (bool, error)
	}

	// CUEEvaluator evaluates conditions as CUE expressions, so "$CH1 > 50"
	// becomes "80 > 50". Booleans are taken as is; numbers are true when
	// non-zero.
	CUEEvaluator struct {
		mu  sync.Mutex
		ctx *cue.Context
	}
)

// NewCUEEvaluator creates a CUE-backed evaluator.
func NewCUEEvaluator() *CUEEvaluator {
	return &CUEEvaluator{ctx: cuecontext.New()}
}

// Evaluate compiles and evaluates expr.
func (e *CUEEvaluator) Evaluate(_ context.Context, expr string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v := e.ctx.CompileString(expr, cue.Filename("condition"))
	if err := v.Err(); err != nil {
		return false, cueutil.FormatError(err, fmt.Sprintf("condition %q", expr))
	}

	switch v.Kind() {
	case cue.BoolKind:
		return v.Bool()
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return false, fmt.Errorf("evaluating %q: %w", expr, err)
		}
		return n != 0, nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return false, fmt.Errorf("evaluating %q: %w", expr, err)
		}
		return f != 0, nil
	default:
		return false, fmt.Errorf("%w: %q is %s", ErrNotACondition, expr, v.Kind())
	}
}
