// SPDX-License-Identifier: MPL-2.0

package script

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/issue"
	"github.com/flashcmd/flashcmd/internal/scheduler"
)

type (
	// Runner executes scripts line by line.
	Runner struct {
		submitter scheduler.Submitter
		logger    *log.Logger
	}

	// Report summarizes one script run.
	Report struct {
		// Executed counts the lines that were submitted.
		Executed int
		Failures []Failure
	}

	// Failure records a script line that did not return OK.
	Failure struct {
		LineNo int
		Line   string
		Result command.Result
	}
)

// NewRunner creates a runner that submits lines to s.
func NewRunner(s scheduler.Submitter, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Runner{submitter: s, logger: logger.WithPrefix("script")}
}

// IsComment reports whether a trimmed line is a comment.
func IsComment(line string) bool {
	return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#")
}

// Run executes every line of r. A failing line is recorded and the script
// continues; only a submission error (cancellation, stopped scheduler) aborts it.
func (r *Runner) Run(ctx context.Context, src io.Reader) (Report, error) {
	var rep Report

	sc := bufio.NewScanner(src)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || IsComment(line) {
			continue
		}

		res, err := r.submitter.Submit(ctx, line, command.FlagSourceScript)
		if err != nil {
			return rep, fmt.Errorf("script line %d: %w", lineNo, err)
		}
		rep.Executed++
		if res != command.OK {
			r.logger.Warn("script line failed", "line", lineNo, "cmd", line, "result", res)
			rep.Failures = append(rep.Failures, Failure{LineNo: lineNo, Line: line, Result: res})
		}
	}
	if err := sc.Err(); err != nil {
		return rep, issue.WrapWithOperation(err, "read script")
	}
	return rep, nil
}

// RunFile executes the script at path.
func (r *Runner) RunFile(ctx context.Context, path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, issue.WrapWithContext(err, "open script", path)
	}
	defer f.Close()

	r.logger.Info("running script", "path", path)
	rep, err := r.Run(ctx, f)
	if err == nil {
		r.logger.Info("script done", "path", path, "executed", rep.Executed, "failed", len(rep.Failures))
	}
	return rep, err
}

// Watch runs the script at path whenever it changes, until ctx is cancelled.
// It does not run the script up front.
func (r *Runner) Watch(ctx context.Context, path string, debounce time.Duration) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve script path: %w", err)
	}

	w, err := NewWatcher(WatchConfig{
		BaseDir:  filepath.Dir(abs),
		Patterns: []string{filepath.Base(abs)},
		Debounce: debounce,
		Logger:   r.logger,
		OnChange: func(ctx context.Context, _ []string) error {
			if _, statErr := os.Stat(abs); statErr != nil {
				// Removed or mid-rename; the next write triggers a run.
				return nil
			}
			_, runErr := r.RunFile(ctx, abs)
			return runErr
		},
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
