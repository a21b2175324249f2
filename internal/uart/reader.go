// SPDX-License-Identifier: MPL-2.0

package uart

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/issue"
	"github.com/flashcmd/flashcmd/internal/scheduler"
)

const (
	// MaxLineLength is the largest line handed to the engine, in bytes.
	MaxLineLength = 128
	// MinLineLength is the shortest line worth executing.
	MinLineLength = 2
	// StdinDevice selects standard input instead of a device file.
	StdinDevice = "-"
)

type (
	// Reader assembles lines from a byte stream and submits them.
	Reader struct {
		src       *bufio.Reader
		submitter scheduler.Submitter
		logger    *log.Logger
		onResult  func(line string, res command.Result)
	}

	// Option configures a Reader.
	Option func(*Reader)
)

// WithLogger sets the reader logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l.WithPrefix("uart")
		}
	}
}

// WithResultFunc installs a callback that sees every executed line and its result.
func WithResultFunc(fn func(line string, res command.Result)) Option {
	return func(r *Reader) { r.onResult = fn }
}

// NewReader creates a reader over src that submits to s.
func NewReader(src io.Reader, s scheduler.Submitter, opts ...Option) *Reader {
	r := &Reader{
		src:       bufio.NewReader(src),
		submitter: s,
		logger:    log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenDevice opens a serial device node for reading, or returns stdin for
// StdinDevice. The port is expected to be configured (baud rate, raw mode)
// by the system.
func OpenDevice(path string) (io.ReadCloser, error) {
	if path == StdinDevice || path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, issue.WrapWithContext(err, "open uart device", path)
	}
	return f, nil
}

// ReadLine returns the next command line, or io.EOF when the stream ends.
func (r *Reader) ReadLine() (string, error) {
	for {
		if err := r.skipWhitespace(); err != nil {
			return "", err
		}

		buf := make([]byte, 0, MaxLineLength)
		var err error
		for {
			var b byte
			b, err = r.src.ReadByte()
			if err != nil || b == '\n' {
				break
			}
			if len(buf) < MaxLineLength {
				buf = append(buf, b)
			}
		}

		for len(buf) > 0 && buf[len(buf)-1] == '\r' {
			buf = buf[:len(buf)-1]
		}
		if len(buf) >= MinLineLength {
			return string(buf), nil
		}
		if err != nil {
			return "", err
		}
	}
}

func (r *Reader) skipWhitespace() error {
	for {
		b, err := r.src.ReadByte()
		if err != nil {
			return err
		}
		switch b {
		case '\n', '\r', ' ', '\t':
			continue
		}
		return r.src.UnreadByte()
	}
}

// Run submits every line until the stream ends or ctx is cancelled. End of
// stream is not an error. A line in flight when ctx is cancelled is dropped.
func (r *Reader) Run(ctx context.Context) error {
	for {
		line, err := r.ReadLine()
		if line != "" {
			if ctx.Err() != nil {
				return nil
			}
			res, subErr := r.submitter.Submit(ctx, line, command.FlagSourceUART)
			if subErr != nil {
				if errors.Is(subErr, context.Canceled) {
					return nil
				}
				return fmt.Errorf("uart submit: %w", subErr)
			}
			if res != command.OK {
				r.logger.Warn("command failed", "line", line, "result", res)
			}
			if r.onResult != nil {
				r.onResult(line, res)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("uart read: %w", err)
		}
	}
}
