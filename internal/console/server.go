// SPDX-License-Identifier: MPL-2.0

package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/core/serverbase"
	"github.com/flashcmd/flashcmd/internal/scheduler"
)

const (
	// DefaultPort is the console port when none is configured.
	DefaultPort = 23
	// DefaultRate is the sustained number of lines per second per connection.
	DefaultRate = 10.0
	// DefaultBurst is the number of lines a connection may send back to back.
	DefaultBurst = 20
	// MaxLineBytes bounds one input line, terminator excluded. It matches the
	// serial line buffer.
	MaxLineBytes = 128
)

// ErrLineTooLong is reported when a client sends a line over MaxLineBytes.
var ErrLineTooLong = errors.New("console line too long")

type (
	// Config configures the console listener.
	Config struct {
		Host string
		// Port 0 picks a free port.
		Port int
		// RatePerSecond <= 0 disables throttling.
		RatePerSecond float64
		Burst         int
	}

	// Server is the TCP console.
	Server struct {
		*serverbase.Base

		cfg       Config
		submitter scheduler.Submitter
		logger    *log.Logger

		listener net.Listener
		mu       sync.Mutex
		conns    map[net.Conn]struct{}
	}
)

// DefaultConfig listens on all interfaces on DefaultPort.
func DefaultConfig() Config {
	return Config{
		Host:          "0.0.0.0",
		Port:          DefaultPort,
		RatePerSecond: DefaultRate,
		Burst:         DefaultBurst,
	}
}

// New creates a console server that hands lines to s.
func New(cfg Config, s scheduler.Submitter, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Server{
		Base:      serverbase.NewBase(serverbase.WithName("console")),
		cfg:       cfg,
		submitter: s,
		logger:    logger.WithPrefix("console"),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and accepts connections in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := s.TransitionToStarting(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("console listen on %s: %w", addr, err)
		s.TransitionToFailed(err)
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.Go(s.acceptLoop)
	s.TransitionToRunning()
	s.logger.Info("console listening", "addr", listener.Addr())
	return nil
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines.
func (s *Server) Stop() error {
	return s.Shutdown(func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		var err error
		if s.listener != nil {
			if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
		for c := range s.conns {
			_ = c.Close()
		}
		return err
	})
}

// Address returns the bound address, or "" before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("accept failed", "err", err)
			s.SendError(err)
			continue
		}

		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.Go(func(ctx context.Context) {
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		})
	}
}

// track registers conn unless the server is shutting down.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.IsRunning() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	s.logger.Debug("client connected", "remote", remote)
	defer s.logger.Debug("client disconnected", "remote", remote)

	var limiter *rate.Limiter
	if s.cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RatePerSecond), s.cfg.Burst)
	}

	w := bufio.NewWriter(conn)
	cmdCtx := command.WithOutput(ctx, w)

	br := bufio.NewReaderSize(conn, MaxLineBytes+2)
	for {
		raw, err := readLine(br)
		if errors.Is(err, ErrLineTooLong) {
			s.logger.Warn("discarding line", "remote", remote, "err", err)
			fmt.Fprintf(w, "<%s>\n", command.BadArgument)
			if w.Flush() != nil {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		res, err := s.submitter.Submit(cmdCtx, line, command.FlagSourceTCP)
		if err != nil {
			s.logger.Warn("line not executed", "remote", remote, "err", err)
			return
		}
		fmt.Fprintf(w, "<%s>\n", res)
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// readLine returns the next line without its CRLF or LF terminator. A line
// over MaxLineBytes is consumed to its end and reported as ErrLineTooLong.
func readLine(br *bufio.Reader) (string, error) {
	line, isPrefix, err := br.ReadLine()
	if err != nil {
		return "", err
	}
	tooLong := isPrefix || len(line) > MaxLineBytes
	for isPrefix {
		_, isPrefix, err = br.ReadLine()
		if err != nil {
			return "", err
		}
	}
	if tooLong {
		return "", ErrLineTooLong
	}
	return string(line), nil
}
