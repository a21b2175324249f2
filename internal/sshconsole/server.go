// SPDX-License-Identifier: MPL-2.0

package sshconsole

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/core/serverbase"
	"github.com/flashcmd/flashcmd/internal/scheduler"
)

const (
	// DefaultPort is the SSH console port when none is configured.
	DefaultPort = 2222
	// Flags marks lines that arrived over SSH. The TCP bit keeps them out of
	// the engine's debug log like other network traffic.
	Flags = command.FlagSourceSSH | command.FlagSourceTCP
)

var (
	// ErrNoPassword is returned by Start when no password is configured.
	ErrNoPassword = errors.New("ssh console requires a password")
	// ErrInvalidSSHConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidSSHConfig = errors.New("invalid SSH console config")
)

type (
	// Config holds immutable configuration for the SSH console.
	Config struct {
		// Host is the address to bind to (default: 0.0.0.0)
		Host string
		// Port is the port to listen on (0 = auto-select)
		Port int
		// Password authenticates every user name.
		Password string
		// HostKeyPath is created with a fresh ed25519 key when missing.
		// Empty keeps an ephemeral key in memory.
		HostKeyPath string
		// StartupTimeout is the max time to wait for the listener (default: 5s)
		StartupTimeout time.Duration
		// ShutdownTimeout bounds graceful shutdown (default: 10s)
		ShutdownTimeout time.Duration
		// IdleTimeout closes silent sessions (default: 10m)
		IdleTimeout time.Duration
	}

	// InvalidConfigError collects field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Server is the SSH console.
	// A Server instance is single-use: once stopped or failed, create a new instance.
	Server struct {
		*serverbase.Base

		cfg       Config
		submitter scheduler.Submitter
		logger    *log.Logger

		srvMu    sync.Mutex
		srv      *ssh.Server
		listener net.Listener
		addr     string
	}
)

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid SSH console config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidSSHConfig and the field errors for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidSSHConfig}, e.FieldErrors...)
}

// DefaultConfig returns a default configuration without a password.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            DefaultPort,
		StartupTimeout:  5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		IdleTimeout:     10 * time.Minute,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Password == "" {
		errs = append(errs, ErrNoPassword)
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// New creates an SSH console. The server is not started; call Start.
func New(cfg Config, s scheduler.Submitter, logger *log.Logger) *Server {
	def := DefaultConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = def.StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Server{
		Base:      serverbase.NewBase(serverbase.WithName("ssh console")),
		cfg:       cfg,
		submitter: s,
		logger:    logger.WithPrefix("ssh"),
	}
}

// Start binds the listener and blocks until the server accepts connections,
// fails, or the startup timeout passes.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if err := s.TransitionToStarting(ctx); err != nil {
		return err
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer startupCancel()

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	listener, err := lc.Listen(startupCtx, "tcp", addr)
	if err != nil {
		s.TransitionToFailed(fmt.Errorf("failed to listen on %s: %w", addr, err))
		return s.LastError()
	}

	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithPublicKeyAuth(s.publicKeyHandler),
		wish.WithIdleTimeout(s.cfg.IdleTimeout),
		wish.WithMiddleware(s.consoleMiddleware()),
	}
	if s.cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(s.cfg.HostKeyPath))
	}

	srv, err := wish.NewServer(opts...)
	if err != nil {
		_ = listener.Close()
		s.TransitionToFailed(fmt.Errorf("failed to create SSH server: %w", err))
		return s.LastError()
	}

	s.srvMu.Lock()
	s.srv = srv
	s.listener = listener
	s.addr = listener.Addr().String()
	s.srvMu.Unlock()

	s.AddGoroutine()
	go s.serve()

	select {
	case <-s.StartedChannel():
		s.logger.Info("SSH console started", "address", s.Address())
		return nil
	case err := <-s.Err():
		s.TransitionToFailed(err)
		return err
	case <-startupCtx.Done():
		s.TransitionToFailed(fmt.Errorf("startup timeout: %w", startupCtx.Err()))
		return s.LastError()
	}
}

// Stop gracefully stops the server, waiting up to ShutdownTimeout for open
// sessions. Safe to call multiple times.
func (s *Server) Stop() error {
	return s.Shutdown(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.srvMu.Lock()
		defer s.srvMu.Unlock()

		var err error
		if s.srv != nil {
			if serr := s.srv.Shutdown(shutdownCtx); serr != nil && !isClosedErr(serr) {
				err = serr
				// Sessions still open past the deadline are cut.
				_ = s.srv.Close()
			}
		}
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.logger.Info("SSH console stopped")
		return err
	})
}

func (s *Server) serve() {
	defer s.DoneGoroutine()

	s.srvMu.Lock()
	srv, listener := s.srv, s.listener
	s.srvMu.Unlock()

	s.TransitionToRunning()

	if err := srv.Serve(listener); err != nil && !isClosedErr(err) {
		s.SendError(fmt.Errorf("serve error: %w", err))
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed)
}

// Address returns the bound host:port, or "" before Start.
func (s *Server) Address() string {
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.addr
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	_, portStr, err := net.SplitHostPort(s.Address())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}

// Wait blocks until the server's goroutines exit. It returns the failure
// cause when the server failed.
func (s *Server) Wait() error {
	s.WaitForShutdown()
	if s.State() == serverbase.StateFailed {
		return s.LastError()
	}
	return nil
}

func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	ok := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Password)) == 1
	if !ok {
		s.logger.Warn("rejected login", "user", ctx.User(), "remote", ctx.RemoteAddr())
	}
	return ok
}

// publicKeyHandler rejects every key; only password logins are accepted.
func (s *Server) publicKeyHandler(ssh.Context, ssh.PublicKey) bool {
	return false
}
