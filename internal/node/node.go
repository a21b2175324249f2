// SPDX-License-Identifier: MPL-2.0

package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/flashcmd/flashcmd/internal/builtins"
	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/config"
	"github.com/flashcmd/flashcmd/internal/console"
	"github.com/flashcmd/flashcmd/internal/device"
	"github.com/flashcmd/flashcmd/internal/events"
	"github.com/flashcmd/flashcmd/internal/issue"
	"github.com/flashcmd/flashcmd/internal/scheduler"
	"github.com/flashcmd/flashcmd/internal/script"
	"github.com/flashcmd/flashcmd/internal/sshconsole"
	"github.com/flashcmd/flashcmd/internal/store"
	"github.com/flashcmd/flashcmd/internal/uart"
)

// StableBootDelay is how long a boot must last before the unfinished boot
// counter is cleared.
const StableBootDelay = 30 * time.Second

// ErrRestart ends Run when a command asked the device to restart.
var ErrRestart = errors.New("restart requested")

type (
	// Node is one flashcmd instance.
	Node struct {
		cfg    *config.Config
		logger *log.Logger
		stdin  io.Reader

		store     *store.Store
		device    *device.Device
		engine    *command.Engine
		scheduler *scheduler.Scheduler
		events    *events.Manager

		safeMode  bool
		countBoot bool

		restartOnce sync.Once
		restartCh   chan struct{}
		sleepFor    time.Duration
		consoleAddr string
		sshAddr     string
		mu          sync.Mutex
		closed      bool
	}

	// Option configures a Node.
	Option func(*Node)
)

// WithLogger sets the root logger; components derive prefixed loggers from it.
func WithLogger(l *log.Logger) Option {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithStdin replaces os.Stdin for a UART reader configured with the "-" device.
func WithStdin(r io.Reader) Option {
	return func(n *Node) { n.stdin = r }
}

// WithoutBootCount keeps Start from touching the unfinished boot counter.
// One-shot CLI sessions use it so they never push the device into safe mode.
func WithoutBootCount() Option {
	return func(n *Node) { n.countBoot = false }
}

// New opens the store, loads the device model and registers every command.
// Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Node, error) {
	n := &Node{
		cfg:       cfg,
		logger:    log.New(io.Discard),
		stdin:     os.Stdin,
		countBoot: true,
		restartCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open store").
			WithResource(cfg.Store.Path).
			WithSuggestion("Check that the directory exists and is writable").
			WithIssue(issue.StoreOpenFailedId).
			Wrap(err).
			BuildError()
	}
	n.store = st

	n.device = device.New(
		device.WithStore(st),
		device.WithLogger(n.logger),
		device.WithHooks(device.Hooks{
			Restart:     n.requestRestart,
			DeepSleep:   n.requestSleep,
			OTA:         func(url string) { n.logger.Warn("OTA is not available on this host", "url", url) },
			HADiscovery: func() { n.logger.Info("Home Assistant discovery sent") },
		}),
	)
	if err := n.device.Load(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load device state: %w", err)
	}

	n.engine = command.NewEngine(
		command.WithLogger(n.logger),
		command.WithResolver(n.device),
		command.WithMaxDepth(cfg.Engine.MaxDepth),
	)
	n.scheduler = scheduler.New(n.engine, scheduler.WithLogger(n.logger))
	n.events = events.NewManager(n.scheduler, events.WithLogger(n.logger))

	if err := builtins.Register(n.engine, builtins.Deps{
		Device:         n.device,
		FaultInjection: cfg.Diagnostics.FaultInjection,
		Extensions:     []builtins.Extension{n.events},
	}); err != nil {
		n.closeStore()
		return nil, err
	}
	if err := n.events.Register(n.engine); err != nil {
		n.closeStore()
		return nil, err
	}
	return n, nil
}

func (n *Node) Engine() *command.Engine { return n.engine }

func (n *Node) Device() *device.Device { return n.device }

func (n *Node) Scheduler() *scheduler.Scheduler { return n.scheduler }

func (n *Node) Events() *events.Manager { return n.events }

// SafeMode reports whether Start found too many unfinished boots.
func (n *Node) SafeMode() bool { return n.safeMode }

// SleepDuration is the deep sleep requested before Run returned ErrRestart,
// zero for a plain restart.
func (n *Node) SleepDuration() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sleepFor
}

// Start records the boot and starts the scheduler and the event loop.
func (n *Node) Start(ctx context.Context) error {
	if n.countBoot {
		safe, err := n.device.Boot(ctx, StableBootDelay)
		if err != nil {
			return fmt.Errorf("record boot: %w", err)
		}
		n.safeMode = safe
	}

	if err := n.scheduler.Start(ctx); err != nil {
		return err
	}
	if err := n.events.Start(ctx); err != nil {
		_ = n.scheduler.Stop()
		return err
	}
	return nil
}

// Submit runs one line through the scheduler.
func (n *Node) Submit(ctx context.Context, line string, flags command.Flags) (command.Result, error) {
	return n.scheduler.Submit(ctx, line, flags)
}

// Run starts the configured transports, runs the autoexec script and blocks
// until ctx is cancelled, a transport fails or a restart is requested. The
// node must have been started.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var stoppers []func() error
	defer func() {
		for i := len(stoppers) - 1; i >= 0; i-- {
			if err := stoppers[i](); err != nil {
				n.logger.Warn("transport shutdown", "err", err)
			}
		}
	}()

	if n.cfg.Console.Enabled {
		srv := console.New(console.Config{
			Host:          n.cfg.Console.Host,
			Port:          int(n.cfg.Console.Port),
			RatePerSecond: n.cfg.Console.RatePerSecond,
			Burst:         n.cfg.Console.Burst,
		}, n.scheduler, n.logger)
		if err := srv.Start(ctx); err != nil {
			return issue.NewErrorContext().
				WithOperation("start TCP console").
				WithResource(fmt.Sprintf("%s:%d", n.cfg.Console.Host, n.cfg.Console.Port)).
				WithIssue(issue.ConsoleStartFailedId).
				Wrap(err).
				BuildError()
		}
		stoppers = append(stoppers, srv.Stop)
		n.setAddr(&n.consoleAddr, srv.Address())
		n.logger.Info("TCP console listening", "addr", srv.Address())
		g.Go(func() error { return watchErrors(ctx, "TCP console", srv.Err()) })
	}

	if n.cfg.SSH.Enabled {
		srv := sshconsole.New(sshconsole.Config{
			Host:        n.cfg.SSH.Host,
			Port:        int(n.cfg.SSH.Port),
			Password:    n.cfg.SSH.Password,
			HostKeyPath: n.cfg.SSH.HostKeyPath,
		}, n.scheduler, n.logger)
		if err := srv.Start(ctx); err != nil {
			return issue.NewErrorContext().
				WithOperation("start SSH console").
				WithResource(fmt.Sprintf("%s:%d", n.cfg.SSH.Host, n.cfg.SSH.Port)).
				WithIssue(issue.SSHStartFailedId).
				Wrap(err).
				BuildError()
		}
		stoppers = append(stoppers, srv.Stop)
		n.setAddr(&n.sshAddr, srv.Address())
		n.logger.Info("SSH console listening", "addr", srv.Address())
		g.Go(func() error { return watchErrors(ctx, "SSH console", srv.Err()) })
	}

	if n.cfg.UART.Enabled {
		src, err := n.openUART()
		if err != nil {
			return err
		}
		stoppers = append(stoppers, src.Close)
		reader := uart.NewReader(src, n.scheduler, uart.WithLogger(n.logger))
		// A blocked read on stdin cannot be interrupted, so the reader is
		// left behind when ctx ends.
		done := make(chan error, 1)
		go func() { done <- reader.Run(ctx) }()
		g.Go(func() error {
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return nil
			}
		})
	}

	if n.cfg.Script.Path != "" {
		if err := n.runScript(ctx, g); err != nil {
			return err
		}
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-n.restartCh:
			return ErrRestart
		}
	})

	return g.Wait()
}

// watchErrors turns the first asynchronous error of a transport into a Run
// failure.
func watchErrors(ctx context.Context, name string, errs <-chan error) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errs:
		if !ok || err == nil {
			return nil
		}
		return fmt.Errorf("%s: %w", name, err)
	}
}

// ConsoleAddress is the bound TCP console address while Run is active.
func (n *Node) ConsoleAddress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.consoleAddr
}

// SSHAddress is the bound SSH console address while Run is active.
func (n *Node) SSHAddress() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sshAddr
}

func (n *Node) setAddr(dst *string, addr string) {
	n.mu.Lock()
	*dst = addr
	n.mu.Unlock()
}

func (n *Node) openUART() (io.ReadCloser, error) {
	if n.cfg.UART.Device == config.StdinDevice || n.cfg.UART.Device == "" {
		return io.NopCloser(n.stdin), nil
	}
	src, err := uart.OpenDevice(n.cfg.UART.Device)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("open serial device").
			WithResource(n.cfg.UART.Device).
			WithIssue(issue.SerialDeviceUnavailableId).
			Wrap(err).
			BuildError()
	}
	return src, nil
}

// runScript runs the autoexec script once, unless the device booted into safe
// mode, and keeps watching it when configured to.
func (n *Node) runScript(ctx context.Context, g *errgroup.Group) error {
	runner := script.NewRunner(n.scheduler, n.logger)
	path := n.cfg.Script.Path

	if _, err := os.Stat(path); err != nil {
		return issue.NewErrorContext().
			WithOperation("run autoexec script").
			WithResource(path).
			WithIssue(issue.ScriptNotFoundId).
			Wrap(err).
			BuildError()
	}

	if n.safeMode {
		n.logger.Warn("safe mode, skipping autoexec script", "path", path)
	} else {
		if _, err := runner.RunFile(ctx, path); err != nil {
			return err
		}
	}

	if n.cfg.Script.Watch {
		g.Go(func() error { return runner.Watch(ctx, path, script.DefaultDebounce) })
	}
	return nil
}

func (n *Node) requestRestart() {
	n.restartOnce.Do(func() { close(n.restartCh) })
}

func (n *Node) requestSleep(d time.Duration) {
	n.mu.Lock()
	n.sleepFor = d
	n.mu.Unlock()
	n.restartOnce.Do(func() { close(n.restartCh) })
}

// Close stops the event loop and the scheduler, cancels pending device timers
// and closes the store. It is safe to call more than once.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	var errs []error
	if err := n.events.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := n.scheduler.Stop(); err != nil {
		errs = append(errs, err)
	}
	n.device.Close()
	if err := n.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (n *Node) closeStore() {
	n.device.Close()
	_ = n.store.Close()
}
