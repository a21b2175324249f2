// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/flashcmd/flashcmd/internal/config"
)

func TestServeCommand_UARTFromStdin(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.UART.Enabled = true
	cfg.UART.Device = config.StdinDevice

	ta := newTestApp(t, cfg, strings.NewReader("SetChannel 7 9\n"))
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := ta.run(ctx, "serve"); err != nil {
		t.Fatalf("serve error = %v (stderr %q)", err, ta.stderr)
	}

	check := newTestApp(t, cfg, nil)
	if err := check.run(context.Background(), "exec", "echo $CH7"); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(check.stdout.String()); got != "9" {
		t.Errorf("channel 7 after serve = %q, want 9", got)
	}
}

func TestServeCommand_ConsoleBindFailure(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Console.Enabled = true
	cfg.Console.Host = "127.0.0.1"
	cfg.Console.Port = config.Port(busy.Addr().(*net.TCPAddr).Port)

	ta := newTestApp(t, cfg, nil)
	err = ta.run(context.Background(), "serve")
	if err == nil {
		t.Fatal("serve should fail on an unusable console address")
	}
	if !strings.Contains(ta.stderr.String(), "TCP console did not start") {
		t.Errorf("stderr should carry the catalog entry, got %q", ta.stderr.String())
	}
}
