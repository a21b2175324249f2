// SPDX-License-Identifier: MPL-2.0

package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/flashcmd/flashcmd/internal/command"
	"github.com/flashcmd/flashcmd/internal/core/serverbase"
	"github.com/flashcmd/flashcmd/internal/scheduler"
	"github.com/flashcmd/flashcmd/internal/testutil"
)

func newTestEngine(t *testing.T) *command.Engine {
	t.Helper()

	e := command.NewEngine()
	err := e.Register("echo", command.HandlerFunc(func(ctx context.Context, inv *command.Invocation) command.Result {
		if !inv.Flags.Has(command.FlagSourceTCP) {
			return command.BadArgument
		}
		fmt.Fprintln(command.Output(ctx), inv.Args)
		return command.OK
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	srv := New(cfg, scheduler.Direct{Engine: newTestEngine(t)}, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(testutil.DeferStop(t, srv))
	return srv
}

func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.Address(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readReply(t *testing.T, r *bufio.Reader) string {
	t.Helper()

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

func TestServer_ExecutesLines(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{})
	if !srv.IsRunning() {
		t.Fatalf("State() = %s, want running", srv.State())
	}
	if srv.Port() == 0 {
		t.Error("Port() = 0 after Start")
	}

	conn, r := dial(t, srv)
	if _, err := fmt.Fprint(conn, "echo hello world\r\n\n   \nmissing\n"); err != nil {
		t.Fatal(err)
	}

	want := []string{"hello world", "<OK>", "<UNKNOWN_COMMAND>"}
	for _, w := range want {
		if got := readReply(t, r); got != w {
			t.Errorf("line = %q, want %q", got, w)
		}
	}
}

func TestServer_MultipleClients(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{})

	for i := range 3 {
		conn, r := dial(t, srv)
		if _, err := fmt.Fprintf(conn, "echo client %d\n", i); err != nil {
			t.Fatal(err)
		}
		if got := readReply(t, r); got != fmt.Sprintf("client %d", i) {
			t.Errorf("client %d got %q", i, got)
		}
		if got := readReply(t, r); got != "<OK>" {
			t.Errorf("client %d result %q", i, got)
		}
	}
}

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{RatePerSecond: 20, Burst: 1})
	conn, r := dial(t, srv)

	start := time.Now()
	if _, err := fmt.Fprint(conn, "missing\nmissing\nmissing\nmissing\n"); err != nil {
		t.Fatal(err)
	}
	for range 4 {
		if got := readReply(t, r); got != "<UNKNOWN_COMMAND>" {
			t.Fatalf("result = %q", got)
		}
	}

	// One token up front, then one every 50ms.
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("4 lines took %s, want throttling to at least 120ms", elapsed)
	}
}

func TestServer_LineTooLong(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{})
	conn, r := dial(t, srv)

	if _, err := fmt.Fprintf(conn, "echo %s\n", strings.Repeat("x", MaxLineBytes+10)); err != nil {
		t.Fatal(err)
	}
	if got := readReply(t, r); got != "<BAD_ARGUMENT>" {
		t.Errorf("result = %q, want <BAD_ARGUMENT>", got)
	}

	// The connection survives and the next line runs normally.
	if _, err := fmt.Fprint(conn, "echo ok\n"); err != nil {
		t.Fatal(err)
	}
	if got := readReply(t, r); got != "ok" {
		t.Errorf("output = %q, want ok", got)
	}
	if got := readReply(t, r); got != "<OK>" {
		t.Errorf("result = %q, want <OK>", got)
	}
}

func TestServer_StopClosesClients(t *testing.T) {
	t.Parallel()

	srv := New(Config{Host: "127.0.0.1"}, scheduler.Direct{Engine: newTestEngine(t)}, nil)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, r := dial(t, srv)

	// Make sure the connection is being served before stopping.
	testutil.Eventually(t, time.Second, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.conns) == 1
	}, "connection tracked")

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if srv.State() != serverbase.StateStopped {
		t.Errorf("State() = %s, want stopped", srv.State())
	}
	if _, err := r.ReadString('\n'); err == nil {
		t.Error("client connection still open after Stop")
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	t.Parallel()

	first := startServer(t, Config{})

	second := New(Config{Host: "127.0.0.1", Port: first.Port()}, scheduler.Direct{Engine: command.NewEngine()}, nil)
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("Start() on a busy port should fail")
	}
	if second.State() != serverbase.StateFailed {
		t.Errorf("State() = %s, want failed", second.State())
	}
}

func TestReadLine_Limit(t *testing.T) {
	t.Parallel()

	atLimit := strings.Repeat("a", MaxLineBytes)
	over := strings.Repeat("b", MaxLineBytes+1)
	input := atLimit + "\r\n" + atLimit + "\n" + over + "\n" + over + "\r\n" + "tail\n"
	br := bufio.NewReaderSize(strings.NewReader(input), MaxLineBytes+2)

	tests := []struct {
		want    string
		wantErr error
	}{
		{atLimit, nil},
		{atLimit, nil},
		{"", ErrLineTooLong},
		{"", ErrLineTooLong},
		{"tail", nil},
	}
	for i, tt := range tests {
		got, err := readLine(br)
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("line %d: error = %v, want %v", i, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("line %d = %q, want %q", i, got, tt.want)
		}
	}
}

func TestServer_LineAtLimit(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Config{})
	conn, r := dial(t, srv)

	arg := strings.Repeat("x", MaxLineBytes-len("echo "))
	if _, err := fmt.Fprintf(conn, "echo %s\r\n", arg); err != nil {
		t.Fatal(err)
	}
	if got := readReply(t, r); got != arg {
		t.Errorf("output = %q, want the full argument", got)
	}
	if got := readReply(t, r); got != "<OK>" {
		t.Errorf("result = %q, want <OK>", got)
	}

	if _, err := fmt.Fprintf(conn, "echo %sx\n", arg); err != nil {
		t.Fatal(err)
	}
	if got := readReply(t, r); got != "<BAD_ARGUMENT>" {
		t.Errorf("result = %q, want <BAD_ARGUMENT>", got)
	}
}
