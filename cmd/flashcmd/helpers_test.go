// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flashcmd/flashcmd/internal/config"
)

type (
	staticProvider struct {
		cfg *config.Config
		err error
	}

	testApp struct {
		*App
		stdout *bytes.Buffer
		stderr *bytes.Buffer
	}
)

func (p staticProvider) Load(context.Context, config.LoadOptions) (*config.Config, error) {
	if p.err != nil {
		return nil, p.err
	}
	cfg := *p.cfg
	return &cfg, nil
}

// testConfig stores state in a per-test database and keeps every transport off.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "flashcmd.db")
	cfg.Console.Enabled = false
	cfg.UART.Enabled = false
	cfg.Log.Level = config.LogLevelError
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, stdin io.Reader) *testApp {
	t.Helper()

	if stdin == nil {
		stdin = strings.NewReader("")
	}
	ta := &testApp{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	app, err := NewApp(Dependencies{
		Config:     staticProvider{cfg: cfg},
		Stdin:      stdin,
		Stdout:     ta.stdout,
		Stderr:     ta.stderr,
		IssueStyle: "notty",
	})
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	ta.App = app
	return ta
}

func (ta *testApp) run(ctx context.Context, args ...string) error {
	root := NewRootCommand(ta.App)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
