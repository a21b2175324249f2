// SPDX-License-Identifier: MPL-2.0

package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/flashcmd/flashcmd/internal/testutil"
)

func runWatcher(t *testing.T, w *Watcher) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
	return cancel
}

func TestWatcher_DebouncesMatchingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var (
		mu        sync.Mutex
		calls     int
		collected []string
	)
	w, err := NewWatcher(WatchConfig{
		BaseDir:  dir,
		Patterns: []string{"*.bat"},
		Debounce: 100 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			collected = append(collected, changed...)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	runWatcher(t, w)

	for _, name := range []string{"a.bat", "b.bat", "notes.txt", "a.bat.swp"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("echo"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls > 0
	}, "debounced callback")
	time.Sleep(250 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	slices.Sort(collected)
	collected = slices.Compact(collected)
	if !slices.Equal(collected, []string{"a.bat", "b.bat"}) {
		t.Errorf("changed = %v, want [a.bat b.bat]", collected)
	}
}

func TestWatcher_WatchesOnlyBaseDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.MustMkdirAll(t, filepath.Join(dir, "logs", "old"), 0o755)
	testutil.MustMkdirAll(t, filepath.Join(dir, ".git"), 0o755)

	var (
		mu      sync.Mutex
		changed []string
	)
	w, err := NewWatcher(WatchConfig{
		BaseDir:  dir,
		Patterns: []string{"*.bat"},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, names []string) error {
			mu.Lock()
			defer mu.Unlock()
			changed = append(changed, names...)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := w.fsw.WatchList(); len(got) != 1 {
		t.Errorf("WatchList() = %v, want only %s", got, dir)
	}
	runWatcher(t, w)

	testutil.MustWriteFile(t, filepath.Join(dir, "logs", "nested.bat"), "echo nested\n")
	testutil.MustWriteFile(t, filepath.Join(dir, "autoexec.bat"), "echo top\n")

	testutil.Eventually(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) > 0
	}, "callback for the top-level script")

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(slices.Compact(changed), []string{"autoexec.bat"}) {
		t.Errorf("changed = %v, want [autoexec.bat]", changed)
	}
}

func TestWatcher_InvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := NewWatcher(WatchConfig{BaseDir: t.TempDir(), Patterns: []string{"[bad"}})
	if err == nil {
		t.Fatal("NewWatcher() should reject an invalid pattern")
	}
}

func TestWatcher_RunTwice(t *testing.T) {
	t.Parallel()

	w, err := NewWatcher(WatchConfig{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	runWatcher(t, w)

	testutil.Eventually(t, time.Second, w.started.Load, "first Run started")
	if err := w.Run(context.Background()); !errors.Is(err, ErrWatcherRunning) {
		t.Errorf("second Run() error = %v, want ErrWatcherRunning", err)
	}
}

func TestRunner_Watch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "autoexec.bat")
	testutil.MustWriteFile(t, path, "echo v1\n")

	sub := &fakeSubmitter{}
	r := NewRunner(sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Watch(ctx, path, 50*time.Millisecond) }()

	// Give the watcher time to register the directory before writing.
	time.Sleep(100 * time.Millisecond)
	testutil.MustWriteFile(t, path, "echo v2\n")
	testutil.MustWriteFile(t, filepath.Join(dir, "other.bat"), "echo other\n")

	testutil.Eventually(t, 5*time.Second, func() bool {
		return slices.Contains(sub.snapshot(), "echo v2")
	}, "script re-run after change")

	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
	if slices.Contains(sub.snapshot(), "echo other") {
		t.Error("a different file triggered the script")
	}
}
