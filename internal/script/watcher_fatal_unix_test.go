// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package script

import (
	"fmt"
	"syscall"
	"testing"
)

func TestIsFatalFsnotifyError(t *testing.T) {
	t.Parallel()

	for _, errno := range []syscall.Errno{syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE} {
		if !isFatalFsnotifyError(errno) {
			t.Errorf("%v should stop the script watcher", errno)
		}
		if !isFatalFsnotifyError(fmt.Errorf("inotify_add_watch autoexec.bat: %w", errno)) {
			t.Errorf("wrapped %v should stop the script watcher", errno)
		}
	}

	for _, err := range []error{syscall.EPERM, syscall.EACCES, fmt.Errorf("queue overflow")} {
		if isFatalFsnotifyError(err) {
			t.Errorf("%v should only be logged", err)
		}
	}
}
