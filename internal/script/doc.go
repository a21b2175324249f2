// SPDX-License-Identifier: MPL-2.0

// Package script runs command scripts such as the autoexec file executed at
// boot. Each non-blank line that is not a comment runs through the scheduler
// with FlagSourceScript. A Watcher re-runs the script when it changes on disk.
package script
