// SPDX-License-Identifier: MPL-2.0

// Package scheduler serializes command execution. Every transport hands its
// lines to one Scheduler, whose single worker goroutine runs them on the
// command engine one at a time, in submission order.
package scheduler
