// SPDX-License-Identifier: MPL-2.0

// Package events implements repeating events: command lines that fire every
// N seconds, a fixed number of times or forever. Firing never runs a command
// directly; the line is posted to the scheduler with FlagSourceEvent.
//
// The Manager installs addRepeatingEvent, cancelRepeatingEvent,
// clearRepeatingEvents and listRepeatingEvents on a command engine and
// plugs into the factory reset as a builtins.Extension.
package events
