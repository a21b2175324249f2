// SPDX-License-Identifier: MPL-2.0

// Package node assembles a running flashcmd instance from its configuration:
// the persisted store, the device model, the command engine with the builtin
// and repeating event commands, the scheduler, and the transports that feed
// it (TCP console, SSH console, UART reader, autoexec script).
//
// A restart or deep sleep requested by a command ends Run with ErrRestart, and
// the caller builds a fresh Node, the way the firmware reboots.
package node
