// SPDX-License-Identifier: MPL-2.0

// Package serverbase provides the lifecycle state machine shared by the
// long-running flashcmd services: the command scheduler, the TCP and SSH
// consoles, the repeating event timers and the script watcher.
//
// A service embeds *Base, calls the TransitionTo* helpers from its Start and
// Stop methods, and starts its goroutines through Go so that Shutdown can wait
// for them.
package serverbase
