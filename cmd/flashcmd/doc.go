// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the CLI commands for flashcmd.
//
// The root command carries the global --verbose and --config flags. exec runs a
// single command line against the persisted device state, serve brings up the
// transports until interrupted, repl is an interactive prompt, list prints the
// registered commands and config manages the configuration file.
package cmd
