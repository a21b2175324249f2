// SPDX-License-Identifier: MPL-2.0

// Package builtins registers the early command set on a command engine:
// alias, echo, if, restart/reboot, the configuration and factory reset
// commands, channel commands, ping watchdog settings and the fault injection
// commands used for crash testing, plus the log-only simonirtest diagnostic.
//
// Handlers talk to the device through the Device interface so they can be
// exercised against fakes. Conditions of the if command are decided by an
// Evaluator; the default evaluates CUE expressions.
package builtins
