// SPDX-License-Identifier: MPL-2.0

// Package sshconsole serves the command console over SSH using the Wish
// library. Clients authenticate with the configured password.
//
// "ssh -p PORT device 'echo hi'" runs a single line and exits with the result
// code as status. A session without a command reads lines interactively and
// answers each one like the TCP console does.
package sshconsole
