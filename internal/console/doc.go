// SPDX-License-Identifier: MPL-2.0

// Package console serves the raw TCP command console. Each connection sends
// newline-terminated command lines; every line is answered with the output the
// command produced followed by its result code in angle brackets, for example
// "<OK>" or "<UNKNOWN_COMMAND>". A per-connection token bucket throttles
// clients that flood the device.
package console
