// SPDX-License-Identifier: MPL-2.0

// Package uart turns a serial byte stream into command lines. It mirrors the
// firmware console: leading whitespace is skipped, a line ends at '\n', text
// beyond MaxLineLength is dropped and fragments shorter than MinLineLength
// are ignored.
package uart
