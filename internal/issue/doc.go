// SPDX-License-Identifier: MPL-2.0

// Package issue carries user-facing failures of the flashcmd CLI.
//
// An ActionableError names the operation that failed, the resource involved and
// a list of suggestions. Errors may also point at a catalog Issue, a Markdown
// page rendered with glamour that explains a whole class of failure (config
// that does not validate, a console port already in use, a missing serial
// device).
package issue
