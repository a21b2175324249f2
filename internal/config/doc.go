// SPDX-License-Identifier: MPL-2.0

// Package config loads the flashcmd configuration.
//
// Values are layered: built-in defaults, then a CUE file checked against the
// embedded #Config schema, then FLASHCMD_* environment variables
// (FLASHCMD_CONSOLE_PORT, FLASHCMD_SSH_PASSWORD, ...). The merged result is
// validated before it is returned. The file is looked up in ConfigDir and then
// in the working directory unless a path is given explicitly.
package config
