// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces ConfigDir for tests, where os.UserHomeDir does
// not reliably follow HOME.
var configDirOverride string

// Reset clears test overrides.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride makes ConfigDir return dir.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
