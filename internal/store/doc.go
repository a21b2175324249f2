// SPDX-License-Identifier: MPL-2.0

// Package store is the persisted state behind the device model: configuration
// settings, channel values with their startup values, and the boot counter.
// It uses the pure Go SQLite driver so the binary stays cgo-free.
package store
