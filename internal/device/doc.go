// SPDX-License-Identifier: MPL-2.0

// Package device models the state that leaf commands act on: numbered
// channels, device flags, the ping watchdog, power saving and pending
// restart/OTA/discovery operations. Persistent values go through
// internal/store; a Device also resolves $CH<n>-style variables for the
// command tokenizer.
package device
