// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by the flashcmd tests: resource
// cleanup (MustClose, MustStop, DeferClose, DeferStop), file setup
// (MustMkdirAll, MustWriteFile), polling (Eventually) and a controllable
// clock (FakeClock) for timer-driven code such as repeating events.
package testutil
