// SPDX-License-Identifier: MPL-2.0

package command

// Origin bits carried through one invocation chain. The engine only reads
// FlagSourceTCP (to keep network traffic out of the debug log); handlers get
// the full set unchanged.
const (
	FlagSourceTCP Flags = 1 << iota
	FlagSourceUART
	FlagSourceMQTT
	FlagSourceScript
	FlagSourceEvent
	FlagSourceSSH
)

// Flags is an opaque bitset describing where a command came from.
type Flags uint32

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// FromNetwork reports whether the command arrived over a network transport.
func (f Flags) FromNetwork() bool {
	return f&(FlagSourceTCP|FlagSourceSSH|FlagSourceMQTT) != 0
}
