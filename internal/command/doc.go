// SPDX-License-Identifier: MPL-2.0

// Package command implements the textual command engine shared by every device
// origin (UART, TCP and SSH consoles, repeating events, scripts, the CLI).
//
// The engine has four parts:
//
//   - Registry: a case-insensitive, hash-bucketed name table. Entries are only
//     ever added; a factory reset drops the whole table with ClearAll.
//   - Tokenizer: Tokenize splits a raw argument string into an Args value with
//     double-quote grouping and $NAME expansion through a Resolver.
//   - Engine: ExecuteLine and Execute resolve a command (exact name first, then
//     the name with its trailing decimal digits stripped) and return the
//     handler's Result untouched.
//   - Aliases: CreateAlias registers a synthetic command that re-enters
//     ExecuteLine with a stored command line.
//
// # Result Codes
//
// Every invocation ends in exactly one Result. The engine itself produces
// EmptyString, UnknownCommand and RecursionLimit; everything else comes from
// the handler.
//
// # Re-entrancy
//
// Handlers may run other commands (aliases, the if construct). Nesting depth
// is carried in the context.Context and bounded by the engine's MaxDepth, so an
// alias cycle ends with RecursionLimit instead of exhausting the stack.
package command
