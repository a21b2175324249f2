// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates CUE documents against an embedded schema and
// decodes them into Go values.
//
// Every caller follows the same three steps: compile the schema, unify the
// user document with one of its definitions, validate and decode. Errors
// carry the file name and the CUE path of the offending field, for example
//
//	config.cue: console.port: invalid value 70000 (out of bound <=65535)
package cueutil
