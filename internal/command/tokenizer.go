// SPDX-License-Identifier: MPL-2.0

package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxArgs caps the number of tokens kept by Tokenize. Text past the last kept
// token stays reachable through Args.From.
const MaxArgs = 64

const (
	// ExpandAtStartOnly restricts $NAME expansion to the first token.
	ExpandAtStartOnly TokenizeOption = 1 << iota
	// SingleArgument treats the whole trimmed input as one argument, spaces and
	// quotes included. Free-text commands such as echo use it.
	SingleArgument
	// NoExpand disables $NAME expansion.
	NoExpand
)

// ErrArgumentIndex is returned when an argument index is out of range.
var ErrArgumentIndex = errors.New("argument index out of range")

type (
	// TokenizeOption is a set of flags controlling Tokenize.
	TokenizeOption uint8

	// Resolver maps a variable name (without the leading $) to its current text.
	Resolver interface {
		Resolve(name string) (string, bool)
	}

	// ResolverFunc adapts a function to the Resolver interface.
	ResolverFunc func(name string) (string, bool)

	chainResolver []Resolver

	// Args is the result of tokenizing one input line. It is owned by the caller;
	// two Args values never share state.
	Args struct {
		input  string
		args   []string
		starts []int
		single bool
	}

	// ArgumentIndexError is returned by Arg when i is outside [0, Count).
	ArgumentIndexError struct {
		Index int
		Count int
	}

	// BadArgumentError is returned when an argument does not parse as a number.
	BadArgumentError struct {
		Index int
		Value string
		Err   error
	}

	// ArityError is returned by CheckArity when too few arguments were parsed.
	ArityError struct {
		Want int
		Got  int
	}
)

// Resolve calls f(name).
func (f ResolverFunc) Resolve(name string) (string, bool) { return f(name) }

// ChainResolvers returns a Resolver that tries each resolver in order.
// Nil entries are skipped.
func ChainResolvers(resolvers ...Resolver) Resolver {
	chain := make(chainResolver, 0, len(resolvers))
	for _, r := range resolvers {
		if r != nil {
			chain = append(chain, r)
		}
	}
	return chain
}

func (c chainResolver) Resolve(name string) (string, bool) {
	for _, r := range c {
		if v, ok := r.Resolve(name); ok {
			return v, true
		}
	}
	return "", false
}

// Error implements the error interface.
func (e *ArgumentIndexError) Error() string {
	return fmt.Sprintf("argument %d requested but only %d parsed", e.Index, e.Count)
}

// Is matches ErrArgumentIndex and ErrNotEnoughArguments.
func (e *ArgumentIndexError) Is(target error) bool {
	return target == ErrArgumentIndex || target == ErrNotEnoughArguments
}

// Error implements the error interface.
func (e *BadArgumentError) Error() string {
	return fmt.Sprintf("argument %d (%q) is not a number: %v", e.Index, e.Value, e.Err)
}

// Unwrap returns ErrBadArgument.
func (e *BadArgumentError) Unwrap() error { return ErrBadArgument }

// Error implements the error interface.
func (e *ArityError) Error() string {
	return fmt.Sprintf("command requires %d argument(s), got %d", e.Want, e.Got)
}

// Unwrap returns ErrNotEnoughArguments.
func (e *ArityError) Unwrap() error { return ErrNotEnoughArguments }

// Tokenize splits input on whitespace into arguments. Double-quoted substrings
// form one argument with the quotes removed; an unterminated quote runs to the
// end of input. $NAME references are replaced through resolver (a nil resolver
// disables expansion) and left literal when the resolver does not know them.
func Tokenize(input string, opts TokenizeOption, resolver Resolver) *Args {
	a := &Args{input: input}
	expand := resolver != nil && opts&NoExpand == 0

	if opts&SingleArgument != 0 {
		start := skipSpace(input, 0)
		end := len(input)
		for end > start && isSpace(input[end-1]) {
			end--
		}
		if start == end {
			return a
		}
		arg := input[start:end]
		if expand {
			arg = expandVariables(arg, resolver)
		}
		a.args = []string{arg}
		a.starts = []int{start}
		a.single = true
		return a
	}

	i := 0
	for len(a.args) < MaxArgs {
		i = skipSpace(input, i)
		if i >= len(input) {
			break
		}
		start := i
		var tok string
		if input[i] == '"' {
			i++
			end := strings.IndexByte(input[i:], '"')
			if end < 0 {
				tok = input[i:]
				i = len(input)
			} else {
				tok = input[i : i+end]
				i += end + 1
			}
		} else {
			for i < len(input) && !isSpace(input[i]) {
				i++
			}
			tok = input[start:i]
		}
		if expand && (opts&ExpandAtStartOnly == 0 || len(a.args) == 0) {
			tok = expandVariables(tok, resolver)
		}
		a.args = append(a.args, tok)
		a.starts = append(a.starts, start)
	}
	return a
}

// Count returns the number of parsed arguments.
func (a *Args) Count() int { return len(a.args) }

// Arg returns argument i.
func (a *Args) Arg(i int) (string, error) {
	if i < 0 || i >= len(a.args) {
		return "", &ArgumentIndexError{Index: i, Count: len(a.args)}
	}
	return a.args[i], nil
}

// ArgOr returns argument i, or def when it does not exist.
func (a *Args) ArgOr(i int, def string) string {
	if s, err := a.Arg(i); err == nil {
		return s
	}
	return def
}

// Int parses argument i as an integer (decimal, or hexadecimal with a 0x prefix).
func (a *Args) Int(i int) (int, error) {
	v, err := a.Int64(i)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// IntOr returns argument i as an integer, or def when it is missing.
// A present but malformed argument is still an error.
func (a *Args) IntOr(i int, def int) (int, error) {
	if i >= len(a.args) {
		return def, nil
	}
	return a.Int(i)
}

// Int64 parses argument i as a 64-bit integer.
func (a *Args) Int64(i int) (int64, error) {
	s, err := a.Arg(i)
	if err != nil {
		return 0, err
	}
	v, err := parseInteger(s)
	if err != nil {
		return 0, &BadArgumentError{Index: i, Value: s, Err: err}
	}
	return v, nil
}

// From returns the original text of the input starting at argument i, with its
// spacing and quoting untouched and trailing whitespace removed. In
// single-argument mode From(0) is the expanded argument. Out-of-range indexes
// return "".
func (a *Args) From(i int) string {
	if i < 0 || i >= len(a.args) {
		return ""
	}
	if a.single {
		return a.args[0]
	}
	rest := a.input[a.starts[i]:]
	end := len(rest)
	for end > 0 && isSpace(rest[end-1]) {
		end--
	}
	return rest[:end]
}

// All returns a copy of the parsed arguments.
func (a *Args) All() []string {
	out := make([]string, len(a.args))
	copy(out, a.args)
	return out
}

// CheckArity returns an *ArityError when fewer than want arguments were parsed.
func (a *Args) CheckArity(want int) error {
	if len(a.args) < want {
		return &ArityError{Want: want, Got: len(a.args)}
	}
	return nil
}

func parseInteger(s string) (int64, error) {
	body, neg := s, false
	switch {
	case strings.HasPrefix(body, "-"):
		body, neg = body[1:], true
	case strings.HasPrefix(body, "+"):
		body = body[1:]
	}
	var (
		v   uint64
		err error
	)
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		v, err = strconv.ParseUint(body[2:], 16, 64)
	} else {
		v, err = strconv.ParseUint(body, 10, 64)
	}
	if err != nil {
		return 0, err
	}
	if neg {
		if v > 1<<63 {
			return 0, strconv.ErrRange
		}
		return int64(-v), nil
	}
	if v > math.MaxInt64 {
		return 0, strconv.ErrRange
	}
	return int64(v), nil
}

// expandVariables replaces every $NAME in s that resolver knows.
func expandVariables(s string, resolver Resolver) string {
	if strings.IndexByte(s, '$') < 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '$' {
			sb.WriteByte(s[i])
			i++
			continue
		}
		j := i + 1
		for j < len(s) && isNameByte(s[j]) {
			j++
		}
		name := s[i+1 : j]
		v, ok := "", false
		if name != "" {
			v, ok = resolver.Resolve(name)
		}
		if ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(s[i:j])
		}
		i = j
	}
	return sb.String()
}

func isNameByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}
