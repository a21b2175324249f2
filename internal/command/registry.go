// SPDX-License-Identifier: MPL-2.0

package command

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// BucketCount is the number of hash buckets. It must stay a power of two.
const BucketCount = 128

type (
	// Entry is one registered command. Entries are immutable once registered.
	Entry struct {
		name    string
		handler Handler
		data    any
		next    *Entry
	}

	// Registry maps case-insensitive command names to handlers.
	// It is safe for concurrent use; handlers are never invoked under its lock.
	Registry struct {
		mu      sync.RWMutex
		buckets [BucketCount]*Entry
		count   int
		logger  *log.Logger
	}

	// DuplicateCommandError is returned when a name already resolves in the registry,
	// either as a command or as an alias.
	DuplicateCommandError struct {
		Name     string
		Existing string
	}

	// InvalidCommandNameError is returned when registering an empty name or a nil handler.
	InvalidCommandNameError struct {
		Name   string
		Reason string
	}
)

// Error implements the error interface.
func (e *DuplicateCommandError) Error() string {
	return fmt.Sprintf("command with name %s already exists (as %s)", e.Name, e.Existing)
}

// Unwrap returns ErrBadArgument so collisions map to the BadArgument result.
func (e *DuplicateCommandError) Unwrap() error { return ErrBadArgument }

// Error implements the error interface.
func (e *InvalidCommandNameError) Error() string {
	return fmt.Sprintf("invalid command %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrBadArgument.
func (e *InvalidCommandNameError) Unwrap() error { return ErrBadArgument }

// Name returns the command name exactly as it was registered.
func (e *Entry) Name() string { return e.name }

// Handler returns the bound handler.
func (e *Entry) Handler() Handler { return e.handler }

// Data returns the opaque value supplied by whoever registered the command.
func (e *Entry) Data() any { return e.data }

// IsAlias reports whether the entry was created by CreateAlias.
func (e *Entry) IsAlias() bool {
	_, ok := e.handler.(*aliasHandler)
	return ok
}

// AliasTarget returns the stored command line of an alias entry, or "".
func (e *Entry) AliasTarget() string {
	if a, ok := e.handler.(*aliasHandler); ok {
		return a.target
	}
	return ""
}

// Doc returns the description attached with WithDoc. Aliases describe
// their target.
func (e *Entry) Doc() (Doc, bool) {
	switch h := e.handler.(type) {
	case *documented:
		return h.doc, true
	case *aliasHandler:
		return Doc{Description: "alias for: " + h.target}, true
	default:
		return Doc{}, false
	}
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Registry{logger: logger}
}

// Hash returns the bucket index for name. It lowercases ASCII letters, so
// names differing only in case share a bucket.
func Hash(name string) int {
	hash := 0
	for i := 0; i < len(name); i++ {
		hash += int(lowerASCII(name[i])) * (i + 119)
	}
	hash = hash ^ (hash >> 10) ^ (hash >> 20)
	return hash & (BucketCount - 1)
}

// Register binds name to handler. It fails without touching the table when
// name already resolves, case-insensitively, to a command or an alias.
func (r *Registry) Register(name string, handler Handler, data any) error {
	if name == "" {
		return &InvalidCommandNameError{Name: name, Reason: "empty name"}
	}
	if handler == nil {
		return &InvalidCommandNameError{Name: name, Reason: "nil handler"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findLocked(name); existing != nil {
		r.logger.Error("command already exists", "name", name, "existing", existing.name)
		return &DuplicateCommandError{Name: name, Existing: existing.name}
	}
	r.logger.Debug("adding command", "name", name)

	bucket := Hash(name)
	r.buckets[bucket] = &Entry{
		name:    name,
		handler: handler,
		data:    data,
		next:    r.buckets[bucket],
	}
	r.count++
	return nil
}

// Find looks name up case-insensitively.
func (r *Registry) Find(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e := r.findLocked(name)
	return e, e != nil
}

func (r *Registry) findLocked(name string) *Entry {
	for e := r.buckets[Hash(name)]; e != nil; e = e.next {
		if equalFoldASCII(e.name, name) {
			return e
		}
	}
	return nil
}

// ListAll calls visit for every entry, bucket by bucket, newest first within a
// bucket. Returning false from visit stops the walk. The walk runs over a
// snapshot, so visit may register commands.
func (r *Registry) ListAll(visit func(*Entry) bool) {
	r.mu.RLock()
	entries := make([]*Entry, 0, r.count)
	for _, head := range r.buckets {
		for e := head; e != nil; e = e.next {
			entries = append(entries, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range entries {
		if !visit(e) {
			return
		}
	}
}

// Names returns every registered name in case-insensitive sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.Len())
	r.ListAll(func(e *Entry) bool {
		names = append(names, e.name)
		return true
	})
	sort.Slice(names, func(i, j int) bool {
		return lessFoldASCII(names[i], names[j])
	})
	return names
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// ClearAll drops every entry. It exists for factory reset; there is no way to
// remove a single command.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buckets = [BucketCount]*Entry{}
	r.count = 0
	r.logger.Debug("all commands cleared")
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func lessFoldASCII(a, b string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		ca, cb := lowerASCII(a[i]), lowerASCII(b[i])
		if ca != cb {
			return ca < cb
		}
	}
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
