// Package registry provides the case-insensitive lookup tables that own unit
// records and unit groups.
package registry

import (
	"sync"

	"github.com/dshills/thunder/internal/logging"
	"github.com/dshills/thunder/internal/units"
)

type entry[T any] struct {
	name  string
	value T
}

// Table maps case-insensitive keys to values, preserving insertion order.
// A single mutex guards every mutation and snapshot.
type Table[T any] struct {
	mu      sync.Mutex
	kind    string
	entries map[string]*entry[T]
	order   []string
	logger  *logging.Logger
}

// NewTable creates an empty table. The kind names the table in warnings.
func NewTable[T any](kind string, logger *logging.Logger) *Table[T] {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Table[T]{
		kind:    kind,
		entries: make(map[string]*entry[T]),
		logger:  logger,
	}
}

// Get returns the value stored under key.
func (t *Table[T]) Get(key string) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[units.Fold(key)]
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Has reports whether key is present.
func (t *Table[T]) Has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[units.Fold(key)]
	return ok
}

// Set stores value under key and reports whether an existing entry was
// replaced. Replacing an entry is logged as a table warning; callers are
// expected to check Has first.
func (t *Table[T]) Set(key string, value T) (replaced bool) {
	folded := units.Fold(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[folded]; ok {
		t.logger.Warn("%s table warning: entry %q has been overwritten", t.kind, folded)
		e.name = key
		e.value = value
		return true
	}

	t.entries[folded] = &entry[T]{name: key, value: value}
	t.order = append(t.order, folded)
	return false
}

// Delete removes key and reports whether it was present.
func (t *Table[T]) Delete(key string) bool {
	folded := units.Fold(key)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[folded]; !ok {
		return false
	}
	delete(t.entries, folded)
	for i, k := range t.order {
		if k == folded {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

// All returns a snapshot of the values in insertion order.
func (t *Table[T]) All() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]T, 0, len(t.order))
	for _, k := range t.order {
		result = append(result, t.entries[k].value)
	}
	return result
}

// Names returns the keys as they were written, in insertion order.
func (t *Table[T]) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]string, 0, len(t.order))
	for _, k := range t.order {
		result = append(result, t.entries[k].name)
	}
	return result
}

// Len returns the number of entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

