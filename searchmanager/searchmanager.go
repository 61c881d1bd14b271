// Package searchmanager implements the query-time cancellation primitive:
// a single atomic test-and-set flag that comparator callbacks poll
// between comparisons to unwind a sort early. Indexing operations are
// not cancellable; only the find path uses this.
package searchmanager

import (
	"errors"
	"sync/atomic"
)

// ErrCancelled is the sentinel a ranking layer raises when a comparator
// observes a cleared flag mid-sort; the sort unwinds and the query
// returns no results.
var ErrCancelled = errors.New("searchmanager: search cancelled")

// Manager carries one atomic cancellation flag for an in-flight query.
// The naming is inverted relative to the flag's value: Cancel clears the
// flag, Reset sets it, ShouldContinue test-and-sets.
type Manager struct {
	flag atomic.Bool
}

// New returns a Manager in the "continue" state.
func New() *Manager {
	m := &Manager{}
	m.flag.Store(true)
	return m
}

// Cancel clears the flag; the next ShouldContinue call reports
// cancellation.
func (m *Manager) Cancel() {
	m.flag.Store(false)
}

// Reset sets the flag back to the "continue" state, as if freshly
// constructed.
func (m *Manager) Reset() {
	m.flag.Store(true)
}

// ShouldContinue atomically sets the flag to true and returns its
// previous value: a test-and-set, not a plain read. A comparator loop
// that observes false here unwinds immediately with no results.
func (m *Manager) ShouldContinue() bool {
	return m.flag.Swap(true)
}
