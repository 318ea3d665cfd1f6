// Package memlock provides per-row exclusive locks for the in-memory stores.
package memlock

import "sync"

// Table hands out one mutex per row id.
type Table struct {
	mu   sync.Mutex
	rows map[int64]*sync.Mutex
}

// NewTable constructs an empty lock table.
func NewTable() *Table {
	return &Table{rows: make(map[int64]*sync.Mutex)}
}

func (t *Table) row(id int64) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.rows[id]
	if !ok {
		m = &sync.Mutex{}
		t.rows[id] = m
	}
	return m
}

// Held tracks the rows locked by one transaction. It is not safe for
// concurrent use; a transaction belongs to a single goroutine.
type Held struct {
	table *Table
	ids   map[int64]struct{}
	order []int64
}

// Begin starts an empty lock set on the table.
func (t *Table) Begin() *Held {
	return &Held{table: t, ids: make(map[int64]struct{})}
}

// Lock blocks until the row is held. Re-locking a held row is a no-op.
func (h *Held) Lock(id int64) {
	if _, ok := h.ids[id]; ok {
		return
	}
	h.table.row(id).Lock()
	h.ids[id] = struct{}{}
	h.order = append(h.order, id)
}

// Holds reports whether the row is locked by this set.
func (h *Held) Holds(id int64) bool {
	_, ok := h.ids[id]
	return ok
}

// Release unlocks every held row in reverse acquisition order.
func (h *Held) Release() {
	for i := len(h.order) - 1; i >= 0; i-- {
		h.table.row(h.order[i]).Unlock()
	}
	h.ids = make(map[int64]struct{})
	h.order = nil
}
