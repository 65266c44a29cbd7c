package store

import (
	"github.com/entrhq/mnemis/pkg/memory"
)

// Tx stages changes to several entries so they are applied together.
// Contracts are not checked inside a transaction; the caller does that
// before calling Atomic.
type Tx struct {
	s       *Store
	order   []memory.Tier
	puts    map[memory.Tier][]*memory.Entry
	deletes map[memory.Tier][]string
	staged  map[string]*memory.Entry
	removed map[string]bool
}

// Atomic runs fn with exclusive access to the store. Changes staged on the
// Tx are committed only if fn returns nil, backend by backend in the order
// each tier was first touched.
func (s *Store) Atomic(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		s:       s,
		puts:    make(map[memory.Tier][]*memory.Entry),
		deletes: make(map[memory.Tier][]string),
		staged:  make(map[string]*memory.Entry),
		removed: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// Get returns a mutable copy of entry id as seen by this transaction.
// Changes to it take effect only once passed to Put.
func (tx *Tx) Get(id string) (*memory.Entry, error) {
	if tx.removed[id] {
		return nil, memory.NotFoundf("tx get", "memory %s not found", id)
	}
	if e, ok := tx.staged[id]; ok {
		return e.Clone(), nil
	}
	e, _, err := tx.s.locate("tx get", id)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// Put stages an insert or replacement of e in the backend of its tier.
func (tx *Tx) Put(e *memory.Entry) error {
	if err := e.Scope.Validate(); err != nil {
		return err
	}
	if existing, _, err := tx.s.locate("tx put", e.ID); err == nil && existing.Scope.Level != e.Scope.Level {
		return memory.Validationf("tx put", "entry %s cannot move from %s to %s", e.ID, existing.Scope.Level, e.Scope.Level)
	}

	tier := e.Scope.Level
	tx.touch(tier)
	c := e.Clone()
	tx.puts[tier] = append(tx.puts[tier], c)
	tx.staged[e.ID] = c
	delete(tx.removed, e.ID)
	return nil
}

// Delete stages removal of entry id.
func (tx *Tx) Delete(id string) error {
	e, err := tx.Get(id)
	if err != nil {
		return err
	}
	tier := e.Scope.Level
	tx.touch(tier)
	tx.deletes[tier] = append(tx.deletes[tier], id)
	delete(tx.staged, id)
	tx.removed[id] = true
	return nil
}

func (tx *Tx) touch(t memory.Tier) {
	for _, seen := range tx.order {
		if seen == t {
			return
		}
	}
	tx.order = append(tx.order, t)
}

// commit applies the staged changes backend by backend. If a backend
// fails, the backends already committed are restored to their previous
// entries so the transaction leaves no partial state behind.
func (tx *Tx) commit() error {
	var done []undo
	for _, tier := range tx.order {
		puts := latestPuts(tx.puts[tier], tx.removed)
		var deletes []string
		for _, id := range tx.deletes[tier] {
			if tx.removed[id] {
				deletes = append(deletes, id)
			}
		}
		b := tx.s.backends[tier]
		u := snapshot(b, puts, deletes)
		if err := b.Commit(puts, deletes); err != nil {
			tx.rollback(done)
			return err
		}
		done = append(done, u)
	}
	return nil
}

// undo restores the entries a commit replaced or removed and drops the
// ones it created.
type undo struct {
	b       Backend
	puts    []*memory.Entry
	deletes []string
}

func snapshot(b Backend, puts []*memory.Entry, deletes []string) undo {
	u := undo{b: b}
	seen := make(map[string]bool, len(puts)+len(deletes))
	ids := make([]string, 0, len(puts)+len(deletes))
	for _, e := range puts {
		ids = append(ids, e.ID)
	}
	ids = append(ids, deletes...)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if prev, ok := b.Get(id); ok {
			u.puts = append(u.puts, prev)
		} else {
			u.deletes = append(u.deletes, id)
		}
	}
	return u
}

func (tx *Tx) rollback(done []undo) {
	for i := len(done) - 1; i >= 0; i-- {
		u := done[i]
		if err := u.b.Commit(u.puts, u.deletes); err != nil {
			debugLog.Errorf("Rollback of %s backend failed: %v", u.b.Tier(), err)
		}
	}
}

// latestPuts keeps the last staged version of each id, dropping ids that
// were deleted afterwards.
func latestPuts(puts []*memory.Entry, removed map[string]bool) []*memory.Entry {
	last := make(map[string]int, len(puts))
	for i, e := range puts {
		last[e.ID] = i
	}
	out := make([]*memory.Entry, 0, len(last))
	for i, e := range puts {
		if last[e.ID] == i && !removed[e.ID] {
			out = append(out, e)
		}
	}
	return out
}
