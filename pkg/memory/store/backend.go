package store

import (
	"sort"
	"time"

	"github.com/entrhq/mnemis/pkg/memory"
)

// Backend holds the entries of exactly one tier.
//
// Get and Entries return the backend's own values; the Store clones before
// handing anything out and never mutates them in place. Commit applies a
// batch of replacements and removals as one unit: on error the backend's
// state must be unchanged.
type Backend interface {
	Tier() memory.Tier
	Get(id string) (*memory.Entry, bool)
	Entries() []*memory.Entry
	Commit(puts []*memory.Entry, deletes []string) error
}

// Expirer is implemented by backends whose entries time out.
type Expirer interface {
	Expired(now time.Time) []string
}

// sortEntries orders entries by creation time, then id.
func sortEntries(entries []*memory.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// EphemeralBackend keeps AGENT memory in process. Nothing touches disk and
// everything is lost at exit.
type EphemeralBackend struct {
	tier    memory.Tier
	entries map[string]*memory.Entry
}

// NewEphemeral returns an empty in-memory backend for tier.
func NewEphemeral(tier memory.Tier) *EphemeralBackend {
	return &EphemeralBackend{tier: tier, entries: make(map[string]*memory.Entry)}
}

func (b *EphemeralBackend) Tier() memory.Tier { return b.tier }

func (b *EphemeralBackend) Get(id string) (*memory.Entry, bool) {
	e, ok := b.entries[id]
	return e, ok
}

func (b *EphemeralBackend) Entries() []*memory.Entry {
	out := make([]*memory.Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func (b *EphemeralBackend) Commit(puts []*memory.Entry, deletes []string) error {
	for _, e := range puts {
		if e.Scope.Level != b.tier {
			return memory.Validationf("commit", "entry %s has level %s, backend holds %s", e.ID, e.Scope.Level, b.tier)
		}
	}
	for _, e := range puts {
		b.entries[e.ID] = e
	}
	for _, id := range deletes {
		delete(b.entries, id)
	}
	return nil
}

// Expired returns the ids of entries whose ttl has elapsed at now.
func (b *EphemeralBackend) Expired(now time.Time) []string {
	var ids []string
	for id, e := range b.entries {
		if e.ExpiredAt(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
