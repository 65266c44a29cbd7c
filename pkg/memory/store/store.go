// Package store routes memory entries to their tier's backend and enforces
// contracts on every read and mutation.
//
// GAIA and PROJECT entries are durable JSONL logs; AGENT entries live in
// process memory until their ttl elapses and CleanupExpiredAgentMemory
// removes them. Every public method runs under one mutex, so each call is
// atomic with respect to the others.
package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/entrhq/mnemis/pkg/logging"
	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/access"
	"github.com/entrhq/mnemis/pkg/memory/telemetry"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("store")
	if err != nil {
		debugLog.Warnf("Failed to initialize file logger, using fallback: %v", err)
	}
}

// lookupOrder is the order tiers are searched when locating an id.
var lookupOrder = []memory.Tier{memory.TierGaia, memory.TierProject, memory.TierAgent}

// Store is the contract-checked front of the three tier backends.
type Store struct {
	mu       sync.Mutex
	ac       *access.Controller
	backends map[memory.Tier]Backend
	hooks    *telemetry.Hooks
	now      func() time.Time
	lock     *fileLock
}

// Option configures a Store.
type Option func(*Store)

// WithBackend installs b for its tier, replacing the default.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backends[b.Tier()] = b
	}
}

// WithTelemetry records every operation to h.
func WithTelemetry(h *telemetry.Hooks) Option {
	return func(s *Store) {
		s.hooks = h
	}
}

// WithClock overrides the clock used for expiry sweeps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New builds a store over in-memory backends for every tier not supplied
// through WithBackend. Nothing is persisted unless a durable backend is
// installed.
func New(ac *access.Controller, opts ...Option) (*Store, error) {
	if ac == nil {
		return nil, errors.New("store: access controller is required")
	}
	s := &Store{
		ac:       ac,
		backends: make(map[memory.Tier]Backend, len(memory.Tiers)),
		now:      memory.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, t := range memory.Tiers {
		if s.backends[t] == nil {
			s.backends[t] = NewEphemeral(t)
		}
	}
	return s, nil
}

// Open locks dir and loads the durable GAIA and PROJECT logs found there.
// It fails with ErrLocked if another Store already holds dir.
func Open(dir string, ac *access.Controller, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: init directory %s: %w", dir, err)
	}
	lock, err := acquireLock(dir)
	if err != nil {
		return nil, err
	}
	gaia, err := NewGaiaLog(dir)
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	project, err := NewProjectLog(dir)
	if err != nil {
		_ = lock.release()
		return nil, err
	}

	defaults := []Option{WithBackend(gaia), WithBackend(project), WithBackend(NewEphemeral(memory.TierAgent))}
	s, err := New(ac, append(defaults, opts...)...)
	if err != nil {
		_ = lock.release()
		return nil, err
	}
	s.lock = lock
	debugLog.Infof("Opened store at %s (gaia=%d project=%d)", dir, len(gaia.entries), len(project.entries))
	return s, nil
}

// Close releases the directory lock. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil {
		return nil
	}
	err := s.lock.release()
	s.lock = nil
	return err
}

// Controller returns the access controller this store enforces.
func (s *Store) Controller() *access.Controller {
	return s.ac
}

// WriteOption adjusts an entry written or updated through the Store.
type WriteOption func(*writeOptions)

type writeOptions struct {
	tags        []string
	tagsSet     bool
	metadata    map[string]any
	metadataSet bool
}

// WithTags sets the entry's tags. On Update, omitting it keeps the
// existing tags.
func WithTags(tags ...string) WriteOption {
	return func(o *writeOptions) {
		o.tags = tags
		o.tagsSet = true
	}
}

// WithMetadata sets the entry's metadata. On Update, omitting it keeps the
// existing metadata.
func WithMetadata(md map[string]any) WriteOption {
	return func(o *writeOptions) {
		o.metadata = md
		o.metadataSet = true
	}
}

func applyWriteOptions(opts []WriteOption) writeOptions {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Write creates an entry in scope on behalf of c and returns its id.
func (s *Store) Write(content map[string]any, scope memory.Scope, c *memory.Contract, opts ...WriteOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := s.ac.ValidateWrite(c, scope); err != nil {
		s.record(telemetry.OpWrite, "", c, scope.Level, false)
		return "", err
	}

	o := applyWriteOptions(opts)
	e, err := memory.NewEntry(content, scope, c.AgentID, o.tags, o.metadata)
	if err != nil {
		return "", err
	}
	e.AddProvenanceEvent(memory.EventCreated, c.AgentID, map[string]any{
		"access_level": string(c.AccessLevel),
		"scope_level":  string(scope.Level),
	})

	if err := s.backends[scope.Level].Commit([]*memory.Entry{e}, nil); err != nil {
		s.record(telemetry.OpWrite, e.ID, c, scope.Level, false)
		return "", err
	}
	s.record(telemetry.OpWrite, e.ID, c, scope.Level, true)
	debugLog.Debugf("Wrote %s entry %s for %s", scope.Level, e.ID, c.AgentID)
	return e.ID, nil
}

// Read returns a copy of entry id after recording the access in its
// provenance. The access event is persisted for durable tiers.
func (s *Store) Read(id string, c *memory.Contract) (*memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, b, err := s.locate("read", id)
	if err != nil {
		return nil, err
	}
	if err := s.ac.ValidateRead(c, e.Scope); err != nil {
		s.record(telemetry.OpRead, id, c, e.Scope.Level, false)
		return nil, err
	}

	next := e.Clone()
	next.AddProvenanceEvent(memory.EventAccessed, c.AgentID, map[string]any{
		"access_level": string(c.AccessLevel),
	})
	if err := b.Commit([]*memory.Entry{next}, nil); err != nil {
		return nil, err
	}
	s.record(telemetry.OpRead, id, c, e.Scope.Level, true)
	return next.Clone(), nil
}

// Update replaces the content of entry id, and its tags or metadata when
// the corresponding option is given.
func (s *Store) Update(id string, content map[string]any, c *memory.Contract, opts ...WriteOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, b, err := s.locate("update", id)
	if err != nil {
		return err
	}
	if err := s.ac.ValidateWrite(c, e.Scope); err != nil {
		s.record(telemetry.OpUpdate, id, c, e.Scope.Level, false)
		return err
	}

	o := applyWriteOptions(opts)
	next := e.Clone()
	next.Content = memory.CloneMap(content)
	fields := []any{"content"}
	if o.tagsSet {
		next.Tags = append([]string{}, o.tags...)
		fields = append(fields, "tags")
	}
	if o.metadataSet {
		next.Metadata = memory.CloneMap(o.metadata)
		fields = append(fields, "metadata")
	}
	next.AddProvenanceEvent(memory.EventUpdated, c.AgentID, map[string]any{"updated_fields": fields})

	if err := b.Commit([]*memory.Entry{next}, nil); err != nil {
		s.record(telemetry.OpUpdate, id, c, e.Scope.Level, false)
		return err
	}
	s.record(telemetry.OpUpdate, id, c, e.Scope.Level, true)
	return nil
}

// Delete removes entry id. Its provenance, closed by a deleted event, is
// kept as a telemetry tombstone.
func (s *Store) Delete(id string, c *memory.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, b, err := s.locate("delete", id)
	if err != nil {
		return err
	}
	if err := s.ac.ValidateWrite(c, e.Scope); err != nil {
		s.record(telemetry.OpDelete, id, c, e.Scope.Level, false)
		return err
	}

	final := e.Clone()
	final.AddProvenanceEvent(memory.EventDeleted, c.AgentID, map[string]any{
		"access_level": string(c.AccessLevel),
	})
	if err := b.Commit(nil, []string{id}); err != nil {
		s.record(telemetry.OpDelete, id, c, e.Scope.Level, false)
		return err
	}
	s.record(telemetry.OpDelete, id, c, e.Scope.Level, true)
	s.hooks.Tombstone(final)
	debugLog.Infof("Deleted %s entry %s by %s after %d provenance events", e.Scope.Level, id, c.AgentID, len(final.Provenance))
	return nil
}

// CleanupExpiredAgentMemory removes every AGENT entry whose ttl has
// elapsed and returns how many were removed. Running it again without new
// expiries removes nothing.
func (s *Store) CleanupExpiredAgentMemory() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.backends[memory.TierAgent]
	exp, ok := b.(Expirer)
	if !ok {
		return 0, nil
	}
	ids := exp.Expired(s.now())
	if len(ids) == 0 {
		return 0, nil
	}
	if err := b.Commit(nil, ids); err != nil {
		return 0, err
	}
	s.hooks.Cleanup(len(ids))
	debugLog.Debugf("Removed %d expired agent entries", len(ids))
	return len(ids), nil
}

// Lookup returns a copy of entry id without recording an access. It is
// meant for collaborators that have already checked a contract.
func (s *Store) Lookup(id string) (*memory.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _, err := s.locate("lookup", id)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

// GaiaEntries returns copies of every GAIA entry.
func (s *Store) GaiaEntries() []*memory.Entry {
	return s.Entries(memory.TierGaia)
}

// ProjectEntries returns copies of the PROJECT entries of projectID.
func (s *Store) ProjectEntries(projectID string) []*memory.Entry {
	return s.filtered(memory.TierProject, func(e *memory.Entry) bool {
		return e.Scope.ProjectID == projectID
	})
}

// AgentEntries returns copies of the AGENT entries owned by agentID.
func (s *Store) AgentEntries(agentID string) []*memory.Entry {
	return s.filtered(memory.TierAgent, func(e *memory.Entry) bool {
		return e.Scope.AgentID == agentID
	})
}

// Entries returns copies of every entry held in tier.
func (s *Store) Entries(tier memory.Tier) []*memory.Entry {
	return s.filtered(tier, func(*memory.Entry) bool { return true })
}

// Count returns the number of entries currently held in tier.
func (s *Store) Count(tier memory.Tier) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backends[tier]
	if !ok {
		return 0
	}
	return len(b.Entries())
}

func (s *Store) filtered(tier memory.Tier, keep func(*memory.Entry) bool) []*memory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.backends[tier]
	if !ok {
		return nil
	}
	var out []*memory.Entry
	for _, e := range b.Entries() {
		if keep(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// locate finds id in the first tier that holds it.
func (s *Store) locate(op, id string) (*memory.Entry, Backend, error) {
	for _, t := range lookupOrder {
		b := s.backends[t]
		if e, ok := b.Get(id); ok {
			return e, b, nil
		}
	}
	return nil, nil, memory.NotFoundf(op, "memory %s not found", id)
}

func (s *Store) record(op telemetry.Operation, id string, c *memory.Contract, level memory.Tier, success bool) {
	if c == nil {
		s.hooks.Operation(op, id, "", "", level, success)
		return
	}
	s.hooks.Operation(op, id, c.AgentID, c.AccessLevel, level, success)
}
