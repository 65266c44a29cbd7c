package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/access"
	"github.com/entrhq/mnemis/pkg/memory/telemetry"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func register(t *testing.T, ac *access.Controller, agentID string, level memory.Tier, projectID string) *memory.Contract {
	t.Helper()
	c, err := ac.RegisterAgent(agentID, level, projectID)
	require.NoError(t, err)
	return c
}

func agentScope(t *testing.T, projectID, agentID string, ttl time.Duration) memory.Scope {
	t.Helper()
	s, err := memory.AgentScope(projectID, agentID, ttl)
	require.NoError(t, err)
	return s
}

func projectScope(t *testing.T, projectID string) memory.Scope {
	t.Helper()
	s, err := memory.ProjectScope(projectID)
	require.NoError(t, err)
	return s
}

func openStore(t *testing.T, dir string, ac *access.Controller) *Store {
	t.Helper()
	s, err := Open(dir, ac)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWriteAndReadAgentMemory(t *testing.T) {
	ac := access.NewController()
	s, err := New(ac)
	require.NoError(t, err)

	agent := register(t, ac, "a1", memory.TierAgent, "p1")
	stranger := register(t, ac, "a9", memory.TierAgent, "p2")

	id, err := s.Write(map[string]any{"note": "cache warm"}, agentScope(t, "p1", "a1", time.Hour), agent,
		WithTags("cache"), WithMetadata(map[string]any{"source": "test"}))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.Read(id, stranger)
	assert.ErrorIs(t, err, memory.ErrAccessViolation)

	got, err := s.Read(id, agent)
	require.NoError(t, err)
	assert.Equal(t, "cache warm", got.Content["note"])
	assert.Equal(t, []string{"cache"}, got.Tags)
	assert.Equal(t, "a1", got.CreatedBy)
	require.Len(t, got.Provenance, 2)
	assert.Equal(t, memory.EventCreated, got.Provenance[0].EventType)
	assert.Equal(t, memory.EventAccessed, got.Provenance[1].EventType)

	// The returned entry is a copy.
	got.Content["note"] = "tampered"
	again, err := s.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, "cache warm", again.Content["note"])
}

func TestWriteRejectsForeignTier(t *testing.T) {
	ac := access.NewController()
	s, err := New(ac)
	require.NoError(t, err)
	agent := register(t, ac, "a1", memory.TierAgent, "p1")

	_, err = s.Write(map[string]any{"x": "y"}, memory.GaiaScope(), agent)
	assert.ErrorIs(t, err, memory.ErrAccessViolation)
	_, err = s.Write(map[string]any{"x": "y"}, projectScope(t, "p1"), agent)
	assert.ErrorIs(t, err, memory.ErrAccessViolation)
	assert.Zero(t, s.Count(memory.TierGaia)+s.Count(memory.TierProject))

	_, err = s.Write(map[string]any{"x": "y"}, memory.Scope{Level: memory.TierProject}, agent)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestUpdateAndDelete(t *testing.T) {
	ac := access.NewController()
	s, err := New(ac)
	require.NoError(t, err)
	lead := register(t, ac, "lead", memory.TierProject, "p1")
	other := register(t, ac, "lead2", memory.TierProject, "p2")

	id, err := s.Write(map[string]any{"v": "1"}, projectScope(t, "p1"), lead, WithTags("keep"))
	require.NoError(t, err)

	err = s.Update(id, map[string]any{"v": "2"}, other)
	assert.ErrorIs(t, err, memory.ErrAccessViolation)

	require.NoError(t, s.Update(id, map[string]any{"v": "2"}, lead))
	e, err := s.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, "2", e.Content["v"])
	assert.Equal(t, []string{"keep"}, e.Tags, "tags survive when not given")
	last, ok := e.LastEvent()
	require.True(t, ok)
	assert.Equal(t, memory.EventUpdated, last.EventType)
	assert.Equal(t, []any{"content"}, last.Details["updated_fields"])

	require.NoError(t, s.Update(id, map[string]any{"v": "3"}, lead, WithTags()))
	e, _ = s.Lookup(id)
	assert.Empty(t, e.Tags)

	assert.ErrorIs(t, s.Delete(id, other), memory.ErrAccessViolation)
	require.NoError(t, s.Delete(id, lead))
	_, err = s.Read(id, lead)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	assert.ErrorIs(t, s.Delete(id, lead), memory.ErrNotFound)
	assert.ErrorIs(t, s.Update("missing", nil, lead), memory.ErrNotFound)
}

func TestCleanupExpiredAgentMemory(t *testing.T) {
	ac := access.NewController()
	s, err := New(ac)
	require.NoError(t, err)
	agent := register(t, ac, "a1", memory.TierAgent, "p1")

	expiring, err := s.Write(map[string]any{"k": "v"}, agentScope(t, "p1", "a1", 0), agent)
	require.NoError(t, err)
	_, err = s.Write(map[string]any{"k": "v"}, agentScope(t, "p1", "a1", time.Hour), agent)
	require.NoError(t, err)

	e, err := s.Lookup(expiring)
	require.NoError(t, err)
	assert.True(t, e.IsExpired())

	removed, err := s.CleanupExpiredAgentMemory()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = s.CleanupExpiredAgentMemory()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, s.Count(memory.TierAgent))
}

func TestCleanupUsesClock(t *testing.T) {
	ac := access.NewController()
	now := time.Now()
	s, err := New(ac, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	agent := register(t, ac, "a1", memory.TierAgent, "p1")

	_, err = s.Write(map[string]any{"k": "v"}, agentScope(t, "p1", "a1", time.Minute), agent)
	require.NoError(t, err)

	removed, _ := s.CleanupExpiredAgentMemory()
	assert.Zero(t, removed)

	now = now.Add(2 * time.Minute)
	removed, _ = s.CleanupExpiredAgentMemory()
	assert.Equal(t, 1, removed)
}

func TestViews(t *testing.T) {
	ac := access.NewController()
	s, err := New(ac)
	require.NoError(t, err)
	root := register(t, ac, "root", memory.TierGaia, "")
	lead := register(t, ac, "lead", memory.TierProject, "p1")
	a1 := register(t, ac, "a1", memory.TierAgent, "p1")
	a2 := register(t, ac, "a2", memory.TierAgent, "p1")

	_, err = s.Write(map[string]any{"g": "1"}, memory.GaiaScope(), root)
	require.NoError(t, err)
	_, err = s.Write(map[string]any{"p": "1"}, projectScope(t, "p1"), lead)
	require.NoError(t, err)
	_, err = s.Write(map[string]any{"a": "1"}, agentScope(t, "p1", "a1", time.Hour), a1)
	require.NoError(t, err)
	_, err = s.Write(map[string]any{"a": "2"}, agentScope(t, "p1", "a2", time.Hour), a2)
	require.NoError(t, err)

	assert.Len(t, s.GaiaEntries(), 1)
	assert.Len(t, s.ProjectEntries("p1"), 1)
	assert.Empty(t, s.ProjectEntries("p2"))
	assert.Len(t, s.AgentEntries("a1"), 1)
	assert.Equal(t, 2, s.Count(memory.TierAgent))
}

func TestDurableRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ac := access.NewController()
	s, err := Open(dir, ac)
	require.NoError(t, err)

	root := register(t, ac, "root", memory.TierGaia, "")
	lead := register(t, ac, "lead", memory.TierProject, "p1")

	gid, err := s.Write(map[string]any{"rule": "never skip a tier", "weight": 0.5}, memory.GaiaScope(), root, WithTags("policy"))
	require.NoError(t, err)
	pid, err := s.Write(map[string]any{"nested": map[string]any{"list": []any{"a", "b"}}}, projectScope(t, "p1"), lead)
	require.NoError(t, err)
	_, err = s.Read(pid, lead)
	require.NoError(t, err)

	wantG, _ := s.Lookup(gid)
	wantP, _ := s.Lookup(pid)
	require.NoError(t, s.Close())

	reopened := openStore(t, dir, access.NewController())
	gotG, err := reopened.Lookup(gid)
	require.NoError(t, err)
	gotP, err := reopened.Lookup(pid)
	require.NoError(t, err)

	if diff := cmp.Diff(wantG, gotG); diff != "" {
		t.Errorf("gaia entry mismatch after reload (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantP, gotP); diff != "" {
		t.Errorf("project entry mismatch after reload (-want +got):\n%s", diff)
	}
	assert.Len(t, gotP.Provenance, 2, "accessed event is persisted")

	_, err = os.Stat(filepath.Join(dir, GaiaFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ProjectsDir, "p1.jsonl"))
	assert.NoError(t, err)
}

func TestAtomicReplaceLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	ac := access.NewController()
	s := openStore(t, dir, ac)
	lead := register(t, ac, "lead", memory.TierProject, "p1")

	for i := 0; i < 5; i++ {
		_, err := s.Write(map[string]any{"i": float64(i)}, projectScope(t, "p1"), lead)
		require.NoError(t, err)
	}

	projFiles, err := os.ReadDir(filepath.Join(dir, ProjectsDir))
	require.NoError(t, err)
	require.Len(t, projFiles, 1)
	assert.Equal(t, "p1.jsonl", projFiles[0].Name())

	data, err := os.ReadFile(filepath.Join(dir, ProjectsDir, "p1.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 5)

	rootFiles, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, f := range rootFiles {
		assert.False(t, strings.HasSuffix(f.Name(), ".tmp"), "leftover temp file %s", f.Name())
	}
}

func TestSingleWriterLock(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir, access.NewController())
	require.NoError(t, err)

	pid, err := LockHolder(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = Open(dir, access.NewController())
	assert.True(t, errors.Is(err, ErrLocked), "got %v", err)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := Open(dir, access.NewController())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestBreakLock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, LockFile), []byte("999999\n"), 0o600))

	_, err := Open(dir, access.NewController())
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, BreakLock(dir))
	s, err := Open(dir, access.NewController())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestProjectLogRejectsTraversal(t *testing.T) {
	b, err := NewProjectLog(t.TempDir())
	require.NoError(t, err)

	for _, pid := range []string{"../escape", "a/b", `a\b`, ".."} {
		e := &memory.Entry{ID: "x", Scope: memory.Scope{Level: memory.TierProject, ProjectID: pid}}
		err := b.Commit([]*memory.Entry{e}, nil)
		assert.ErrorIs(t, err, memory.ErrValidation, "project id %q", pid)
	}
	assert.Empty(t, b.Entries())
}

func TestCorruptLogFailsLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, GaiaFile), []byte("{not json}\n"), 0o600))

	_, err := NewGaiaLog(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")

	// The failed open must not leave the directory locked.
	_, err = Open(dir, access.NewController())
	require.Error(t, err)
	holder, _ := LockHolder(dir)
	assert.Zero(t, holder)
}

func TestAtomicCommitsOnlyOnSuccess(t *testing.T) {
	ac := access.NewController()
	s, err := New(ac)
	require.NoError(t, err)
	lead := register(t, ac, "lead", memory.TierProject, "p1")
	id, err := s.Write(map[string]any{"v": "1"}, projectScope(t, "p1"), lead)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Atomic(func(tx *Tx) error {
		e, err := tx.Get(id)
		if err != nil {
			return err
		}
		e.Content["v"] = "2"
		if err := tx.Put(e); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	e, _ := s.Lookup(id)
	assert.Equal(t, "1", e.Content["v"])

	require.NoError(t, s.Atomic(func(tx *Tx) error {
		e, err := tx.Get(id)
		if err != nil {
			return err
		}
		e.Content["v"] = "2"
		if err := tx.Put(e); err != nil {
			return err
		}
		staged, err := tx.Get(id)
		if err != nil {
			return err
		}
		assert.Equal(t, "2", staged.Content["v"])

		copyEntry, err := memory.NewEntry(e.Content, memory.GaiaScope(), "root", nil, nil)
		if err != nil {
			return err
		}
		return tx.Put(copyEntry)
	}))
	e, _ = s.Lookup(id)
	assert.Equal(t, "2", e.Content["v"])
	assert.Equal(t, 1, s.Count(memory.TierGaia))
}

func TestTxPutCannotMoveTiers(t *testing.T) {
	ac := access.NewController()
	s, err := New(ac)
	require.NoError(t, err)
	lead := register(t, ac, "lead", memory.TierProject, "p1")
	id, err := s.Write(map[string]any{"v": "1"}, projectScope(t, "p1"), lead)
	require.NoError(t, err)

	err = s.Atomic(func(tx *Tx) error {
		e, err := tx.Get(id)
		if err != nil {
			return err
		}
		e.Scope = memory.GaiaScope()
		return tx.Put(e)
	})
	assert.ErrorIs(t, err, memory.ErrValidation)

	err = s.Atomic(func(tx *Tx) error {
		if err := tx.Delete(id); err != nil {
			return err
		}
		_, err := tx.Get(id)
		return err
	})
	assert.ErrorIs(t, err, memory.ErrNotFound)
	_, err = s.Lookup(id)
	assert.NoError(t, err, "failed transaction keeps the entry")
}

func TestReadJSONLSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	type rec struct {
		N int `json:"n"`
	}
	require.NoError(t, WriteJSONL(path, []rec{{1}, {2}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, []byte("\n\n")...), 0o600))

	got, err := ReadJSONL[rec](path)
	require.NoError(t, err)
	assert.Equal(t, []rec{{1}, {2}}, got)

	missing, err := ReadJSONL[rec](filepath.Join(t.TempDir(), "absent.jsonl"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// flakyBackend fails every Commit while fail is set.
type flakyBackend struct {
	*EphemeralBackend
	fail bool
}

func (b *flakyBackend) Commit(puts []*memory.Entry, deletes []string) error {
	if b.fail {
		return errors.New("disk full")
	}
	return b.EphemeralBackend.Commit(puts, deletes)
}

func TestAtomicRollsBackEarlierBackends(t *testing.T) {
	ac := access.NewController()
	project := &flakyBackend{EphemeralBackend: NewEphemeral(memory.TierProject)}
	s, err := New(ac, WithBackend(project))
	require.NoError(t, err)
	lead := register(t, ac, "lead", memory.TierProject, "p1")
	id, err := s.Write(map[string]any{"v": "1"}, projectScope(t, "p1"), lead)
	require.NoError(t, err)

	existing, err := memory.NewEntry(map[string]any{"v": "old"}, memory.GaiaScope(), "root", nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Atomic(func(tx *Tx) error { return tx.Put(existing) }))

	project.fail = true
	err = s.Atomic(func(tx *Tx) error {
		fresh, err := memory.NewEntry(map[string]any{"v": "copy"}, memory.GaiaScope(), "root", nil, nil)
		if err != nil {
			return err
		}
		if err := tx.Put(fresh); err != nil {
			return err
		}
		changed, err := tx.Get(existing.ID)
		if err != nil {
			return err
		}
		changed.Content["v"] = "new"
		if err := tx.Put(changed); err != nil {
			return err
		}
		src, err := tx.Get(id)
		if err != nil {
			return err
		}
		src.Content["v"] = "2"
		return tx.Put(src)
	})
	require.EqualError(t, err, "disk full")

	gaia := s.GaiaEntries()
	require.Len(t, gaia, 1, "entry created in the gaia backend is removed again")
	assert.Equal(t, "old", gaia[0].Content["v"])
	e, err := s.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, "1", e.Content["v"])
}

func TestProjectLogRestoresPartitionsOnFailure(t *testing.T) {
	dir := t.TempDir()
	b, err := NewProjectLog(dir)
	require.NoError(t, err)

	p1 := projectScope(t, "p1")
	original, err := memory.NewEntry(map[string]any{"v": "1"}, p1, "lead", nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Commit([]*memory.Entry{original}, nil))

	// A directory in place of p2's log makes its rename fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, ProjectsDir, "p2.jsonl"), 0o750))

	changed := original.Clone()
	changed.Content["v"] = "2"
	other, err := memory.NewEntry(map[string]any{"v": "x"}, projectScope(t, "p2"), "lead2", nil, nil)
	require.NoError(t, err)
	require.Error(t, b.Commit([]*memory.Entry{changed, other}, nil))

	got, ok := b.Get(original.ID)
	require.True(t, ok)
	assert.Equal(t, "1", got.Content["v"])

	reloaded, err := NewProjectLog(dir)
	require.NoError(t, err)
	got, ok = reloaded.Get(original.ID)
	require.True(t, ok)
	assert.Equal(t, "1", got.Content["v"], "p1's log is rewritten with the committed entries")
}

func TestDeleteLeavesTombstone(t *testing.T) {
	dir := t.TempDir()
	hooks, err := telemetry.New(dir)
	require.NoError(t, err)

	ac := access.NewController()
	s, err := New(ac, WithTelemetry(hooks))
	require.NoError(t, err)
	lead := register(t, ac, "lead", memory.TierProject, "p1")
	id, err := s.Write(map[string]any{"v": "1"}, projectScope(t, "p1"), lead)
	require.NoError(t, err)
	require.NoError(t, s.Delete(id, lead))
	require.NoError(t, hooks.Close())

	data, err := os.ReadFile(filepath.Join(dir, telemetry.OperationsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	last := lines[len(lines)-1]
	assert.Contains(t, last, `"event_type":"`+telemetry.TombstoneEvent+`"`)
	assert.Contains(t, last, `"memory_id":"`+id+`"`)
	assert.Contains(t, last, `"event_type":"deleted"`)
}
