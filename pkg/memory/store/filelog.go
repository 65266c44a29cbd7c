package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/mnemis/pkg/memory"
)

const (
	// GaiaFile holds every GAIA entry.
	GaiaFile = "gaia_memory.jsonl"
	// ProjectsDir holds one <project_id>.jsonl file per project.
	ProjectsDir = "projects"
)

// LogBackend persists a durable tier as newline-delimited JSON.
//
// GAIA entries share a single file. PROJECT entries are partitioned into
// one file per project. A commit rewrites every file it touches and only
// updates the in-memory view once all renames have succeeded.
type LogBackend struct {
	tier    memory.Tier
	dir     string
	entries map[string]*memory.Entry
}

// NewGaiaLog opens (or creates) the GAIA log inside dir.
func NewGaiaLog(dir string) (*LogBackend, error) {
	b := &LogBackend{tier: memory.TierGaia, dir: dir, entries: make(map[string]*memory.Entry)}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("store: init directory %s: %w", dir, err)
	}
	if err := b.loadFile(filepath.Join(dir, GaiaFile), ""); err != nil {
		return nil, err
	}
	return b, nil
}

// NewProjectLog opens (or creates) the per-project logs under
// dir/projects.
func NewProjectLog(dir string) (*LogBackend, error) {
	b := &LogBackend{tier: memory.TierProject, dir: dir, entries: make(map[string]*memory.Entry)}
	projDir := filepath.Join(dir, ProjectsDir)
	if err := os.MkdirAll(projDir, 0o750); err != nil {
		return nil, fmt.Errorf("store: init directory %s: %w", projDir, err)
	}
	files, err := os.ReadDir(projDir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", projDir, err)
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".jsonl" {
			continue
		}
		projectID := strings.TrimSuffix(f.Name(), ".jsonl")
		if err := b.loadFile(filepath.Join(projDir, f.Name()), projectID); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *LogBackend) loadFile(path, projectID string) error {
	entries, err := ReadJSONL[*memory.Entry](path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Scope.Level != b.tier {
			return fmt.Errorf("store: %s: entry %s has level %s", path, e.ID, e.Scope.Level)
		}
		if e.Scope.ProjectID != projectID {
			return fmt.Errorf("store: %s: entry %s belongs to project %q", path, e.ID, e.Scope.ProjectID)
		}
		if _, dup := b.entries[e.ID]; dup {
			return fmt.Errorf("store: %s: duplicate entry id %s", path, e.ID)
		}
		b.entries[e.ID] = e
	}
	debugLog.Debugf("Loaded %d %s entries from %s", len(entries), b.tier, path)
	return nil
}

func (b *LogBackend) Tier() memory.Tier { return b.tier }

func (b *LogBackend) Get(id string) (*memory.Entry, bool) {
	e, ok := b.entries[id]
	return e, ok
}

func (b *LogBackend) Entries() []*memory.Entry {
	out := make([]*memory.Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Commit rewrites the partitions touched by puts and deletes.
func (b *LogBackend) Commit(puts []*memory.Entry, deletes []string) error {
	next := make(map[string]*memory.Entry, len(b.entries)+len(puts))
	for id, e := range b.entries {
		next[id] = e
	}

	touched := make(map[string]bool)
	for _, e := range puts {
		if e.Scope.Level != b.tier {
			return memory.Validationf("commit", "entry %s has level %s, backend holds %s", e.ID, e.Scope.Level, b.tier)
		}
		if _, err := b.pathFor(e.Scope.ProjectID); err != nil {
			return err
		}
		if prev, ok := next[e.ID]; ok {
			touched[b.partition(prev)] = true
		}
		next[e.ID] = e
		touched[b.partition(e)] = true
	}
	for _, id := range deletes {
		if prev, ok := next[id]; ok {
			touched[b.partition(prev)] = true
			delete(next, id)
		}
	}

	byPartition := make(map[string][]*memory.Entry)
	for _, e := range next {
		key := b.partition(e)
		if touched[key] {
			byPartition[key] = append(byPartition[key], e)
		}
	}

	var written []string
	for key := range touched {
		path, err := b.pathFor(key)
		if err != nil {
			b.restore(written)
			return err
		}
		records := byPartition[key]
		sortEntries(records)
		if err := WriteJSONL(path, records); err != nil {
			b.restore(written)
			return err
		}
		written = append(written, key)
	}

	b.entries = next
	return nil
}

// restore rewrites partitions from the committed in-memory view after a
// later partition of the same commit failed.
func (b *LogBackend) restore(keys []string) {
	for _, key := range keys {
		var records []*memory.Entry
		for _, e := range b.entries {
			if b.partition(e) == key {
				records = append(records, e)
			}
		}
		sortEntries(records)
		path, err := b.pathFor(key)
		if err == nil {
			err = WriteJSONL(path, records)
		}
		if err != nil {
			debugLog.Errorf("Failed to restore %s partition %q: %v", b.tier, key, err)
		}
	}
}

func (b *LogBackend) partition(e *memory.Entry) string {
	if b.tier == memory.TierGaia {
		return ""
	}
	return e.Scope.ProjectID
}

// pathFor returns the log file of a partition. Project ids that would
// escape the projects directory are refused.
func (b *LogBackend) pathFor(projectID string) (string, error) {
	if b.tier == memory.TierGaia {
		return filepath.Join(b.dir, GaiaFile), nil
	}
	if projectID == "" || projectID == "." || projectID == ".." ||
		strings.ContainsAny(projectID, `/\`) || strings.Contains(projectID, "..") {
		return "", memory.Validationf("store", "invalid project id %q", projectID)
	}
	dir, err := filepath.Abs(filepath.Join(b.dir, ProjectsDir))
	if err != nil {
		return "", fmt.Errorf("store: abs dir: %w", err)
	}
	resolved := filepath.Join(dir, projectID+".jsonl")
	if !strings.HasPrefix(resolved, dir+string(filepath.Separator)) {
		return "", memory.Validationf("store", "path traversal detected for project %q", projectID)
	}
	return resolved, nil
}
