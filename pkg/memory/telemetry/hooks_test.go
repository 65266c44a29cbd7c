package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "line %q is not JSON", sc.Text())
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestHooksWriteJSONLines(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir)
	require.NoError(t, err)

	h.Operation(OpWrite, "m1", "a1", memory.TierAgent, memory.TierAgent, true)
	h.Cleanup(2)
	h.AccessViolation("a1", memory.TierAgent, "write", memory.AccessViolationf("write", "cannot write to gaia memory"))

	from, _ := memory.AgentScope("p1", "a1", time.Hour)
	to, _ := memory.ProjectScope("p1")
	p, err := memory.NewProposal("m1", from, to, "worth keeping", "a1")
	require.NoError(t, err)
	h.PromotionProposed(p)
	require.NoError(t, p.Approve("alice", "ok", time.Now()))
	h.PromotionDecision(p, "m2")

	require.NoError(t, h.Close())

	ops := readLines(t, filepath.Join(dir, OperationsFile))
	require.Len(t, ops, 2)
	assert.Equal(t, "memory_write", ops[0]["event_type"])
	assert.Equal(t, "m1", ops[0]["memory_id"])
	assert.Equal(t, true, ops[0]["success"])
	assert.NotEmpty(t, ops[0]["timestamp"])
	assert.Equal(t, "memory_cleanup", ops[1]["event_type"])

	violations := readLines(t, filepath.Join(dir, ViolationsFile))
	require.Len(t, violations, 1)
	assert.Equal(t, "access_violation", violations[0]["event_type"])
	assert.Equal(t, "cannot write to gaia memory", violations[0]["reason"])

	promotions := readLines(t, filepath.Join(dir, PromotionsFile))
	require.Len(t, promotions, 2)
	assert.Equal(t, "promotion_proposed", promotions[0]["event_type"])
	assert.Equal(t, "promotion_approved", promotions[1]["event_type"])
	assert.Equal(t, "m2", promotions[1]["promoted_memory_id"])
}

func TestNilHooksAreNoOps(t *testing.T) {
	var h *Hooks
	h.Operation(OpRead, "m", "a", memory.TierGaia, memory.TierGaia, true)
	h.Cleanup(1)
	h.AccessViolation("a", memory.TierGaia, "read", nil)
	h.PromotionProposed(nil)
	h.PromotionDecision(nil, "")
	h.Tombstone(nil)
	assert.NoError(t, h.Close())
}

func TestTombstoneKeepsProvenance(t *testing.T) {
	dir := t.TempDir()
	h, err := New(dir)
	require.NoError(t, err)

	scope, _ := memory.ProjectScope("p1")
	e, err := memory.NewEntry(map[string]any{"k": "v"}, scope, "lead", nil, nil)
	require.NoError(t, err)
	e.AddProvenanceEvent(memory.EventCreated, "lead", nil)
	e.AddProvenanceEvent(memory.EventDeleted, "lead", map[string]any{"access_level": "project"})
	h.Tombstone(e)
	require.NoError(t, h.Close())

	ops := readLines(t, filepath.Join(dir, OperationsFile))
	require.Len(t, ops, 1)
	assert.Equal(t, TombstoneEvent, ops[0]["event_type"])
	assert.Equal(t, e.ID, ops[0]["memory_id"])
	assert.Equal(t, "p1", ops[0]["project_id"])

	provenance, ok := ops[0]["provenance"].([]any)
	require.True(t, ok, "provenance is a JSON array")
	require.Len(t, provenance, 2)
	last, ok := provenance[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(memory.EventDeleted), last["event_type"])
	assert.Equal(t, "lead", last["actor"])
}
