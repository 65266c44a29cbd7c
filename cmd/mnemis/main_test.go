package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/entrhq/mnemis/pkg/memory"
	"github.com/entrhq/mnemis/pkg/memory/access"
	"github.com/entrhq/mnemis/pkg/memory/store"
	"github.com/entrhq/mnemis/pkg/memory/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type env struct {
	t      *testing.T
	dir    string
	config string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	t.Setenv("HOME", root)
	t.Setenv("MNEMIS_LOG_DIR", filepath.Join(root, "logs"))
	return &env{t: t, dir: filepath.Join(root, "data"), config: filepath.Join(root, "config.json")}
}

// run executes one mnemis invocation, like a separate process would.
func (e *env) run(args ...string) (string, error) {
	e.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.config, "--dir", e.dir}, args...))
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func (e *env) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

var (
	lead = []string{"--agent", "lead", "--level", "project", "--project", "p1"}
	root = []string{"--agent", "root", "--level", "gaia"}
)

func as(who []string, args ...string) []string {
	return append(append([]string{}, who...), args...)
}

func TestPromotionAcrossInvocations(t *testing.T) {
	e := newEnv(t)

	id := e.mustRun(as(lead, "write", "--content", `{"rule":"pin base images"}`, "--tags", "docker,supply-chain")...)
	require.NotEmpty(t, id)

	var entry memory.Entry
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(as(lead, "read", id)...)), &entry))
	assert.Equal(t, "pin base images", entry.Content["rule"])
	assert.Equal(t, []string{"docker", "supply-chain"}, entry.Tags)
	assert.Equal(t, memory.EventAccessed, entry.Provenance[len(entry.Provenance)-1].EventType)

	proposalID := e.mustRun(as(lead, "propose", id, "--rationale", "every service builds images")...)

	var pending []*memory.Proposal
	require.NoError(t, json.Unmarshal([]byte(e.mustRun("pending", "--tier", "gaia")), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, proposalID, pending[0].ID)

	promoted := e.mustRun("--agent", "architect", "approve", proposalID, "--notes", "agreed")

	var gaia memory.Entry
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(as(root, "read", promoted)...)), &gaia))
	assert.Equal(t, id, gaia.PromotedFrom)
	assert.Equal(t, memory.TierGaia, gaia.Scope.Level)

	var chain []*memory.Entry
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(as(root, "lineage", promoted)...)), &chain))
	require.Len(t, chain, 2)
	assert.Equal(t, id, chain[0].ID)

	var found []*memory.Entry
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(as(root, "search", "--tag", "docker", "--tier", "gaia")...)), &found))
	require.Len(t, found, 1)
	assert.Equal(t, promoted, found[0].ID)

	require.NoError(t, json.Unmarshal([]byte(e.mustRun("pending")), &pending))
	assert.Empty(t, pending)

	_, err := os.Stat(filepath.Join(e.dir, "telemetry", telemetry.OperationsFile))
	assert.NoError(t, err)
}

func TestAccessViolationsSurface(t *testing.T) {
	e := newEnv(t)
	id := e.mustRun(as(lead, "write", "--content", `{"k":"v"}`)...)

	_, err := e.run("--agent", "other", "--level", "project", "--project", "p2", "read", id)
	assert.ErrorIs(t, err, memory.ErrAccessViolation)

	_, err = e.run("--agent", "a1", "--project", "p1", "read", id)
	assert.ErrorIs(t, err, memory.ErrAccessViolation, "agent contracts cannot read project memory")

	_, err = e.run(as(root, "propose", "x", "--rationale", "r")...)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestReviewerPolicyFromConfig(t *testing.T) {
	e := newEnv(t)
	cfg := `{"version":"1.0","sections":{"review":{"gaia_reviewers":["arch-*"]}}}`
	require.NoError(t, os.WriteFile(e.config, []byte(cfg), 0o600))

	id := e.mustRun(as(lead, "write", "--content", `{"k":"v"}`)...)
	pid := e.mustRun(as(lead, "propose", id, "--rationale", "share it")...)

	_, err := e.run("--agent", "intern", "approve", pid)
	assert.ErrorIs(t, err, memory.ErrAccessViolation)
	e.mustRun("--agent", "arch-jo", "approve", pid)
}

func TestRejectNeedsNotes(t *testing.T) {
	e := newEnv(t)
	id := e.mustRun(as(lead, "write", "--content", `{"k":"v"}`)...)
	pid := e.mustRun(as(lead, "propose", id, "--rationale", "share it")...)

	_, err := e.run("--agent", "arch", "reject", pid)
	assert.Error(t, err)

	e.mustRun("--agent", "arch", "reject", pid, "--notes", "too specific")
	_, err = e.run("--agent", "arch", "approve", pid)
	assert.ErrorIs(t, err, memory.ErrValidation, "decided proposals are terminal")
}

func TestWriteFromYAMLFileAndUpdate(t *testing.T) {
	e := newEnv(t)
	doc := filepath.Join(t.TempDir(), "entry.yaml")
	require.NoError(t, os.WriteFile(doc, []byte(`
content:
  title: Cache layout
  shards: 4
tags: [cache]
metadata:
  source: design-review
`), 0o600))

	id := e.mustRun(as(lead, "write", "--file", doc)...)

	var entry memory.Entry
	require.NoError(t, yaml.Unmarshal([]byte(e.mustRun(as(lead, "--output", "yaml", "read", id)...)), &entry))
	assert.Equal(t, "Cache layout", entry.Content["title"])
	assert.Equal(t, []string{"cache"}, entry.Tags)
	assert.Equal(t, "design-review", entry.Metadata["source"])

	e.mustRun(as(lead, "update", id, "--content", `{"title":"Cache layout v2"}`)...)
	require.NoError(t, json.Unmarshal([]byte(e.mustRun(as(lead, "read", id)...)), &entry))
	assert.Equal(t, "Cache layout v2", entry.Content["title"])
	assert.Equal(t, []string{"cache"}, entry.Tags, "tags survive an update without --tags")

	out := e.mustRun(as(lead, "show", id)...)
	assert.Contains(t, out, "Cache layout v2")

	e.mustRun(as(lead, "delete", id)...)
	_, err := e.run(as(lead, "read", id)...)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestAgentWritesAreBounded(t *testing.T) {
	e := newEnv(t)
	agent := []string{"--agent", "a1", "--project", "p1"}

	id := e.mustRun(as(agent, "write", "--content", `{"k":"v"}`, "--ttl", "5m")...)
	assert.NotEmpty(t, id)

	_, err := e.run(as(agent, "write", "--content", `{"k":"v"}`, "--ttl", "48h")...)
	assert.ErrorIs(t, err, memory.ErrValidation)

	assert.Equal(t, "removed 0 expired entries", e.mustRun("cleanup"))
}

func TestInputErrors(t *testing.T) {
	e := newEnv(t)

	_, err := e.run("write", "--content", `{"k":"v"}`)
	assert.ErrorContains(t, err, "--agent")

	_, err = e.run(as(lead, "write")...)
	assert.Error(t, err)

	_, err = e.run(as(lead, "write", "--content", `[1,2]`)...)
	assert.Error(t, err)

	_, err = e.run(as(lead, "--output", "xml", "pending")...)
	assert.Error(t, err)

	_, err = e.run(as(lead, "search", "--since", "yesterday")...)
	assert.Error(t, err)

	_, err = e.run("pending", "--tier", "agent")
	assert.Error(t, err)
}

func TestLockedDirectory(t *testing.T) {
	e := newEnv(t)
	held, err := store.Open(e.dir, access.NewController())
	require.NoError(t, err)

	_, err = e.run("pending")
	assert.ErrorIs(t, err, store.ErrLocked)

	require.NoError(t, held.Close())
	assert.Equal(t, "not locked", e.mustRun("unlock"))

	_, err = store.Open(e.dir, access.NewController())
	require.NoError(t, err)
	assert.Contains(t, e.mustRun("unlock"), "removed lock")
	e.mustRun("pending")
}
