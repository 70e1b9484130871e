package snapshot_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justSteve/claude-config-history/internal/contentstore"
	"github.com/justSteve/claude-config-history/internal/pathresolver"
	"github.com/justSteve/claude-config-history/internal/snapshot"
	"github.com/justSteve/claude-config-history/internal/store"
)

func newTestWriter(t *testing.T) (*snapshot.Writer, *store.Store) {
	t.Helper()

	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cs := contentstore.New(nil)

	return snapshot.NewWriter(s, cs), s
}

func baseRequest(locs []pathresolver.ResolvedLocation) snapshot.CreateRequest {
	return snapshot.CreateRequest{
		Locations:  locs,
		Trigger:    "manual",
		Originator: "tester",
		OS:         snapshot.OSIdentity{Kind: "linux", Version: "test", Host: "ci"},
		UserName:   "tester",
		WorkingDir: "/work",
	}
}

func TestCreateFirstSnapshotIsBaseline(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), []byte(`{"mcpServers":{}}`), 0o644))

	w, _ := newTestWriter(t)
	locs := []pathresolver.ResolvedLocation{{ID: "user-settings", Category: "mcp", Path: filepath.Join(dir, "settings.json")}}

	snap, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)
	require.True(t, snap.Baseline)
	require.Nil(t, snap.ParentID)
	require.False(t, snap.ChangedFromPrevious)
	require.NotEmpty(t, snap.Fingerprint)
}

func TestCreateUnchangedRescanIsNotChangedFromPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))

	w, _ := newTestWriter(t)
	locs := []pathresolver.ResolvedLocation{{ID: "user-settings", Category: "mcp", Path: path}}

	first, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)

	second, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)

	require.False(t, second.Baseline)
	require.NotNil(t, second.ParentID)
	require.Equal(t, first.ID, *second.ParentID)
	require.False(t, second.ChangedFromPrevious)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
}

func TestCreateModificationIsChangedFromPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))

	w, _ := newTestWriter(t)
	locs := []pathresolver.ResolvedLocation{{ID: "user-settings", Category: "mcp", Path: path}}

	_, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"x":{"command":"y"}}}`), 0o644))

	second, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)
	require.True(t, second.ChangedFromPrevious)
}

func TestCreatePersistsMcpServerRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"fs":{"command":"mcp-fs","args":["--root","/"],"enabled":true}}}`), 0o644))

	w, s := newTestWriter(t)
	locs := []pathresolver.ResolvedLocation{{ID: "user-settings", Category: "mcp", Path: path}}

	snap, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)

	var name, command string
	err = s.DB().QueryRow(`SELECT server_name, command FROM mcp_server_records WHERE snapshot_id = ?`, snap.ID).
		Scan(&name, &command)
	require.NoError(t, err)
	require.Equal(t, "fs", name)
	require.Equal(t, "mcp-fs", command)
}

func TestCreateSubagentContentChangeProducesPathChange(t *testing.T) {
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, "agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))
	path := filepath.Join(agentsDir, "reviewer.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	w, s := newTestWriter(t)
	locs := []pathresolver.ResolvedLocation{{ID: "user-agents", Category: "subagent", Path: agentsDir}}

	first, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2, materially different"), 0o644))

	second, err := w.Create(context.Background(), baseRequest(locs))
	require.NoError(t, err)
	require.True(t, second.ChangedFromPrevious)

	var count int
	err = s.DB().QueryRow(`SELECT COUNT(*) FROM path_changes WHERE to_snapshot_id = ? AND kind = 'modified'`, second.ID).
		Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_ = first
}

func TestCreateSetsContentCapBytesFromRequest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	w, _ := newTestWriter(t)
	locs := []pathresolver.ResolvedLocation{{ID: "user-agents", Category: "subagent", Path: path}}

	req := baseRequest(locs)
	req.SizeCap = 32 * 1024

	snap, err := w.Create(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, int64(32*1024), snap.ContentCapBytes)
}
