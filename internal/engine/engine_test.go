package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justSteve/claude-config-history/internal/config"
	"github.com/justSteve/claude-config-history/internal/engine"
)

func newTestEngine(t *testing.T, doc config.Document) *engine.Engine {
	t.Helper()

	e, err := engine.Open(context.Background(), ":memory:", doc, "linux", nil)
	require.NoError(t, err)

	t.Cleanup(func() { e.Close() })

	return e
}

func singleLocationDoc(id, category, path string) config.Document {
	return config.Document{Locations: []config.Location{{
		ID: id, Category: category, Template: path,
	}}}
}

func TestCreateSnapshotBaselineThenUnchangedRescan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))

	e := newTestEngine(t, singleLocationDoc("user-settings", "mcp", path))
	ctx := context.Background()

	first, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)
	require.True(t, first.Baseline)

	second, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)
	require.False(t, second.Baseline)
	require.False(t, second.ChangedFromPrevious)
}

func TestCreateSnapshotModificationIsDetected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))

	e := newTestEngine(t, singleLocationDoc("user-settings", "mcp", path))
	ctx := context.Background()

	_, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"x":{"command":"y"}}}`), 0o644))

	second, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)
	require.True(t, second.ChangedFromPrevious)

	detail, err := e.GetSnapshot(ctx, second.ID, engine.IncludeRelations{Changes: true, Entities: true})
	require.NoError(t, err)
	require.Len(t, detail.Changes, 1)
	require.Len(t, detail.Entities.McpServers, 1)
}

func TestMcpServerAddRemoveReflectedInCompare(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"a":{"command":"one"}}}`), 0o644))

	e := newTestEngine(t, singleLocationDoc("user-settings", "mcp", path))
	ctx := context.Background()

	first, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{"b":{"command":"two"}}}`), 0o644))

	second, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)

	cmp, err := e.CompareSnapshots(ctx, first.ID, second.ID)
	require.NoError(t, err)
	require.Equal(t, 1, cmp.EntityDeltas.Summary.McpServerAdded)
	require.Equal(t, 1, cmp.EntityDeltas.Summary.McpServerRemoved)
}

func TestSubagentContentChangeProducesModifiedDelta(t *testing.T) {
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, "agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))
	path := filepath.Join(agentsDir, "reviewer.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	e := newTestEngine(t, singleLocationDoc("user-agents", "subagent", agentsDir))
	ctx := context.Background()

	first, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("v2, quite different now"), 0o644))

	second, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)

	cmp, err := e.CompareSnapshots(ctx, first.ID, second.ID)
	require.NoError(t, err)
	require.Equal(t, 1, cmp.EntityDeltas.Summary.SubagentModified)
}

func TestDeleteSnapshotReclaimsUnreferencedBlobs(t *testing.T) {
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, "agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))
	path := filepath.Join(agentsDir, "reviewer.md")
	require.NoError(t, os.WriteFile(path, []byte("unique content"), 0o644))

	e := newTestEngine(t, singleLocationDoc("user-agents", "subagent", agentsDir))
	ctx := context.Background()

	snap, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)

	statsBefore, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Greater(t, statsBefore.Content.DistinctBlobs, int64(0))

	require.NoError(t, e.DeleteSnapshot(ctx, snap.ID))

	_, err = e.GetSnapshot(ctx, snap.ID, engine.IncludeRelations{})
	require.ErrorIs(t, err, engine.ErrNotFound)

	statsAfter, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), statsAfter.Content.DistinctBlobs)
}

func TestTagsAndAnnotationsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))

	e := newTestEngine(t, singleLocationDoc("user-settings", "mcp", path))
	ctx := context.Background()

	snap, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)

	require.NoError(t, e.AddTag(ctx, snap.ID, "release", "tester"))
	annID, err := e.AddAnnotation(ctx, snap.ID, "known good", "tester")
	require.NoError(t, err)

	detail, err := e.GetSnapshot(ctx, snap.ID, engine.IncludeRelations{Tags: true, Annotations: true})
	require.NoError(t, err)
	require.Len(t, detail.Tags, 1)
	require.Equal(t, "release", detail.Tags[0].Name)
	require.Len(t, detail.Annotations, 1)

	require.NoError(t, e.RemoveTag(ctx, snap.ID, "release"))
	require.NoError(t, e.RemoveAnnotation(ctx, annID))

	detail, err = e.GetSnapshot(ctx, snap.ID, engine.IncludeRelations{Tags: true, Annotations: true})
	require.NoError(t, err)
	require.Empty(t, detail.Tags)
	require.Empty(t, detail.Annotations)
}

func TestListSnapshotsFiltersByTrigger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers":{}}`), 0o644))

	e := newTestEngine(t, singleLocationDoc("user-settings", "mcp", path))
	ctx := context.Background()

	_, err := e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester"})
	require.NoError(t, err)
	_, err = e.CreateSnapshot(ctx, engine.CreateSnapshotRequest{Trigger: "scheduled", Originator: "tester"})
	require.NoError(t, err)

	res, err := e.ListSnapshots(ctx, engine.ListFilter{Trigger: "scheduled"}, engine.Sort{}, engine.Page{})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	require.Equal(t, "scheduled", res.Snapshots[0].Trigger)
}

func TestOverCapFileUnchangedRescanIsNotChangedFromPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	body := []byte(`{"mcpServers":{"a":{"command":"one, with enough bytes to exceed a tiny cap"}}}`)
	require.NoError(t, os.WriteFile(path, body, 0o644))

	e := newTestEngine(t, singleLocationDoc("user-settings", "mcp", path))
	ctx := context.Background()

	req := engine.CreateSnapshotRequest{Trigger: "manual", Originator: "tester", SizeCap: 16}

	first, err := e.CreateSnapshot(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Baseline)
	require.EqualValues(t, 16, first.ContentCapBytes)

	second, err := e.CreateSnapshot(ctx, req)
	require.NoError(t, err)
	require.False(t, second.ChangedFromPrevious)

	cmp, err := e.CompareSnapshots(ctx, first.ID, second.ID)
	require.NoError(t, err)
	require.Empty(t, cmp.PathChanges)
}

func TestCreateSnapshotContentOverflowsToBlobDir(t *testing.T) {
	dir := t.TempDir()
	agentsDir := filepath.Join(dir, "agents")
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))

	large := make([]byte, 64*1024)
	for i := range large {
		large[i] = byte('a' + i%26)
	}
	require.NoError(t, os.WriteFile(filepath.Join(agentsDir, "reviewer.md"), large, 0o644))

	dbPath := filepath.Join(dir, "history.db")
	e, err := engine.Open(context.Background(), dbPath, singleLocationDoc("user-agents", "subagent", agentsDir), "linux", nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	_, err = e.CreateSnapshot(context.Background(), engine.CreateSnapshotRequest{
		Trigger: "manual", Originator: "tester", SizeCap: int64(len(large)) * 2,
	})
	require.NoError(t, err)

	var overflowFiles int

	require.NoError(t, filepath.WalkDir(e.Content.Dir.Root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			overflowFiles++
		}

		return nil
	}))

	require.Greater(t, overflowFiles, 0)
}

func TestHealthReportsOK(t *testing.T) {
	e := newTestEngine(t, singleLocationDoc("user-settings", "mcp", filepath.Join(t.TempDir(), "settings.json")))

	status := e.Health(context.Background())
	require.True(t, status.OK)
	require.Equal(t, "ok", status.Checks["database"])
}
