package entity_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justSteve/claude-config-history/internal/entity"
)

func TestParseMcpServersHappyPath(t *testing.T) {
	res := entity.Parse([]entity.SourceFile{
		{
			LocationID: "user-settings", Category: "mcp", Path: "/home/alice/.claude.json",
			Data: []byte(`{"mcpServers": {"fs": {"command": "npx", "args": ["-y","server"], "env": {"A":"1"}}}}`),
		},
	})

	require.Empty(t, res.ParseErrors)
	require.Len(t, res.McpServers, 1)
	require.Equal(t, "fs", res.McpServers[0].Name)
	require.Equal(t, "npx", res.McpServers[0].Command)
	require.True(t, res.McpServers[0].Enabled)
	require.Equal(t, []entity.EnvPair{{Key: "A", Value: "1"}}, res.McpServers[0].Env)
}

func TestParseMcpServersNonObjectProducesAnnotationAndNoRecords(t *testing.T) {
	res := entity.Parse([]entity.SourceFile{
		{LocationID: "user-settings", Category: "mcp", Path: "/x/.claude.json", Data: []byte(`{"mcpServers": "nope"}`)},
	})

	require.Empty(t, res.McpServers)
	require.Len(t, res.ParseErrors, 1)
}

func TestParseMcpServerSkipsBadSubEntrySiblingsSurvive(t *testing.T) {
	res := entity.Parse([]entity.SourceFile{
		{
			LocationID: "user-settings", Category: "mcp", Path: "/x/.claude.json",
			Data: []byte(`{"mcpServers": {
				"bad": {"command": "python", "args": "not-a-list"},
				"good": {"command": "python", "args": ["-m","s"]}
			}}`),
		},
	})

	require.Empty(t, res.ParseErrors)
	require.Len(t, res.McpServers, 1)
	require.Equal(t, "good", res.McpServers[0].Name)
}

func TestParseSubagentPrefersAgentsConventionOverLegacy(t *testing.T) {
	res := entity.Parse([]entity.SourceFile{
		{LocationID: "legacy", Category: "subagent", Path: "/home/alice/.claude/subagents/writer.md", Data: []byte("old body")},
		{LocationID: "current", Category: "subagent", Path: "/home/alice/.claude/agents/writer.md", Data: []byte("new body")},
	})

	require.Len(t, res.Subagents, 1)
	require.Equal(t, "writer", res.Subagents[0].Name)
	require.Contains(t, res.Subagents[0].SourcePath, "/agents/")
}

func TestParseMemoryScopeComesFromLocationNotPathSubstring(t *testing.T) {
	res := entity.Parse([]entity.SourceFile{
		{LocationID: "project-memory", Category: "memory", Scope: entity.ScopeProject, Path: "/work/my.claude/project/CLAUDE.md", Data: []byte("notes")},
	})

	require.Len(t, res.Memories, 1)
	require.Equal(t, entity.ScopeProject, res.Memories[0].Scope)
}

func TestMcpServerEqual(t *testing.T) {
	a := entity.McpServer{Command: "npx", Args: []string{"-y"}, Env: []entity.EnvPair{{Key: "A", Value: "1"}}, Enabled: true}
	b := a
	require.True(t, a.Equal(b))

	b.Args = []string{"-y", "extra"}
	require.False(t, a.Equal(b))
}
