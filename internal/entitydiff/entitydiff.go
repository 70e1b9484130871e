// Package entitydiff computes the semantic delta between two snapshots'
// entity records, per spec.md §4.8.
package entitydiff

import (
	"sort"

	"github.com/justSteve/claude-config-history/internal/entity"
)

// DeltaKind discriminates the three kinds of entity delta.
type DeltaKind string

const (
	Added    DeltaKind = "added"
	Removed  DeltaKind = "removed"
	Modified DeltaKind = "modified"
)

// McpServerDelta pairs pre/post images of one named MCP server.
type McpServerDelta struct {
	Name   string
	Kind   DeltaKind
	Before *entity.McpServer
	After  *entity.McpServer
}

// ContentDelta pairs pre/post images of one content-backed entity
// (subagent, slash command, or memory scope).
type ContentDelta struct {
	Name          string // entity name, or scope for memory
	Kind          DeltaKind
	BeforeHash    string
	AfterHash     string
	BeforeSource  string
	AfterSource   string
}

// SummaryStats counts adds/removes/modifies per entity kind and overall.
type SummaryStats struct {
	McpServerAdded, McpServerRemoved, McpServerModified       int
	SubagentAdded, SubagentRemoved, SubagentModified          int
	CommandAdded, CommandRemoved, CommandModified             int
	MemoryAdded, MemoryRemoved, MemoryModified                int
}

// Total returns the sum of every add/remove/modify count.
func (s SummaryStats) Total() int {
	return s.McpServerAdded + s.McpServerRemoved + s.McpServerModified +
		s.SubagentAdded + s.SubagentRemoved + s.SubagentModified +
		s.CommandAdded + s.CommandRemoved + s.CommandModified +
		s.MemoryAdded + s.MemoryRemoved + s.MemoryModified
}

// Bundle is the full output of Diff.
type Bundle struct {
	McpServerDeltas []McpServerDelta
	SubagentDeltas  []ContentDelta
	CommandDeltas   []ContentDelta
	MemoryDeltas    []ContentDelta
	Summary         SummaryStats
}

// Diff computes the entity delta between from's and to's entity.Result.
func Diff(from, to entity.Result) Bundle {
	var b Bundle

	b.McpServerDeltas, b.Summary.McpServerAdded, b.Summary.McpServerRemoved, b.Summary.McpServerModified =
		diffMcpServers(from.McpServers, to.McpServers)

	b.SubagentDeltas, b.Summary.SubagentAdded, b.Summary.SubagentRemoved, b.Summary.SubagentModified =
		diffContent(subagentsToMap(from.Subagents), subagentsToMap(to.Subagents))

	b.CommandDeltas, b.Summary.CommandAdded, b.Summary.CommandRemoved, b.Summary.CommandModified =
		diffContent(commandsToMap(from.SlashCommands), commandsToMap(to.SlashCommands))

	b.MemoryDeltas, b.Summary.MemoryAdded, b.Summary.MemoryRemoved, b.Summary.MemoryModified =
		diffContent(memoriesToMap(from.Memories), memoriesToMap(to.Memories))

	return b
}

func diffMcpServers(from, to []entity.McpServer) ([]McpServerDelta, int, int, int) {
	fromByName := make(map[string]entity.McpServer, len(from))
	for _, s := range from {
		fromByName[s.Name] = s
	}

	toByName := make(map[string]entity.McpServer, len(to))
	for _, s := range to {
		toByName[s.Name] = s
	}

	names := unionNames(fromByName, toByName)

	var deltas []McpServerDelta

	var added, removed, modified int

	for _, name := range names {
		before, hasBefore := fromByName[name]
		after, hasAfter := toByName[name]

		switch {
		case !hasBefore:
			deltas = append(deltas, McpServerDelta{Name: name, Kind: Added, After: ptr(after)})
			added++
		case !hasAfter:
			deltas = append(deltas, McpServerDelta{Name: name, Kind: Removed, Before: ptr(before)})
			removed++
		case !before.Equal(after):
			deltas = append(deltas, McpServerDelta{Name: name, Kind: Modified, Before: ptr(before), After: ptr(after)})
			modified++
		}
	}

	return deltas, added, removed, modified
}

type contentEntry struct {
	hash, source string
}

func subagentsToMap(in []entity.Subagent) map[string]contentEntry {
	m := make(map[string]contentEntry, len(in))
	for _, s := range in {
		m[s.Name] = contentEntry{hash: s.ContentHash, source: s.SourcePath}
	}

	return m
}

func commandsToMap(in []entity.SlashCommand) map[string]contentEntry {
	m := make(map[string]contentEntry, len(in))
	for _, s := range in {
		m[s.Name] = contentEntry{hash: s.ContentHash, source: s.SourcePath}
	}

	return m
}

func memoriesToMap(in []entity.Memory) map[string]contentEntry {
	m := make(map[string]contentEntry, len(in))
	for _, s := range in {
		m[string(s.Scope)] = contentEntry{hash: s.ContentHash, source: s.SourcePath}
	}

	return m
}

func diffContent(from, to map[string]contentEntry) ([]ContentDelta, int, int, int) {
	names := unionNames(from, to)

	var deltas []ContentDelta

	var added, removed, modified int

	for _, name := range names {
		before, hasBefore := from[name]
		after, hasAfter := to[name]

		switch {
		case !hasBefore:
			deltas = append(deltas, ContentDelta{Name: name, Kind: Added, AfterHash: after.hash, AfterSource: after.source})
			added++
		case !hasAfter:
			deltas = append(deltas, ContentDelta{Name: name, Kind: Removed, BeforeHash: before.hash, BeforeSource: before.source})
			removed++
		case before.hash != after.hash:
			deltas = append(deltas, ContentDelta{
				Name: name, Kind: Modified,
				BeforeHash: before.hash, AfterHash: after.hash,
				BeforeSource: before.source, AfterSource: after.source,
			})
			modified++
		}
	}

	return deltas, added, removed, modified
}

func unionNames[T any](a, b map[string]T) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}

	for k := range b {
		seen[k] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}

	sort.Strings(names)

	return names
}

func ptr[T any](v T) *T { return &v }
