// Package entity parses and represents the four high-level domain objects
// extracted from scanned configuration files: MCP servers, subagents,
// slash commands, and memory files (spec.md §4.6).
package entity

// EnvPair is one entry of an order-preserving, duplicate-preserving
// environment sequence. It is deliberately not a map: spec.md §3 requires
// env to be "an ordered sequence of pairs, not a mapping".
type EnvPair struct {
	Key   string
	Value string
}

// McpServer is a parsed MCP server configuration entry.
type McpServer struct {
	Name       string
	Command    string
	Args       []string
	Env        []EnvPair
	Enabled    bool
	SourcePath string
}

// Equal reports whether two McpServer records carry identical payloads,
// per spec.md §4.8's order-sensitive equality rule. Name and SourcePath are
// identity/provenance, not payload, and are excluded.
func (m McpServer) Equal(o McpServer) bool {
	if m.Command != o.Command || m.Enabled != o.Enabled {
		return false
	}

	if len(m.Args) != len(o.Args) {
		return false
	}

	for i := range m.Args {
		if m.Args[i] != o.Args[i] {
			return false
		}
	}

	if len(m.Env) != len(o.Env) {
		return false
	}

	for i := range m.Env {
		if m.Env[i] != o.Env[i] {
			return false
		}
	}

	return true
}

// Subagent is a parsed subagent definition file.
type Subagent struct {
	Name         string
	ContentHash  string
	SourcePath   string
}

// SlashCommand is a parsed slash command definition file.
type SlashCommand struct {
	Name        string
	ContentHash string
	SourcePath  string
}

// Scope identifies which logical location a Memory record was captured
// from. Derived strictly from the logical-location id, never from a
// substring check on the resolved path (spec.md §9 Open Question).
type Scope string

const (
	ScopeUser       Scope = "user"
	ScopeProject    Scope = "project"
	ScopeEnterprise Scope = "enterprise"
)

// Memory is a parsed CLAUDE.md memory file.
type Memory struct {
	Scope       Scope
	ContentHash string
	SourcePath  string
}

// ParseError is a structured annotation attached to the snapshot when a
// source file could not be parsed, per spec.md §4.6/§7 category 4: it never
// aborts the snapshot, it just produces zero records for that source.
type ParseError struct {
	SourcePath string
	Reason     string
}

// Result bundles everything the parser extracted from one scan.
type Result struct {
	McpServers    []McpServer
	Subagents     []Subagent
	SlashCommands []SlashCommand
	Memories      []Memory
	ParseErrors   []ParseError
}
