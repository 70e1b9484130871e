package entity

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// SourceFile is one file the scanner read, tagged with the logical location
// (and its declared category) it came from. Parse never touches the
// filesystem itself; it operates purely on bytes the scanner already read,
// matching spec.md §9's "replace implicit I/O through attribute access"
// redesign note.
type SourceFile struct {
	LocationID string
	Category   string
	Scope      Scope // only meaningful when Category == "memory"
	Path       string
	Data       []byte
}

// Parse extracts entity records from every recognized source file. Parse
// failures never abort the batch: they become a ParseError in the result
// and the offending source simply contributes zero records (spec.md §4.6,
// §7 category 4).
func Parse(files []SourceFile) Result {
	var res Result

	for _, f := range files {
		switch f.Category {
		case "mcp":
			servers, perr := parseMcpFile(f)
			res.McpServers = append(res.McpServers, servers...)

			if perr != nil {
				res.ParseErrors = append(res.ParseErrors, *perr)
			}
		case "subagent":
			res.Subagents = append(res.Subagents, Subagent{
				Name:       stem(f.Path),
				SourcePath: f.Path,
			})
		case "command":
			res.SlashCommands = append(res.SlashCommands, SlashCommand{
				Name:       stem(f.Path),
				SourcePath: f.Path,
			})
		case "memory":
			res.Memories = append(res.Memories, Memory{
				Scope:      f.Scope,
				SourcePath: f.Path,
			})
		}
	}

	return dedupeBySourcePriority(res)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// rawMcpConfig mirrors the shape of one entry's value under "mcpServers":
// a freeform JSON object whose "command"/"args"/"env"/"enabled" fields are
// decoded permissively, so a malformed single field skips only that entry.
type rawMcpConfig struct {
	Command *string          `json:"command"`
	Args    *json.RawMessage `json:"args"`
	Env     *json.RawMessage `json:"env"`
	Enabled *bool            `json:"enabled"`
}

func parseMcpFile(f SourceFile) ([]McpServer, *ParseError) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(f.Data, &top); err != nil {
		return nil, &ParseError{SourcePath: f.Path, Reason: "invalid top-level JSON: " + err.Error()}
	}

	rawServers, ok := top["mcpServers"]
	if !ok {
		return nil, nil
	}

	var servers map[string]json.RawMessage
	if err := json.Unmarshal(rawServers, &servers); err != nil {
		return nil, &ParseError{SourcePath: f.Path, Reason: "mcpServers is not an object"}
	}

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}

	sortStrings(names)

	var out []McpServer

	for _, name := range names {
		var raw rawMcpConfig
		if err := json.Unmarshal(servers[name], &raw); err != nil {
			continue // malformed sub-entry: skipped, not an abort (spec.md §4.6)
		}

		if raw.Command == nil {
			continue
		}

		args, ok := decodeStringSlice(raw.Args)
		if raw.Args != nil && !ok {
			continue // e.g. "args" given as a string rather than a sequence
		}

		env, ok := decodeEnvPairs(raw.Env)
		if raw.Env != nil && !ok {
			continue
		}

		enabled := true
		if raw.Enabled != nil {
			enabled = *raw.Enabled
		}

		out = append(out, McpServer{
			Name:       name,
			Command:    *raw.Command,
			Args:       args,
			Env:        env,
			Enabled:    enabled,
			SourcePath: f.Path,
		})
	}

	return out, nil
}

func decodeStringSlice(raw *json.RawMessage) ([]string, bool) {
	if raw == nil {
		return nil, true
	}

	var s []string
	if err := json.Unmarshal(*raw, &s); err != nil {
		return nil, false
	}

	return s, true
}

// decodeEnvPairs accepts env encoded either as a JSON object (keys sorted,
// no duplicates possible) or as an array of {"key","value"} objects (order
// and duplicates preserved). Stored records do not pass through here: the
// writer marshals []EnvPair directly and the engine decodes it back.
func decodeEnvPairs(raw *json.RawMessage) ([]EnvPair, bool) {
	if raw == nil {
		return nil, true
	}

	var pairs []EnvPair

	var asArray []map[string]string
	if err := json.Unmarshal(*raw, &asArray); err == nil {
		for _, m := range asArray {
			pairs = append(pairs, EnvPair{Key: m["key"], Value: m["value"]})
		}

		return pairs, true
	}

	var asObject map[string]string
	if err := json.Unmarshal(*raw, &asObject); err != nil {
		return nil, false
	}

	keys := make([]string, 0, len(asObject))
	for k := range asObject {
		keys = append(keys, k)
	}

	sortStrings(keys)

	for _, k := range keys {
		pairs = append(pairs, EnvPair{Key: k, Value: asObject[k]})
	}

	return pairs, true
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// dedupeBySourcePriority resolves the subagents-vs-agents convention Open
// Question (spec.md §9): when the same name is produced by both the
// "agents/" and legacy "subagents/" locations, the "agents/" one wins, and
// both sources remain individually visible in the raw PathObservations.
func dedupeBySourcePriority(res Result) Result {
	res.Subagents = preferAgentsConvention(res.Subagents)
	return res
}

func preferAgentsConvention(in []Subagent) []Subagent {
	bestByName := make(map[string]Subagent, len(in))
	order := make([]string, 0, len(in))

	for _, s := range in {
		prev, seen := bestByName[s.Name]
		if !seen {
			bestByName[s.Name] = s
			order = append(order, s.Name)

			continue
		}

		if strings.Contains(s.SourcePath, "/agents/") && !strings.Contains(prev.SourcePath, "/agents/") {
			bestByName[s.Name] = s
		}
	}

	out := make([]Subagent, 0, len(order))
	for _, name := range order {
		out = append(out, bestByName[name])
	}

	return out
}
