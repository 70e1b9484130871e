// Package config loads the declarative list of logical configuration
// locations that the scanner expands and walks.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Location describes a single logical configuration location: a stable id,
// a category used for grouping in reports, a path template containing
// placeholders, a platform filter, and per-location scan options.
type Location struct {
	ID       string   `yaml:"id"`
	Category string   `yaml:"category"`
	Template string   `yaml:"template"`
	Platform []string `yaml:"platform,omitempty"`
	Enabled  *bool    `yaml:"enabled,omitempty"`
	Options  Options  `yaml:"options,omitempty"`
}

// Options carries per-location scan behavior. Unknown keys are ignored by
// virtue of yaml.v3's default strict=false decoding.
type Options struct {
	Type          string `yaml:"type,omitempty"`
	EnumerateLogs bool   `yaml:"enumerate_logs,omitempty"`
	LogPattern    string `yaml:"log_pattern,omitempty"`
}

// IsEnabled reports whether the location is enabled; absent means enabled.
func (l Location) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// AppliesToPlatform reports whether the location's platform filter admits
// the given GOOS-style platform name. An empty filter admits every platform.
func (l Location) AppliesToPlatform(platform string) bool {
	if len(l.Platform) == 0 {
		return true
	}

	for _, p := range l.Platform {
		if p == platform {
			return true
		}
	}

	return false
}

// Document is the top-level configuration document: an ordered list of
// logical locations.
type Document struct {
	Locations []Location `yaml:"locations"`
}

// ErrMalformedLocation is returned when a location record is missing fields
// required to resolve or scan it.
var ErrMalformedLocation = errors.New("malformed location record")

// Load parses a YAML configuration document from raw bytes.
func Load(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, errors.Wrap(err, "parsing configuration document")
	}

	for _, loc := range doc.Locations {
		if loc.ID == "" || loc.Template == "" {
			return Document{}, errors.Wrapf(ErrMalformedLocation, "location %+v", loc)
		}
	}

	return doc, nil
}

// LoadFile reads and parses a YAML configuration document from disk.
func LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, errors.Wrap(err, "reading configuration file")
	}

	return Load(data)
}

// Default returns the built-in location list for the Claude AI toolchain.
// Matches the four entity source kinds described in the entity parser.
func Default() Document {
	return Document{
		Locations: []Location{
			{ID: "user-settings", Category: "mcp", Template: "$HOME/.claude.json", Platform: []string{"linux", "darwin"}},
			{ID: "user-settings-windows", Category: "mcp", Template: "%USERPROFILE%\\.claude.json", Platform: []string{"windows"}},
			{ID: "user-memory", Category: "memory", Template: "$HOME/.claude/CLAUDE.md", Platform: []string{"linux", "darwin"}},
			{ID: "user-memory-windows", Category: "memory", Template: "%USERPROFILE%\\.claude\\CLAUDE.md", Platform: []string{"windows"}},
			{ID: "project-memory", Category: "memory", Template: "./.claude/CLAUDE.md"},
			{ID: "enterprise-memory", Category: "memory", Template: "%ProgramData%\\ClaudeAI\\CLAUDE.md", Platform: []string{"windows"}},
			{ID: "user-agents", Category: "subagent", Template: "$HOME/.claude/agents", Platform: []string{"linux", "darwin"}},
			{ID: "user-agents-windows", Category: "subagent", Template: "%USERPROFILE%\\.claude\\agents", Platform: []string{"windows"}},
			{ID: "user-subagents-legacy", Category: "subagent", Template: "$HOME/.claude/subagents", Platform: []string{"linux", "darwin"}},
			{ID: "user-commands", Category: "command", Template: "$HOME/.claude/commands", Platform: []string{"linux", "darwin"}},
			{ID: "user-commands-windows", Category: "command", Template: "%USERPROFILE%\\.claude\\commands", Platform: []string{"windows"}},
			{
				ID: "user-logs", Category: "logs", Template: "$HOME/.claude/logs", Platform: []string{"linux", "darwin"},
				Options: Options{Type: "directory", EnumerateLogs: true, LogPattern: "mcp*.log"},
			},
		},
	}
}
