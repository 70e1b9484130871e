package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justSteve/claude-config-history/internal/config"
)

func TestLoad(t *testing.T) {
	data := []byte(`
locations:
  - id: user-settings
    category: mcp
    template: "$HOME/.claude.json"
  - id: windows-only
    category: mcp
    template: "%USERPROFILE%\\.claude.json"
    platform: ["windows"]
    enabled: false
`)

	doc, err := config.Load(data)
	require.NoError(t, err)
	require.Len(t, doc.Locations, 2)

	require.True(t, doc.Locations[0].IsEnabled())
	require.True(t, doc.Locations[0].AppliesToPlatform("linux"))

	require.False(t, doc.Locations[1].IsEnabled())
	require.False(t, doc.Locations[1].AppliesToPlatform("linux"))
	require.True(t, doc.Locations[1].AppliesToPlatform("windows"))
}

func TestLoadRejectsMalformedLocation(t *testing.T) {
	_, err := config.Load([]byte(`locations: [{category: mcp}]`))
	require.ErrorIs(t, err, config.ErrMalformedLocation)
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	doc, err := config.Load([]byte(`
locations:
  - id: a
    template: b
    future_field: surprise
`))
	require.NoError(t, err)
	require.Equal(t, "a", doc.Locations[0].ID)
}

func TestDefaultDocumentIsWellFormed(t *testing.T) {
	doc := config.Default()
	require.NotEmpty(t, doc.Locations)

	for _, loc := range doc.Locations {
		require.NotEmpty(t, loc.ID)
		require.NotEmpty(t, loc.Template)
	}
}
