package pathresolver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justSteve/claude-config-history/internal/config"
	"github.com/justSteve/claude-config-history/internal/pathresolver"
)

type fakeEnv map[string]string

func (f fakeEnv) Lookup(name string) (string, bool) {
	v, ok := f[name]
	return v, ok
}

func TestResolveExpandsKnownPlaceholders(t *testing.T) {
	env := fakeEnv{"HOME": "/home/alice", "USERPROFILE": `C:\Users\alice`}

	doc := config.Document{Locations: []config.Location{
		{ID: "a", Template: "$HOME/.claude.json"},
		{ID: "b", Template: `%USERPROFILE%\.claude.json`, Platform: []string{"windows"}},
	}}

	resolved, err := pathresolver.Resolve(doc, env, "linux")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, "/home/alice/.claude.json", resolved[0].Path)
}

func TestResolveWindowsPlatformFilter(t *testing.T) {
	env := fakeEnv{"USERPROFILE": `C:\Users\alice`}
	doc := config.Document{Locations: []config.Location{
		{ID: "b", Template: `%USERPROFILE%\.claude.json`, Platform: []string{"windows"}},
	}}

	resolved, err := pathresolver.Resolve(doc, env, "windows")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, `C:\Users\alice\.claude.json`, resolved[0].Path)
}

func TestResolveFailsOnUnknownPlaceholder(t *testing.T) {
	doc := config.Document{Locations: []config.Location{
		{ID: "a", Template: "%NOT_A_REAL_PLACEHOLDER%/x"},
	}}

	_, err := pathresolver.Resolve(doc, fakeEnv{}, "linux")
	require.ErrorIs(t, err, pathresolver.ErrUnknownPlaceholder)
}

func TestResolveFailsOnUndefinedEnvVar(t *testing.T) {
	doc := config.Document{Locations: []config.Location{
		{ID: "a", Template: "$HOME/.claude.json"},
	}}

	_, err := pathresolver.Resolve(doc, fakeEnv{}, "linux")
	require.ErrorIs(t, err, pathresolver.ErrEnvVarUndefined)
}

func TestResolveSkipsDisabledAndWrongPlatform(t *testing.T) {
	disabled := false
	doc := config.Document{Locations: []config.Location{
		{ID: "a", Template: "$HOME/x", Enabled: &disabled},
		{ID: "b", Template: "$HOME/y", Platform: []string{"windows"}},
	}}

	resolved, err := pathresolver.Resolve(doc, fakeEnv{"HOME": "/h"}, "linux")
	require.NoError(t, err)
	require.Empty(t, resolved)
}

func TestResolveTildeExpandsToHome(t *testing.T) {
	doc := config.Document{Locations: []config.Location{
		{ID: "a", Template: "~/.claude/CLAUDE.md"},
	}}

	resolved, err := pathresolver.Resolve(doc, fakeEnv{"HOME": "/home/bob"}, "linux")
	require.NoError(t, err)
	require.Equal(t, "/home/bob/.claude/CLAUDE.md", resolved[0].Path)
}
