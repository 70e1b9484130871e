package changedetect_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/justSteve/claude-config-history/internal/changedetect"
)

func TestDetectBaselineHasNoParent(t *testing.T) {
	to := []changedetect.Observation{{Path: "a.txt", Kind: "file", ContentHash: "h1", Size: 2}}
	require.Empty(t, changedetect.Detect(nil, to))
}

func TestDetectIdenticalSnapshotsIsEmpty(t *testing.T) {
	obs := []changedetect.Observation{{Path: "a.txt", Kind: "file", ContentHash: "h1", Size: 2}}
	require.Empty(t, changedetect.Detect(obs, obs))
}

func TestDetectAddedAndRemoved(t *testing.T) {
	from := []changedetect.Observation{{Path: "old.txt", Kind: "file", ContentHash: "h1", Size: 3}}
	to := []changedetect.Observation{{Path: "new.txt", Kind: "file", ContentHash: "h2", Size: 4}}

	changes := changedetect.Detect(from, to)
	require.Len(t, changes, 2)
	require.Equal(t, changedetect.Added, changes[0].Kind)
	require.Equal(t, "new.txt", changes[0].Path)
	require.Equal(t, changedetect.Removed, changes[1].Kind)
}

func TestDetectModifiedContent(t *testing.T) {
	from := []changedetect.Observation{{Path: "a.txt", Kind: "file", ContentHash: "hi-hash", Size: 2}}
	to := []changedetect.Observation{{Path: "a.txt", Kind: "file", ContentHash: "bye-hash", Size: 3}}

	changes := changedetect.Detect(from, to)
	require.Len(t, changes, 1)
	require.Equal(t, changedetect.Modified, changes[0].Kind)
	require.Equal(t, "hi-hash", changes[0].OldHash)
	require.Equal(t, "bye-hash", changes[0].NewHash)
	require.Equal(t, int64(1), changes[0].SizeDelta)
	require.Empty(t, changes[0].KindTransition)
}

func TestDetectKindTransitionIsSingleModified(t *testing.T) {
	from := []changedetect.Observation{{Path: "a", Kind: "file", ContentHash: "h", Size: 1}}
	to := []changedetect.Observation{{Path: "a", Kind: "directory"}}

	changes := changedetect.Detect(from, to)
	require.Len(t, changes, 1)
	require.Equal(t, changedetect.Modified, changes[0].Kind)
	require.Equal(t, "file->directory", changes[0].KindTransition)
}

func TestDetectIsOrderedByPath(t *testing.T) {
	from := []changedetect.Observation{}
	to := []changedetect.Observation{
		{Path: "z.txt", Kind: "file", ContentHash: "1"},
		{Path: "a.txt", Kind: "file", ContentHash: "2"},
	}

	changes := changedetect.Detect(from, to)
	require.Len(t, changes, 2)
	require.Equal(t, "a.txt", changes[0].Path)
	require.Equal(t, "z.txt", changes[1].Path)
}
