// Package changedetect implements the merge-walk ChangeDetector described
// in spec.md §4.5: the minimal set of added/removed/modified path records
// between two consecutive snapshots' observations.
package changedetect

import "sort"

// Kind discriminates the three kinds of path change.
type Kind string

const (
	Added    Kind = "added"
	Removed  Kind = "removed"
	Modified Kind = "modified"
)

// Observation is the subset of a PathObservation the detector needs.
type Observation struct {
	Path         string
	Kind         string // "file", "directory", "absent"
	Size         int64
	ContentHash  string // empty for non-file kinds
}

// Change is one detected PathChange.
type Change struct {
	Path           string
	Kind           Kind
	SizeDelta      int64
	OldHash        string
	NewHash        string
	KindTransition string // e.g. "file->directory"; empty unless Kind == Modified and the observation kind changed
}

// Detect runs the merge-walk of spec.md §4.5 between from (the parent
// snapshot's observations, nil when to belongs to a baseline snapshot with
// no parent, in which case no changes are produced) and to (the child
// snapshot's observations). Both slices are sorted by Path before the walk,
// so callers need not pre-sort; the result is always ordered by Path.
func Detect(from, to []Observation) []Change {
	if from == nil {
		return nil
	}

	a := append([]Observation(nil), from...)
	b := append([]Observation(nil), to...)

	sort.Slice(a, func(i, j int) bool { return a[i].Path < a[j].Path })
	sort.Slice(b, func(i, j int) bool { return b[i].Path < b[j].Path })

	var changes []Change

	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Path < b[j].Path):
			changes = append(changes, Change{
				Path: a[i].Path, Kind: Removed,
				SizeDelta: -a[i].Size, OldHash: a[i].ContentHash,
			})
			i++
		case i >= len(a) || b[j].Path < a[i].Path:
			changes = append(changes, Change{
				Path: b[j].Path, Kind: Added,
				SizeDelta: b[j].Size, NewHash: b[j].ContentHash,
			})
			j++
		default:
			if c, changed := diff(a[i], b[j]); changed {
				changes = append(changes, c)
			}

			i++
			j++
		}
	}

	return changes
}

func diff(oldObs, newObs Observation) (Change, bool) {
	kindChanged := oldObs.Kind != newObs.Kind
	contentChanged := oldObs.ContentHash != newObs.ContentHash

	if !kindChanged && !contentChanged {
		return Change{}, false
	}

	c := Change{
		Path:      newObs.Path,
		Kind:      Modified,
		SizeDelta: newObs.Size - oldObs.Size,
		OldHash:   oldObs.ContentHash,
		NewHash:   newObs.ContentHash,
	}

	if kindChanged {
		c.KindTransition = oldObs.Kind + "->" + newObs.Kind
	}

	return c, true
}
