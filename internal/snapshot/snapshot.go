// Package snapshot implements the Snapshot record and the SnapshotWriter
// pipeline described in spec.md §3 and §4.4: it is the one place that
// touches every other core package inside a single transaction.
package snapshot

import "time"

// Snapshot is the immutable, timestamped capture record of spec.md §3.
type Snapshot struct {
	ID                   int64
	Fingerprint          string
	ParentID             *int64
	CreatedAt            time.Time
	Trigger              string
	Originator           string
	Notes                string
	OSKind               string
	OSVersion            string
	OSHost               string
	UserName             string
	WorkingDir           string
	FileCount            int64
	DirCount             int64
	ByteCount            int64
	LocationCount        int64
	Baseline             bool
	ChangedFromPrevious  bool
	ContentCapBytes      int64
	ErrorCount           int
}

// OSIdentity is the (kind, version, host) triple spec.md §3 requires.
type OSIdentity struct {
	Kind    string
	Version string
	Host    string
}

// Tag annotates a snapshot with a short stable name, addable/removable
// after creation without ever mutating the snapshot itself (spec.md §3).
type Tag struct {
	ID        int64
	Name      string
	Creator   string
	CreatedAt time.Time
}

// Annotation is freeform text attached to a snapshot after the fact. The
// writer does not create annotations: it records parse failures as
// snapshot_parse_errors rows and per-path scan errors in each observation's
// annotations JSON (spec.md §7).
type Annotation struct {
	ID        int64
	Text      string
	Creator   string
	CreatedAt time.Time
}
