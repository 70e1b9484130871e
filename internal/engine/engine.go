// Package engine wires PathResolver, Scanner, ContentStore, SnapshotWriter,
// ChangeDetector, EntityParser and EntityDiffer behind the single façade
// spec.md §6 names: the set of inbound operations every outer surface (the
// CLI today, any future front end) is built against. It mirrors the
// teacher's cli/app.go `appServices` framing: commands hold a reference to
// this type and never reach into the sub-packages directly.
package engine

import (
	"context"
	"database/sql"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/justSteve/claude-config-history/internal/blobdir"
	"github.com/justSteve/claude-config-history/internal/config"
	"github.com/justSteve/claude-config-history/internal/contentstore"
	"github.com/justSteve/claude-config-history/internal/entity"
	"github.com/justSteve/claude-config-history/internal/entitydiff"
	"github.com/justSteve/claude-config-history/internal/logging"
	"github.com/justSteve/claude-config-history/internal/pathresolver"
	"github.com/justSteve/claude-config-history/internal/scanner"
	"github.com/justSteve/claude-config-history/internal/snapshot"
	"github.com/justSteve/claude-config-history/internal/store"
)

// DefaultSizeCapBytes is the default content-capture size cap CreateSnapshot
// applies when a caller leaves CreateSnapshotRequest.SizeCap unset,
// resolving spec.md §9's Open Question 3. It matches
// contentstore.InlineThresholdBytes so the one number a deployer sees in
// both the capture path and the storage path is the same number.
const DefaultSizeCapBytes = contentstore.InlineThresholdBytes

// ErrNotFound is returned by GetSnapshot and DeleteSnapshot when the
// snapshot id does not exist. Tag and annotation operations do not return
// it.
var ErrNotFound = store.ErrNotFound

// Engine is the core's single entry point.
type Engine struct {
	Store    *store.Store
	Content  *contentstore.Store
	Writer   *snapshot.Writer
	Doc      config.Document
	Env      pathresolver.Environment
	Platform string

	log *zap.SugaredLogger
}

// Open assembles an Engine from a database path and a location document.
// platform selects which locations apply (spec.md §4.1); env defaults to
// pathresolver.OSEnvironment when nil.
func Open(ctx context.Context, dbPath string, doc config.Document, platform string, env pathresolver.Environment) (*Engine, error) {
	if env == nil {
		env = pathresolver.OSEnvironment
	}

	s, err := store.Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	blobRoot, err := blobOverflowDir(dbPath)
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "resolving blob overflow directory")
	}

	cs := contentstore.New(blobdir.New(blobRoot))

	return &Engine{
		Store: s, Content: cs, Writer: snapshot.NewWriter(s, cs),
		Doc: doc, Env: env, Platform: platform,
		log: logging.Module("engine"),
	}, nil
}

// Close releases the underlying store handle.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// CreateSnapshotRequest is the validated input to CreateSnapshot
// (spec.md §6's create_snapshot), per spec.md §9's boundary-validation note.
type CreateSnapshotRequest struct {
	Trigger    string
	Originator string
	Notes      string
	Tags       []string
	SizeCap    int64
}

// CreateSnapshot runs the full pipeline: resolve locations, scan, write.
func (e *Engine) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (*snapshot.Snapshot, error) {
	locations, err := pathresolver.Resolve(e.Doc, e.Env, e.Platform)
	if err != nil {
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	sizeCap := req.SizeCap
	if sizeCap <= 0 {
		sizeCap = DefaultSizeCapBytes
	}

	opID := uuid.New().String()
	e.log.Infow("creating snapshot", "op_id", opID, "trigger", req.Trigger, "originator", req.Originator,
		"locations", len(locations), "size_cap", sizeCap)

	return e.Writer.Create(ctx, snapshot.CreateRequest{
		Locations:  locations,
		SizeCap:    scanner.SizeCap(sizeCap),
		Trigger:    req.Trigger,
		Originator: req.Originator,
		Notes:      req.Notes,
		Tags:       req.Tags,
		OS:         snapshot.OSIdentity{Kind: e.Platform, Version: runtime.Version(), Host: host},
		UserName:   req.Originator,
		WorkingDir: workingDir(),
	})
}

// ListFilter narrows ListSnapshots results; zero-valued fields are ignored.
type ListFilter struct {
	Trigger      string
	Originator   string
	OSKind       string
	BaselineOnly bool
	HasChanges   *bool
	TagsAny      []string
	TagsAll      []string
	Since        *time.Time
	Until        *time.Time
	Search       string
}

// Sort picks the ListSnapshots ordering; spec.md leaves the default to the
// implementer, so newest-first (by created_at, then id) is used.
type Sort struct {
	Field      string // "created_at" (default) or "id"
	Descending bool
}

// Page bounds a ListSnapshots result.
type Page struct {
	Offset int
	Limit  int
}

// ListResult is one page of snapshots plus the total matching count, so
// callers can paginate without a second round trip.
type ListResult struct {
	Snapshots []snapshot.Snapshot
	Total     int
}

// ListSnapshots implements spec.md §6's list_snapshots.
func (e *Engine) ListSnapshots(ctx context.Context, filter ListFilter, sortBy Sort, page Page) (ListResult, error) {
	return listSnapshots(ctx, e.Store.DB(), filter, sortBy, page)
}

// SnapshotDetail is get_snapshot's output: a Snapshot plus whichever
// relations the caller asked for, eagerly loaded (spec.md §9's "replace
// lazy loading with explicit include" redesign note).
type SnapshotDetail struct {
	Snapshot     snapshot.Snapshot
	Observations []ObservationRow
	Changes      []ChangeRow
	Entities     entity.Result
	Tags         []snapshot.Tag
	Annotations  []snapshot.Annotation
	ParseErrors  []entity.ParseError
}

// IncludeRelations selects which SnapshotDetail fields GetSnapshot fills.
type IncludeRelations struct {
	Observations bool
	Changes      bool
	Entities     bool
	Tags         bool
	Annotations  bool
	ParseErrors  bool
}

// GetSnapshot implements spec.md §6's get_snapshot.
func (e *Engine) GetSnapshot(ctx context.Context, id int64, include IncludeRelations) (SnapshotDetail, error) {
	return getSnapshot(ctx, e.Store.DB(), id, include)
}

// DeleteSnapshot implements spec.md §6's delete_snapshot: cascades to every
// child row via the schema's ON DELETE CASCADE, then decrements and
// reclaims content-store references inside the same transaction.
func (e *Engine) DeleteSnapshot(ctx context.Context, id int64) error {
	return store.WithTx(ctx, e.Store, func(tx *sql.Tx) error {
		return deleteSnapshot(ctx, tx, e.Content, id)
	})
}

// CompareResult is compare_snapshots' output.
type CompareResult struct {
	PathChanges  []ChangeRow
	EntityDeltas entitydiff.Bundle
}

// CompareSnapshots implements spec.md §6's compare_snapshots. Unlike the
// changes recorded during Create (always parent-to-child), this recomputes
// a diff between any two snapshot ids the caller names.
func (e *Engine) CompareSnapshots(ctx context.Context, fromID, toID int64) (CompareResult, error) {
	return compareSnapshots(ctx, e.Store.DB(), fromID, toID)
}

// AddTag implements spec.md §6's add_tag.
func (e *Engine) AddTag(ctx context.Context, snapshotID int64, name, creator string) error {
	_, err := e.Store.DB().ExecContext(ctx,
		`INSERT INTO tags (snapshot_id, name, creator, created_at) VALUES (?, ?, ?, ?)`,
		snapshotID, name, creator, time.Now().UTC().Unix())
	if err != nil {
		return errors.Wrap(err, "adding tag")
	}

	return nil
}

// RemoveTag implements spec.md §6's remove_tag.
func (e *Engine) RemoveTag(ctx context.Context, snapshotID int64, name string) error {
	_, err := e.Store.DB().ExecContext(ctx,
		`DELETE FROM tags WHERE snapshot_id = ? AND name = ?`, snapshotID, name)
	if err != nil {
		return errors.Wrap(err, "removing tag")
	}

	return nil
}

// AddAnnotation implements spec.md §6's add_annotation.
func (e *Engine) AddAnnotation(ctx context.Context, snapshotID int64, text, creator string) (int64, error) {
	res, err := e.Store.DB().ExecContext(ctx,
		`INSERT INTO annotations (snapshot_id, text, creator, created_at) VALUES (?, ?, ?, ?)`,
		snapshotID, text, creator, time.Now().UTC().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "adding annotation")
	}

	return res.LastInsertId()
}

// RemoveAnnotation implements spec.md §6's remove_annotation.
func (e *Engine) RemoveAnnotation(ctx context.Context, annotationID int64) error {
	_, err := e.Store.DB().ExecContext(ctx, `DELETE FROM annotations WHERE id = ?`, annotationID)
	if err != nil {
		return errors.Wrap(err, "removing annotation")
	}

	return nil
}

// Stats is stats()'s output: content-store stats, snapshot counts, total bytes.
type Stats struct {
	Content       contentstore.Stats
	SnapshotCount int64
	TotalBytes    int64
}

// Stats implements spec.md §6's stats().
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	cstats, err := contentstore.ComputeStats(ctx, e.Store.DB())
	if err != nil {
		return Stats{}, err
	}

	var count, bytes int64
	err = e.Store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(byte_count), 0) FROM snapshots`).Scan(&count, &bytes)
	if err != nil {
		return Stats{}, errors.Wrap(err, "computing snapshot stats")
	}

	return Stats{Content: cstats, SnapshotCount: count, TotalBytes: bytes}, nil
}

// HealthStatus is health()'s output.
type HealthStatus struct {
	OK     bool
	Checks map[string]string
}

// Health implements spec.md §6's health(): a database round-trip and a
// read-through of the content store's accounting.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	checks := map[string]string{}
	ok := true

	if err := e.Store.DB().PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		ok = false
	} else {
		checks["database"] = "ok"
	}

	if _, err := contentstore.ComputeStats(ctx, e.Store.DB()); err != nil {
		checks["content_store"] = err.Error()
		ok = false
	} else {
		checks["content_store"] = "ok"
	}

	return HealthStatus{OK: ok, Checks: checks}
}

// blobOverflowDir returns the root directory content blobs over
// contentstore.InlineThresholdBytes overflow into, sitting beside the
// database file itself (dbPath + ".blobs"). For the in-memory database
// path tests use, there is no file beside which to root a directory, so a
// fresh temp directory stands in.
func blobOverflowDir(dbPath string) (string, error) {
	if dbPath == ":memory:" {
		return os.MkdirTemp("", "cchist-blobs-*")
	}

	return dbPath + ".blobs", nil
}

func workingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}

	return wd
}
