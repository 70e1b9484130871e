package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/justSteve/claude-config-history/internal/changedetect"
	"github.com/justSteve/claude-config-history/internal/contentstore"
	"github.com/justSteve/claude-config-history/internal/entity"
	"github.com/justSteve/claude-config-history/internal/pathresolver"
	"github.com/justSteve/claude-config-history/internal/scanner"
	"github.com/justSteve/claude-config-history/internal/store"
)

// ErrWriteFailed wraps a retryable transaction failure (spec.md §7 category 6).
var ErrWriteFailed = errors.New("snapshot write failed")

// ErrConstraintViolation wraps a permanent transaction failure, e.g. a
// uniqueness violation surfaced by the underlying store.
var ErrConstraintViolation = errors.New("snapshot write violated a constraint")

// CreateRequest carries everything needed to run the pipeline of spec.md
// §4.4, already validated at the boundary (spec.md §9's "validation pass"
// redesign note: the writer accepts only already-validated input).
type CreateRequest struct {
	Locations  []pathresolver.ResolvedLocation
	SizeCap    scanner.SizeCap
	Trigger    string
	Originator string
	Notes      string
	Tags       []string
	OS         OSIdentity
	UserName   string
	WorkingDir string
}

// Writer runs CreateRequests against a store and content store, serializing
// concurrent callers with an in-process lock (spec.md §4.4's "at most one
// SnapshotWriter runs at a time per database").
type Writer struct {
	Store   *store.Store
	Content *contentstore.Store

	mu sync.Mutex
}

// NewWriter returns a Writer bound to s and cs.
func NewWriter(s *store.Store, cs *contentstore.Store) *Writer {
	return &Writer{Store: s, Content: cs}
}

// Create runs the full 8-step pipeline of spec.md §4.4 inside one
// transaction. On any failure the transaction rolls back and no partial
// state becomes visible; cancellation is checked between the scan phase
// (outside the transaction) and the transactional steps.
func (w *Writer) Create(ctx context.Context, req CreateRequest) (*Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	scanResult, err := scanner.Scan(ctx, req.Locations, req.SizeCap)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap *Snapshot

	err = store.WithTx(ctx, w.Store, func(tx *sql.Tx) error {
		s, txErr := w.createInTx(ctx, tx, req, scanResult)
		if txErr != nil {
			return txErr
		}

		snap = s

		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}

		if errors.Is(err, ErrConstraintViolation) {
			return nil, err
		}

		return nil, errors.Wrap(ErrWriteFailed, err.Error())
	}

	return snap, nil
}

func (w *Writer) createInTx(ctx context.Context, tx *sql.Tx, req CreateRequest, scanResult scanner.Result) (*Snapshot, error) {
	parentID, parentCreatedAt, err := latestSnapshot(ctx, tx)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(scanResult.Observations)

	now := time.Now().UTC()

	fileCount, dirCount, byteCount := countObservations(scanResult.Observations)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (
			fingerprint, parent_id, created_at, trigger_kind, originator, notes,
			os_kind, os_version, os_host, user_name, working_dir,
			file_count, dir_count, byte_count, location_count,
			baseline, changed_from_previous, content_cap_bytes, error_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		fingerprint, parentID, now.Unix(), req.Trigger, req.Originator, req.Notes,
		req.OS.Kind, req.OS.Version, req.OS.Host, req.UserName, req.WorkingDir,
		fileCount, dirCount, byteCount, len(req.Locations),
		boolToInt(parentID == nil), int64(req.SizeCap), scanResult.ErrorCount)
	if err != nil {
		return nil, wrapConstraint(err)
	}

	snapshotID, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "reading new snapshot id")
	}

	if err := insertObservations(ctx, tx, w.Content, snapshotID, scanResult.Observations); err != nil {
		return nil, err
	}

	var parentObs []changedetect.Observation

	if parentID != nil {
		parentObs, err = loadObservationsForDetect(ctx, tx, *parentID)
		if err != nil {
			return nil, err
		}
	}

	childObs := toDetectObservations(scanResult.Observations)
	changes := changedetect.Detect(parentObs, childObs)

	if err := insertChanges(ctx, tx, parentID, snapshotID, changes); err != nil {
		return nil, err
	}

	changedFromPrevious := parentID != nil && len(changes) > 0

	if _, err := tx.ExecContext(ctx, `UPDATE snapshots SET changed_from_previous = ? WHERE id = ?`,
		boolToInt(changedFromPrevious), snapshotID); err != nil {
		return nil, errors.Wrap(err, "updating changed_from_previous")
	}

	sourceFiles, sourceBytes := toSourceFiles(scanResult.Observations)
	parseResult := entity.Parse(sourceFiles)

	if err := persistEntities(ctx, tx, w.Content, snapshotID, parseResult, sourceBytes); err != nil {
		return nil, err
	}

	for _, perr := range parseResult.ParseErrors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshot_parse_errors (snapshot_id, source_path, reason) VALUES (?, ?, ?)`,
			snapshotID, perr.SourcePath, perr.Reason); err != nil {
			return nil, errors.Wrap(err, "recording parse error")
		}
	}

	for _, name := range req.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tags (snapshot_id, name, creator, created_at) VALUES (?, ?, ?, ?)`,
			snapshotID, name, req.Originator, now.Unix()); err != nil {
			return nil, wrapConstraint(err)
		}
	}

	_ = parentCreatedAt // retained for readability of latestSnapshot's contract; ordering already enforced in SQL

	return &Snapshot{
		ID: snapshotID, Fingerprint: fingerprint, ParentID: parentID, CreatedAt: now,
		Trigger: req.Trigger, Originator: req.Originator, Notes: req.Notes,
		OSKind: req.OS.Kind, OSVersion: req.OS.Version, OSHost: req.OS.Host,
		UserName: req.UserName, WorkingDir: req.WorkingDir,
		FileCount: fileCount, DirCount: dirCount, ByteCount: byteCount,
		LocationCount: int64(len(req.Locations)), Baseline: parentID == nil,
		ChangedFromPrevious: changedFromPrevious, ContentCapBytes: int64(req.SizeCap),
		ErrorCount: scanResult.ErrorCount,
	}, nil
}

func countObservations(obs []scanner.Observation) (files, dirs, bytes int64) {
	for _, o := range obs {
		switch o.Kind {
		case scanner.KindFile:
			files++
			bytes += o.Size
		case scanner.KindDirectory:
			dirs++
		}
	}

	return files, dirs, bytes
}

// latestSnapshot returns the id of the snapshot most recently created,
// ties broken by id, per spec.md §4.4 step 5 and §5's ordering guarantee.
func latestSnapshot(ctx context.Context, tx *sql.Tx) (*int64, int64, error) {
	var id, createdAt int64

	err := tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM snapshots ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, 0, nil
	case err != nil:
		return nil, 0, errors.Wrap(err, "finding latest snapshot")
	}

	return &id, createdAt, nil
}

func insertObservations(ctx context.Context, tx *sql.Tx, cs *contentstore.Store, snapshotID int64, obs []scanner.Observation) error {
	for _, o := range obs {
		var (
			contentHash sql.NullString
			notCaptured sql.NullString
		)

		if o.Kind == scanner.KindFile {
			if o.Data != nil {
				handle, err := cs.Put(ctx, tx, o.Data)
				if err != nil {
					return err
				}

				contentHash = sql.NullString{String: handle.Hash, Valid: true}
			} else {
				notCaptured = sql.NullString{String: o.ContentNotCapturedReason, Valid: o.ContentNotCapturedReason != ""}
			}
		}

		annotations := map[string]string{}
		if o.Error != "" {
			annotations["error"] = o.Error
		}

		if o.ComputedHash != "" && !contentHash.Valid {
			annotations["computed_hash"] = o.ComputedHash
		}

		annotationsJSON, err := json.Marshal(annotations)
		if err != nil {
			return errors.Wrap(err, "marshaling observation annotations")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO path_observations (
				snapshot_id, location_id, resolved_path, kind, size, mtime, mode,
				content_hash, content_not_captured_reason, annotations
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, o.LocationID, o.ResolvedPath, string(o.Kind), o.Size, o.Mtime.Unix(), uint32(o.Mode),
			contentHash, notCaptured, string(annotationsJSON))
		if err != nil {
			return wrapConstraint(err)
		}
	}

	return nil
}

func toDetectObservations(obs []scanner.Observation) []changedetect.Observation {
	out := make([]changedetect.Observation, 0, len(obs))
	for _, o := range obs {
		out = append(out, changedetect.Observation{
			Path: o.ResolvedPath, Kind: string(o.Kind), Size: o.Size, ContentHash: o.ComputedHash,
		})
	}

	return out
}

func loadObservationsForDetect(ctx context.Context, tx *sql.Tx, snapshotID int64) ([]changedetect.Observation, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT resolved_path, kind, size, COALESCE(content_hash, ''), annotations FROM path_observations WHERE snapshot_id = ?`,
		snapshotID)
	if err != nil {
		return nil, errors.Wrap(err, "loading parent observations")
	}
	defer rows.Close()

	out := []changedetect.Observation{}

	for rows.Next() {
		var (
			o           changedetect.Observation
			annotations string
		)

		if err := rows.Scan(&o.Path, &o.Kind, &o.Size, &o.ContentHash, &annotations); err != nil {
			return nil, errors.Wrap(err, "scanning parent observation")
		}

		if o.ContentHash == "" {
			o.ContentHash = computedHashFromAnnotations(annotations)
		}

		out = append(out, o)
	}

	return out, rows.Err()
}

// computedHashFromAnnotations recovers the full-content hash recorded for a
// file whose bytes exceeded the capture cap (insertObservations stores it
// under the "computed_hash" annotation key since content_hash only ever
// references a blob actually present in the content store). Comparing on
// this hash, rather than leaving ContentHash empty, keeps change detection
// on one domain regardless of which side of the cap a file falls on: an
// over-cap file that hasn't changed must diff equal-to-equal, not
// empty-vs-hash.
func computedHashFromAnnotations(raw string) string {
	var annotations map[string]string
	if err := json.Unmarshal([]byte(raw), &annotations); err != nil {
		return ""
	}

	return annotations["computed_hash"]
}

func insertChanges(ctx context.Context, tx *sql.Tx, fromID *int64, toID int64, changes []changedetect.Change) error {
	for _, c := range changes {
		var oldHash, newHash, kindTransition sql.NullString
		if c.OldHash != "" {
			oldHash = sql.NullString{String: c.OldHash, Valid: true}
		}

		if c.NewHash != "" {
			newHash = sql.NullString{String: c.NewHash, Valid: true}
		}

		if c.KindTransition != "" {
			kindTransition = sql.NullString{String: c.KindTransition, Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO path_changes (from_snapshot_id, to_snapshot_id, path, kind, size_delta, old_hash, new_hash, kind_transition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fromID, toID, c.Path, string(c.Kind), c.SizeDelta, oldHash, newHash, kindTransition)
		if err != nil {
			return wrapConstraint(err)
		}
	}

	return nil
}

func toSourceFiles(obs []scanner.Observation) ([]entity.SourceFile, map[string][]byte) {
	var out []entity.SourceFile

	bySource := make(map[string][]byte)

	for _, o := range obs {
		if o.Kind != scanner.KindFile || o.Data == nil {
			continue
		}

		scope := memoryScopeForLocation(o.LocationID)

		out = append(out, entity.SourceFile{
			LocationID: o.LocationID, Category: o.Category, Scope: scope,
			Path: o.ResolvedPath, Data: o.Data,
		})
		bySource[o.ResolvedPath] = o.Data
	}

	return out, bySource
}

// memoryScopeForLocation derives scope from the logical-location id,
// resolving spec.md §9's Open Question. The default config document's
// ids are used directly; deployments with differently named locations
// carry their own scope prefix convention ("user"/"project"/"enterprise").
func memoryScopeForLocation(locationID string) entity.Scope {
	switch {
	case strings.Contains(locationID, "project"):
		return entity.ScopeProject
	case strings.Contains(locationID, "enterprise"):
		return entity.ScopeEnterprise
	default:
		return entity.ScopeUser
	}
}

func persistEntities(ctx context.Context, tx *sql.Tx, cs *contentstore.Store, snapshotID int64, res entity.Result, sourceBytes map[string][]byte) error {
	for _, m := range res.McpServers {
		argv, err := json.Marshal(m.Args)
		if err != nil {
			return errors.Wrap(err, "marshaling argv")
		}

		env, err := json.Marshal(m.Env)
		if err != nil {
			return errors.Wrap(err, "marshaling env")
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO mcp_server_records (snapshot_id, server_name, command, argv, env, enabled, source_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, m.Name, m.Command, string(argv), string(env), boolToInt(m.Enabled), m.SourcePath)
		if err != nil {
			return wrapConstraint(err)
		}
	}

	for _, a := range res.Subagents {
		handle, err := cs.Put(ctx, tx, sourceBytes[a.SourcePath])
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subagent_records (snapshot_id, name, content_hash, source_path) VALUES (?, ?, ?, ?)`,
			snapshotID, a.Name, handle.Hash, a.SourcePath); err != nil {
			return wrapConstraint(err)
		}
	}

	for _, c := range res.SlashCommands {
		handle, err := cs.Put(ctx, tx, sourceBytes[c.SourcePath])
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slash_command_records (snapshot_id, name, content_hash, source_path) VALUES (?, ?, ?, ?)`,
			snapshotID, c.Name, handle.Hash, c.SourcePath); err != nil {
			return wrapConstraint(err)
		}
	}

	for _, m := range res.Memories {
		handle, err := cs.Put(ctx, tx, sourceBytes[m.SourcePath])
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_records (snapshot_id, scope, content_hash, source_path) VALUES (?, ?, ?, ?)`,
			snapshotID, string(m.Scope), handle.Hash, m.SourcePath); err != nil {
			return wrapConstraint(err)
		}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

func wrapConstraint(err error) error {
	return errors.Wrap(ErrConstraintViolation, err.Error())
}
