package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/justSteve/claude-config-history/internal/changedetect"
	"github.com/justSteve/claude-config-history/internal/contentstore"
	"github.com/justSteve/claude-config-history/internal/entity"
	"github.com/justSteve/claude-config-history/internal/entitydiff"
	"github.com/justSteve/claude-config-history/internal/snapshot"
	"github.com/justSteve/claude-config-history/internal/store"
)

// ObservationRow is a persisted PathObservation as returned by GetSnapshot.
type ObservationRow struct {
	LocationID   string
	ResolvedPath string
	Kind         string
	Size         int64
	ContentHash  string
}

// ChangeRow is a persisted PathChange as returned by GetSnapshot/CompareSnapshots.
type ChangeRow struct {
	Path           string
	Kind           string
	SizeDelta      int64
	OldHash        string
	NewHash        string
	KindTransition string
}

func listSnapshots(ctx context.Context, db *sql.DB, filter ListFilter, sortBy Sort, page Page) (ListResult, error) {
	var (
		where []string
		args  []interface{}
	)

	if filter.Trigger != "" {
		where = append(where, "trigger_kind = ?")
		args = append(args, filter.Trigger)
	}

	if filter.Originator != "" {
		where = append(where, "originator = ?")
		args = append(args, filter.Originator)
	}

	if filter.OSKind != "" {
		where = append(where, "os_kind = ?")
		args = append(args, filter.OSKind)
	}

	if filter.BaselineOnly {
		where = append(where, "baseline = 1")
	}

	if filter.HasChanges != nil {
		where = append(where, "changed_from_previous = ?")
		args = append(args, boolToInt(*filter.HasChanges))
	}

	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.Unix())
	}

	if filter.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.Until.Unix())
	}

	if filter.Search != "" {
		where = append(where, "notes LIKE ?")
		args = append(args, "%"+filter.Search+"%")
	}

	if len(filter.TagsAny) > 0 {
		placeholders := make([]string, len(filter.TagsAny))
		for i, name := range filter.TagsAny {
			placeholders[i] = "?"
			args = append(args, name)
		}

		where = append(where, fmt.Sprintf("id IN (SELECT snapshot_id FROM tags WHERE name IN (%s))", strings.Join(placeholders, ", ")))
	}

	for _, name := range filter.TagsAll {
		where = append(where, "id IN (SELECT snapshot_id FROM tags WHERE name = ?)")
		args = append(args, name)
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM snapshots %s`, whereClause)
	if err := db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResult{}, errors.Wrap(err, "counting snapshots")
	}

	field := "created_at"
	if sortBy.Field == "id" {
		field = "id"
	}

	direction := "ASC"
	if sortBy.Descending || sortBy.Field == "" {
		direction = "DESC"
	}

	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`SELECT %s FROM snapshots %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		snapshotColumns, whereClause, field, direction, direction)

	queryArgs := append(append([]interface{}{}, args...), limit, page.Offset)

	rows, err := db.QueryContext(ctx, query, queryArgs...)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "listing snapshots")
	}
	defer rows.Close()

	var out []snapshot.Snapshot

	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return ListResult{}, err
		}

		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return ListResult{}, errors.Wrap(err, "reading snapshot rows")
	}

	return ListResult{Snapshots: out, Total: total}, nil
}

const snapshotColumns = `
	id, fingerprint, parent_id, created_at, trigger_kind, originator, notes,
	os_kind, os_version, os_host, user_name, working_dir,
	file_count, dir_count, byte_count, location_count,
	baseline, changed_from_previous, content_cap_bytes, error_count`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(r rowScanner) (snapshot.Snapshot, error) {
	var (
		s         snapshot.Snapshot
		parentID  sql.NullInt64
		createdAt int64
		baseline  int
		changed   int
	)

	err := r.Scan(
		&s.ID, &s.Fingerprint, &parentID, &createdAt, &s.Trigger, &s.Originator, &s.Notes,
		&s.OSKind, &s.OSVersion, &s.OSHost, &s.UserName, &s.WorkingDir,
		&s.FileCount, &s.DirCount, &s.ByteCount, &s.LocationCount,
		&baseline, &changed, &s.ContentCapBytes, &s.ErrorCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Snapshot{}, sql.ErrNoRows
		}

		return snapshot.Snapshot{}, errors.Wrap(err, "scanning snapshot row")
	}

	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	s.Baseline = baseline != 0
	s.ChangedFromPrevious = changed != 0

	if parentID.Valid {
		id := parentID.Int64
		s.ParentID = &id
	}

	return s, nil
}

func getSnapshotRow(ctx context.Context, db *sql.DB, id int64) (snapshot.Snapshot, error) {
	query := fmt.Sprintf(`SELECT %s FROM snapshots WHERE id = ?`, snapshotColumns)

	row := db.QueryRowContext(ctx, query, id)

	s, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, store.ErrNotFound
	}

	return s, err
}

func getSnapshot(ctx context.Context, db *sql.DB, id int64, include IncludeRelations) (SnapshotDetail, error) {
	s, err := getSnapshotRow(ctx, db, id)
	if err != nil {
		return SnapshotDetail{}, err
	}

	detail := SnapshotDetail{Snapshot: s}

	if include.Observations {
		detail.Observations, err = loadObservationRows(ctx, db, id)
		if err != nil {
			return SnapshotDetail{}, err
		}
	}

	if include.Changes {
		detail.Changes, err = loadChangeRows(ctx, db, `to_snapshot_id = ?`, id)
		if err != nil {
			return SnapshotDetail{}, err
		}
	}

	if include.Entities {
		detail.Entities, err = loadEntities(ctx, db, id)
		if err != nil {
			return SnapshotDetail{}, err
		}
	}

	if include.Tags {
		detail.Tags, err = loadTags(ctx, db, id)
		if err != nil {
			return SnapshotDetail{}, err
		}
	}

	if include.Annotations {
		detail.Annotations, err = loadAnnotations(ctx, db, id)
		if err != nil {
			return SnapshotDetail{}, err
		}
	}

	if include.ParseErrors {
		detail.ParseErrors, err = loadParseErrors(ctx, db, id)
		if err != nil {
			return SnapshotDetail{}, err
		}
	}

	return detail, nil
}

func loadObservationRows(ctx context.Context, db *sql.DB, snapshotID int64) ([]ObservationRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT location_id, resolved_path, kind, size, COALESCE(content_hash, '')
		FROM path_observations WHERE snapshot_id = ? ORDER BY resolved_path`, snapshotID)
	if err != nil {
		return nil, errors.Wrap(err, "loading observations")
	}
	defer rows.Close()

	var out []ObservationRow

	for rows.Next() {
		var o ObservationRow
		if err := rows.Scan(&o.LocationID, &o.ResolvedPath, &o.Kind, &o.Size, &o.ContentHash); err != nil {
			return nil, errors.Wrap(err, "scanning observation")
		}

		out = append(out, o)
	}

	return out, rows.Err()
}

func loadChangeRows(ctx context.Context, db *sql.DB, whereClause string, args ...interface{}) ([]ChangeRow, error) {
	query := fmt.Sprintf(`
		SELECT path, kind, size_delta, COALESCE(old_hash, ''), COALESCE(new_hash, ''), COALESCE(kind_transition, '')
		FROM path_changes WHERE %s ORDER BY path`, whereClause)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "loading path changes")
	}
	defer rows.Close()

	var out []ChangeRow

	for rows.Next() {
		var c ChangeRow
		if err := rows.Scan(&c.Path, &c.Kind, &c.SizeDelta, &c.OldHash, &c.NewHash, &c.KindTransition); err != nil {
			return nil, errors.Wrap(err, "scanning path change")
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

func loadEntities(ctx context.Context, db *sql.DB, snapshotID int64) (entity.Result, error) {
	var res entity.Result

	mcpRows, err := db.QueryContext(ctx, `
		SELECT server_name, command, argv, env, enabled, source_path
		FROM mcp_server_records WHERE snapshot_id = ? ORDER BY server_name`, snapshotID)
	if err != nil {
		return res, errors.Wrap(err, "loading mcp servers")
	}
	defer mcpRows.Close()

	for mcpRows.Next() {
		var (
			m        entity.McpServer
			argvJSON string
			envJSON  string
			enabled  int
		)

		if err := mcpRows.Scan(&m.Name, &m.Command, &argvJSON, &envJSON, &enabled, &m.SourcePath); err != nil {
			return res, errors.Wrap(err, "scanning mcp server")
		}

		m.Enabled = enabled != 0
		m.Args = decodeJSONStrings(argvJSON)
		m.Env = decodeJSONEnv(envJSON)
		res.McpServers = append(res.McpServers, m)
	}

	if err := mcpRows.Err(); err != nil {
		return res, err
	}

	res.Subagents, err = loadContentEntities(ctx, db, "subagent_records", snapshotID, func(name, hash, src string) entity.Subagent {
		return entity.Subagent{Name: name, ContentHash: hash, SourcePath: src}
	})
	if err != nil {
		return res, err
	}

	res.SlashCommands, err = loadContentEntities(ctx, db, "slash_command_records", snapshotID, func(name, hash, src string) entity.SlashCommand {
		return entity.SlashCommand{Name: name, ContentHash: hash, SourcePath: src}
	})
	if err != nil {
		return res, err
	}

	memRows, err := db.QueryContext(ctx, `
		SELECT scope, content_hash, source_path FROM memory_records WHERE snapshot_id = ? ORDER BY scope`, snapshotID)
	if err != nil {
		return res, errors.Wrap(err, "loading memories")
	}
	defer memRows.Close()

	for memRows.Next() {
		var m entity.Memory

		var scope string
		if err := memRows.Scan(&scope, &m.ContentHash, &m.SourcePath); err != nil {
			return res, errors.Wrap(err, "scanning memory")
		}

		m.Scope = entity.Scope(scope)
		res.Memories = append(res.Memories, m)
	}

	return res, memRows.Err()
}

func loadContentEntities[T any](ctx context.Context, db *sql.DB, table string, snapshotID int64, build func(name, hash, src string) T) ([]T, error) {
	query := fmt.Sprintf(`SELECT name, content_hash, source_path FROM %s WHERE snapshot_id = ? ORDER BY name`, table)

	rows, err := db.QueryContext(ctx, query, snapshotID)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", table)
	}
	defer rows.Close()

	var out []T

	for rows.Next() {
		var name, hash, src string
		if err := rows.Scan(&name, &hash, &src); err != nil {
			return nil, errors.Wrapf(err, "scanning %s", table)
		}

		out = append(out, build(name, hash, src))
	}

	return out, rows.Err()
}

func loadTags(ctx context.Context, db *sql.DB, snapshotID int64) ([]snapshot.Tag, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, COALESCE(creator, ''), created_at FROM tags WHERE snapshot_id = ? ORDER BY name`, snapshotID)
	if err != nil {
		return nil, errors.Wrap(err, "loading tags")
	}
	defer rows.Close()

	var out []snapshot.Tag

	for rows.Next() {
		var (
			t         snapshot.Tag
			createdAt int64
		)

		if err := rows.Scan(&t.ID, &t.Name, &t.Creator, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning tag")
		}

		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, t)
	}

	return out, rows.Err()
}

func loadAnnotations(ctx context.Context, db *sql.DB, snapshotID int64) ([]snapshot.Annotation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, text, COALESCE(creator, ''), created_at FROM annotations WHERE snapshot_id = ? ORDER BY id`, snapshotID)
	if err != nil {
		return nil, errors.Wrap(err, "loading annotations")
	}
	defer rows.Close()

	var out []snapshot.Annotation

	for rows.Next() {
		var (
			a         snapshot.Annotation
			createdAt int64
		)

		if err := rows.Scan(&a.ID, &a.Text, &a.Creator, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scanning annotation")
		}

		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}

	return out, rows.Err()
}

func loadParseErrors(ctx context.Context, db *sql.DB, snapshotID int64) ([]entity.ParseError, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT source_path, reason FROM snapshot_parse_errors WHERE snapshot_id = ? ORDER BY source_path`, snapshotID)
	if err != nil {
		return nil, errors.Wrap(err, "loading parse errors")
	}
	defer rows.Close()

	var out []entity.ParseError

	for rows.Next() {
		var p entity.ParseError
		if err := rows.Scan(&p.SourcePath, &p.Reason); err != nil {
			return nil, errors.Wrap(err, "scanning parse error")
		}

		out = append(out, p)
	}

	return out, rows.Err()
}

func deleteSnapshot(ctx context.Context, tx *sql.Tx, cs *contentstore.Store, id int64) error {
	hashes, err := referencedHashes(ctx, tx, id)
	if err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "deleting snapshot")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "reading rows affected")
	}

	if n == 0 {
		return store.ErrNotFound
	}

	for _, hash := range hashes {
		if err := cs.Release(ctx, tx, hash); err != nil {
			return err
		}
	}

	_, err = cs.Collect(ctx, tx)

	return err
}

func referencedHashes(ctx context.Context, tx *sql.Tx, snapshotID int64) ([]string, error) {
	var hashes []string

	queries := []string{
		`SELECT content_hash FROM path_observations WHERE snapshot_id = ? AND content_hash IS NOT NULL`,
		`SELECT content_hash FROM subagent_records WHERE snapshot_id = ?`,
		`SELECT content_hash FROM slash_command_records WHERE snapshot_id = ?`,
		`SELECT content_hash FROM memory_records WHERE snapshot_id = ?`,
	}

	for _, q := range queries {
		rows, err := tx.QueryContext(ctx, q, snapshotID)
		if err != nil {
			return nil, errors.Wrap(err, "collecting referenced hashes")
		}

		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				rows.Close()
				return nil, errors.Wrap(err, "scanning referenced hash")
			}

			hashes = append(hashes, h)
		}

		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}

		rows.Close()
	}

	return hashes, nil
}

func compareSnapshots(ctx context.Context, db *sql.DB, fromID, toID int64) (CompareResult, error) {
	fromObs, err := loadObservationsForCompare(ctx, db, fromID)
	if err != nil {
		return CompareResult{}, err
	}

	toObs, err := loadObservationsForCompare(ctx, db, toID)
	if err != nil {
		return CompareResult{}, err
	}

	changes := changedetect.Detect(fromObs, toObs)

	changeRows := make([]ChangeRow, 0, len(changes))
	for _, c := range changes {
		changeRows = append(changeRows, ChangeRow{
			Path: c.Path, Kind: string(c.Kind), SizeDelta: c.SizeDelta,
			OldHash: c.OldHash, NewHash: c.NewHash, KindTransition: c.KindTransition,
		})
	}

	fromEntities, err := loadEntities(ctx, db, fromID)
	if err != nil {
		return CompareResult{}, err
	}

	toEntities, err := loadEntities(ctx, db, toID)
	if err != nil {
		return CompareResult{}, err
	}

	return CompareResult{
		PathChanges:  changeRows,
		EntityDeltas: entitydiff.Diff(fromEntities, toEntities),
	}, nil
}

func loadObservationsForCompare(ctx context.Context, db *sql.DB, snapshotID int64) ([]changedetect.Observation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT resolved_path, kind, size, COALESCE(content_hash, ''), annotations FROM path_observations WHERE snapshot_id = ?`,
		snapshotID)
	if err != nil {
		return nil, errors.Wrap(err, "loading observations for compare")
	}
	defer rows.Close()

	out := []changedetect.Observation{}

	for rows.Next() {
		var (
			o           changedetect.Observation
			annotations string
		)

		if err := rows.Scan(&o.Path, &o.Kind, &o.Size, &o.ContentHash, &annotations); err != nil {
			return nil, errors.Wrap(err, "scanning observation for compare")
		}

		if o.ContentHash == "" {
			o.ContentHash = computedHashFromAnnotations(annotations)
		}

		out = append(out, o)
	}

	return out, rows.Err()
}

// computedHashFromAnnotations recovers the full-content hash recorded for a
// file whose bytes exceeded the capture cap, matching
// internal/snapshot.insertObservations' "computed_hash" annotation key, so
// compare_snapshots diffs over-cap files on the same domain as Create does.
func computedHashFromAnnotations(raw string) string {
	var annotations map[string]string
	if err := json.Unmarshal([]byte(raw), &annotations); err != nil {
		return ""
	}

	return annotations["computed_hash"]
}

func decodeJSONStrings(raw string) []string {
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)

	return out
}

func decodeJSONEnv(raw string) []entity.EnvPair {
	var out []entity.EnvPair
	_ = json.Unmarshal([]byte(raw), &out)

	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
