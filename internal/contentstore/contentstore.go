// Package contentstore implements the deduplicating, SHA-256-addressed
// byte store described in spec.md §4.3. Small blobs are stored inline in
// the content_blobs table; blobs above InlineThresholdBytes overflow to a
// sharded blobdir.Dir, adapting the teacher's blob.Storage filesystem
// backend as the overflow tier.
package contentstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"

	"github.com/pkg/errors"

	"github.com/justSteve/claude-config-history/internal/blobdir"
)

// InlineThresholdBytes is the storage-side half of spec.md §9's size-cap
// Open Question: blobs at or below this size live inline in the database;
// larger blobs overflow to the external blob directory. It is separate from
// the scanner's capture cap (scanner.SizeCap), which is the value each
// snapshot records as Snapshot.ContentCapBytes; this threshold is not
// recorded per snapshot.
const InlineThresholdBytes = 32 * 1024

// ErrHashMismatch is a fatal content-store integrity error: the bytes read
// back from storage do not hash to the handle's recorded hash.
var ErrHashMismatch = errors.New("content hash mismatch")

// Handle identifies a stored blob by its content hash.
type Handle struct {
	Hash string
	Size int64
}

// EmptyHash is the SHA-256 hash of the zero-length byte sequence, the
// canonical "empty blob" every ContentStore must support (spec.md §4.3).
var EmptyHash = hashBytes(nil)

// Store is the content-addressed blob store. It is not safe for concurrent
// writers outside of the transaction discipline its callers (scanner,
// snapshot.Writer) already impose: every Put/Release happens inside the
// same *sql.Tx as the row that references the blob, per spec.md §5.
type Store struct {
	Dir *blobdir.Dir
}

// New returns a Store overflowing large blobs into dir.
func New(dir *blobdir.Dir) *Store {
	return &Store{Dir: dir}
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Put stores data (idempotently: an existing blob with the same hash has
// its reference count incremented rather than being rewritten) and returns
// its handle. The insert/update happens on tx, so the reference-count
// mutation is part of whatever transaction the caller is already in.
func (s *Store) Put(ctx context.Context, tx *sql.Tx, data []byte) (Handle, error) {
	hash := hashBytes(data)
	size := int64(len(data))

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM content_blobs WHERE hash = ?`, hash).Scan(new(int)); err == nil {
		exists = true
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Handle{}, errors.Wrap(err, "checking existing blob")
	}

	if exists {
		if _, err := tx.ExecContext(ctx, `UPDATE content_blobs SET ref_count = ref_count + 1 WHERE hash = ?`, hash); err != nil {
			return Handle{}, errors.Wrap(err, "incrementing blob refcount")
		}

		return Handle{Hash: hash, Size: size}, nil
	}

	var inline []byte

	var external sql.NullString

	if size <= InlineThresholdBytes || s.Dir == nil {
		inline = data
	} else {
		path, err := s.Dir.Put(hash, data)
		if err != nil {
			return Handle{}, errors.Wrap(err, "writing overflow blob")
		}

		external = sql.NullString{String: path, Valid: true}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO content_blobs (hash, size, ref_count, inline_data, external_path) VALUES (?, ?, 1, ?, ?)`,
		hash, size, inline, external)
	if err != nil {
		return Handle{}, errors.Wrap(err, "inserting blob")
	}

	return Handle{Hash: hash, Size: size}, nil
}

// Get returns the full bytes for hash, verifying the hash on read.
func (s *Store) Get(ctx context.Context, db Queryer, hash string) ([]byte, error) {
	var (
		inline   []byte
		external sql.NullString
	)

	err := db.QueryRowContext(ctx, `SELECT inline_data, external_path FROM content_blobs WHERE hash = ?`, hash).
		Scan(&inline, &external)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, errors.Wrapf(ErrNotFoundBlob, "hash %s", hash)
	case err != nil:
		return nil, errors.Wrap(err, "reading blob row")
	}

	var data []byte

	if external.Valid {
		f, err := s.Dir.Get(external.String)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		data, err = io.ReadAll(f)
		if err != nil {
			return nil, errors.Wrap(err, "reading overflow blob")
		}
	} else {
		data = inline
	}

	if hashBytes(data) != hash {
		return nil, errors.Wrapf(ErrHashMismatch, "hash %s", hash)
	}

	return data, nil
}

// ErrNotFoundBlob is returned by Get when no blob with the given hash exists.
var ErrNotFoundBlob = errors.New("content blob not found")

// Release decrements the reference count for hash; when it reaches zero the
// blob becomes garbage. Collection of zero-refcount blobs (including
// removing overflow files from disk) is deferred to Collect, matching
// spec.md §4.3's "collection may be deferred".
func (s *Store) Release(ctx context.Context, tx *sql.Tx, hash string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE content_blobs SET ref_count = ref_count - 1 WHERE hash = ? AND ref_count > 0`, hash)
	if err != nil {
		return errors.Wrap(err, "decrementing blob refcount")
	}

	return nil
}

// Collect removes every zero-refcount blob row, and its overflow file if
// any, reclaiming storage for blobs no observation or entity record
// references any more.
func (s *Store) Collect(ctx context.Context, tx *sql.Tx) (collected int, err error) {
	rows, err := tx.QueryContext(ctx, `SELECT hash, external_path FROM content_blobs WHERE ref_count <= 0`)
	if err != nil {
		return 0, errors.Wrap(err, "listing garbage blobs")
	}

	type garbage struct {
		hash     string
		external sql.NullString
	}

	var garbages []garbage

	for rows.Next() {
		var g garbage
		if err := rows.Scan(&g.hash, &g.external); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "scanning garbage blob")
		}

		garbages = append(garbages, g)
	}

	rows.Close()

	for _, g := range garbages {
		if g.external.Valid && s.Dir != nil {
			if err := s.Dir.Remove(g.external.String); err != nil {
				return collected, err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM content_blobs WHERE hash = ?`, g.hash); err != nil {
			return collected, errors.Wrap(err, "deleting garbage blob row")
		}

		collected++
	}

	return collected, nil
}

// Stats summarizes the store's deduplication behavior.
type Stats struct {
	DistinctBlobs int64
	TotalRefs     int64
	TotalBytes    int64
}

// DeduplicationRatio returns TotalRefs/DistinctBlobs, or 1.0 when empty.
func (st Stats) DeduplicationRatio() float64 {
	if st.DistinctBlobs == 0 {
		return 1.0
	}

	return float64(st.TotalRefs) / float64(st.DistinctBlobs)
}

// Queryer is satisfied by both *sql.DB and *sql.Tx.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ComputeStats reads aggregate statistics over the content store.
func ComputeStats(ctx context.Context, db Queryer) (Stats, error) {
	var st Stats

	row := db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(ref_count), 0), COALESCE(SUM(size), 0) FROM content_blobs`)
	if err := row.Scan(&st.DistinctBlobs, &st.TotalRefs, &st.TotalBytes); err != nil {
		return Stats{}, errors.Wrap(err, "computing content store stats")
	}

	return st, nil
}
