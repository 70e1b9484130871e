// Package blobdir is a sharded, content-addressed filesystem blob store,
// adapted from the teacher's blob.Storage filesystem backend
// (blob/filesystem.go): it keeps the sharded-directory layout and file-mode
// defaults, but is keyed by content hash rather than an opaque block id and
// drops the teacher's ListBlocks/BlockMetadata surface, which this module
// has no use for (the content_blobs table is the index of record).
package blobdir

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	defaultFileMode os.FileMode = 0o664
	defaultDirMode  os.FileMode = 0o775
)

// Dir stores blobs as plain files under Root, sharded by the first bytes of
// the hex-encoded hash so no single directory ever holds more than a few
// thousand entries (the teacher's fsDefaultShards = []int{1,3,3} idiom).
type Dir struct {
	Root string

	// Shards gives the number of leading hex characters consumed by each
	// directory level, e.g. []int{1,3,3} nests "a/bcd/efg/abcdefgh...".
	Shards []int
}

// New returns a Dir rooted at root with the teacher's default shard layout.
func New(root string) *Dir {
	return &Dir{Root: root, Shards: []int{1, 3, 3}}
}

func (d *Dir) pathFor(hash string) string {
	segs := make([]string, 0, len(d.Shards)+1)

	rest := hash
	for _, n := range d.Shards {
		if n >= len(rest) {
			break
		}

		segs = append(segs, rest[:n])
		rest = rest[n:]
	}

	segs = append(segs, hash)

	return filepath.Join(append([]string{d.Root}, segs...)...)
}

// Put writes data under hash, creating parent directories as needed.
// Idempotent: if the blob already exists on disk it is left untouched.
func (d *Dir) Put(hash string, data []byte) (string, error) {
	p := d.pathFor(hash)

	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	if err := os.MkdirAll(filepath.Dir(p), defaultDirMode); err != nil {
		return "", errors.Wrap(err, "creating blob directory")
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, defaultFileMode); err != nil {
		return "", errors.Wrap(err, "writing blob")
	}

	if err := os.Rename(tmp, p); err != nil {
		return "", errors.Wrap(err, "finalizing blob")
	}

	return p, nil
}

// Get returns a reader over the blob stored at the given path.
func (d *Dir) Get(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening blob")
	}

	return f, nil
}

// Remove deletes the blob file at path. Missing files are not an error:
// callers only call this after a refcount already reached zero.
func (d *Dir) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing blob")
	}

	return nil
}
