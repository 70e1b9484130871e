// Package scanner walks resolved locations and produces the ordered
// sequence of observation drafts a SnapshotWriter will persist, per
// spec.md §4.2.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/justSteve/claude-config-history/internal/pathresolver"
)

// Kind mirrors spec.md §3's PathObservation.kind domain.
type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
	KindAbsent    Kind = "absent"
)

// Observation is a pre-persistence draft of a PathObservation: everything
// the writer needs except the snapshot id it will belong to.
type Observation struct {
	LocationID               string
	Category                 string
	ResolvedPath             string
	Kind                     Kind
	Size                     int64
	Mtime                    time.Time
	Mode                     os.FileMode
	Data                     []byte // nil unless Kind == KindFile and content was captured
	ComputedHash             string // set for KindFile, even when content wasn't captured; empty if the file could not be read
	ContentNotCapturedReason string
	Error                    string
}

// Result is everything one Scan produced.
type Result struct {
	Observations []Observation
	ErrorCount   int
}

// SizeCap bounds how large a file may be before its content is skipped
// (spec.md §4.2's "Size policy"); the hash is still computed by streaming.
type SizeCap int64

// Scan walks every resolved location in id order (spec.md §4.2 step 1),
// recursing depth-first in sorted-name order through directories. A single
// path erroring never aborts the scan: the error is recorded on that
// observation and the traversal continues (spec.md §4.2, §7 category 3).
func Scan(ctx context.Context, locations []pathresolver.ResolvedLocation, cap SizeCap) (Result, error) {
	sorted := append([]pathresolver.ResolvedLocation(nil), locations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var res Result

	for _, loc := range sorted {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		scanLocation(ctx, loc, cap, &res)
	}

	return res, nil
}

func scanLocation(ctx context.Context, loc pathresolver.ResolvedLocation, cap SizeCap, res *Result) {
	info, err := os.Lstat(loc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			res.Observations = append(res.Observations, Observation{
				LocationID: loc.ID, Category: loc.Category, ResolvedPath: loc.Path, Kind: KindAbsent,
			})

			return
		}

		res.Observations = append(res.Observations, Observation{
			LocationID: loc.ID, Category: loc.Category, ResolvedPath: loc.Path, Kind: KindAbsent,
			Error: err.Error(),
		})
		res.ErrorCount++

		return
	}

	if info.IsDir() {
		res.Observations = append(res.Observations, Observation{
			LocationID: loc.ID, Category: loc.Category, ResolvedPath: loc.Path,
			Kind: KindDirectory, Mtime: info.ModTime(), Mode: info.Mode(),
		})
		walkDir(ctx, loc, loc.Path, cap, res)

		return
	}

	obs := fileObservation(loc, loc.Path, info, cap)
	res.Observations = append(res.Observations, obs)

	if obs.Error != "" {
		res.ErrorCount++
	}
}

func walkDir(ctx context.Context, loc pathresolver.ResolvedLocation, dir string, cap SizeCap, res *Result) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		res.Observations = append(res.Observations, Observation{
			LocationID: loc.ID, Category: loc.Category, ResolvedPath: dir, Kind: KindDirectory,
			Error: err.Error(),
		})
		res.ErrorCount++

		return
	}

	names := make([]string, 0, len(entries))
	byName := make(map[string]os.DirEntry, len(entries))

	for _, e := range entries {
		names = append(names, e.Name())
		byName[e.Name()] = e
	}

	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}

		entry := byName[name]
		full := filepath.Join(dir, name)

		if loc.Options.EnumerateLogs && !entry.IsDir() {
			matched, merr := filepath.Match(loc.Options.LogPattern, name)
			if merr != nil || !matched {
				continue
			}
		}

		info, err := entry.Info()
		if err != nil {
			res.Observations = append(res.Observations, Observation{
				LocationID: loc.ID, Category: loc.Category, ResolvedPath: full, Error: err.Error(),
			})
			res.ErrorCount++

			continue
		}

		if entry.IsDir() {
			res.Observations = append(res.Observations, Observation{
				LocationID: loc.ID, Category: loc.Category, ResolvedPath: full,
				Kind: KindDirectory, Mtime: info.ModTime(), Mode: info.Mode(),
			})
			walkDir(ctx, loc, full, cap, res)

			continue
		}

		obs := fileObservation(loc, full, info, cap)
		res.Observations = append(res.Observations, obs)

		if obs.Error != "" {
			res.ErrorCount++
		}
	}
}

func fileObservation(loc pathresolver.ResolvedLocation, path string, info os.FileInfo, cap SizeCap) Observation {
	base := Observation{
		LocationID: loc.ID, Category: loc.Category, ResolvedPath: path,
		Kind: KindFile, Size: info.Size(), Mtime: info.ModTime(), Mode: info.Mode(),
	}

	f, err := os.Open(path)
	if err != nil {
		base.Error = errors.Wrap(err, "opening file").Error()
		return base
	}
	defer f.Close()

	h := sha256.New()

	if cap > 0 && info.Size() > int64(cap) {
		if _, err := io.Copy(h, f); err != nil {
			base.Error = errors.Wrap(err, "hashing oversized file").Error()
			return base
		}

		base.ComputedHash = hex.EncodeToString(h.Sum(nil))
		base.ContentNotCapturedReason = "exceeds cap"

		return base
	}

	data, err := io.ReadAll(io.TeeReader(f, h))
	if err != nil {
		base.Error = errors.Wrap(err, "reading file").Error()
		return base
	}

	base.Data = data
	base.ComputedHash = hex.EncodeToString(h.Sum(nil))

	return base
}
