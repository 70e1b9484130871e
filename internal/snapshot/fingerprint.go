package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/justSteve/claude-config-history/internal/scanner"
)

// Fingerprint computes the deterministic snapshot-level hash of spec.md §4.4
// step 4 / §3 invariant 5: a SHA-256 over the canonicalized, sorted
// multiset of (location, path, kind, size, content hash) tuples. Two scans
// of unchanged state always produce the same fingerprint regardless of
// mtime or observation order.
func Fingerprint(obs []scanner.Observation) string {
	rows := make([]string, 0, len(obs))

	for _, o := range obs {
		hash := o.ComputedHash
		if o.Kind != scanner.KindFile {
			hash = ""
		}

		rows = append(rows, strings.Join([]string{
			o.LocationID, o.ResolvedPath, string(o.Kind), strconv.FormatInt(o.Size, 10), hash,
		}, "\x1f"))
	}

	sort.Strings(rows)

	h := sha256.New()
	for _, r := range rows {
		h.Write([]byte(r))
		h.Write([]byte("\x1e"))
	}

	return hex.EncodeToString(h.Sum(nil))
}
