package inventory

import (
	"os"
	"path/filepath"
	"strings"
)

// Reconcile re-derives the server-side location of every record after a
// mirror run. For each record the candidate server path is
// sessionServerDir joined with the record's path relative to
// sessionRawDir; the candidate is kept only when a file actually exists
// there, otherwise ServerPath is cleared. Records whose Path does not
// live under sessionRawDir also get an empty ServerPath rather than a
// bogus join. ServerPath is the only field touched; sizes and paths are
// the scanner's to maintain.
//
// The input slice is not modified; a fresh slice is returned.
func Reconcile(records []FileRecord, sessionRawDir, sessionServerDir string) []FileRecord {
	out := make([]FileRecord, 0, len(records))
	for _, rec := range records {
		updated := rec
		updated.ServerPath = ""

		rel, err := filepath.Rel(sessionRawDir, rec.Path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			candidate := filepath.Join(sessionServerDir, rel)
			if info, statErr := os.Stat(candidate); statErr == nil && info.Mode().IsRegular() {
				updated.ServerPath = candidate
			}
		}

		out = append(out, updated)
	}
	return out
}
