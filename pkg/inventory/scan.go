package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Scan builds a fresh inventory from the regular files found under
// sessionDir. Files whose base name appears in excludeNames (typically
// the session's own metadata files) are left out. ServerPath is left
// empty; Reconcile fills it in once the session's server location is
// known. Records are sorted by Path for stable output.
func Scan(sessionDir string, excludeNames ...string) ([]FileRecord, error) {
	excluded := make(map[string]struct{}, len(excludeNames))
	for _, name := range excludeNames {
		excluded[name] = struct{}{}
	}

	var records []FileRecord
	err := filepath.WalkDir(sessionDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if _, skip := excluded[d.Name()]; skip {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}
		records = append(records, FileRecord{
			Path:      path,
			SizeBytes: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan session directory %s: %w", sessionDir, err)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
	return records, nil
}
