package mirror

import "os"

// NeedsCopy reports whether srcPath must be (re)copied to dstPath.
//
// The decision is size-based: a missing destination or a size mismatch
// means copy. If either path cannot be stat'ed the answer is also true,
// failing open toward re-transfer rather than silently skipping a possibly
// stale file.
//
// Two files of equal size but different content are indistinguishable to
// this check. That is a deliberate trade-off for the large, append-mostly
// instrument files this tool mirrors, not something to upgrade to content
// hashing without a corresponding change in the design.
func NeedsCopy(srcPath, dstPath string) bool {
	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		return true // Missing or unreadable destination: copy.
	}

	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return true // Unreadable source: let the copy surface the real error.
	}

	return srcInfo.Size() != dstInfo.Size()
}
