package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
)

// WithUserWritePermission ensures that any directory/file permission has the
// owner-write bit (0200) set. This prevents the mirroring user from being
// locked out of the server copy on subsequent runs when the source carries
// read-only permissions.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// NormalizedRelPath returns the path of absPath relative to base, with
// forward slashes regardless of platform. The result is a stable key for
// logging and map lookups, not a path for direct filesystem access.
func NormalizedRelPath(base, absPath string) (string, error) {
	relPath, err := filepath.Rel(base, absPath)
	if err != nil {
		return "", fmt.Errorf("failed to get relative path for %s: %w", absPath, err)
	}
	return filepath.ToSlash(relPath), nil
}

// DenormalizedAbsPath joins a forward-slash relative key onto base using
// the platform's separator, producing a path usable for filesystem access.
func DenormalizedAbsPath(base, relPathKey string) string {
	return filepath.Join(base, filepath.FromSlash(relPathKey))
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	return filepath.Join(home, path[1:]), nil
}

// ByteCountIEC renders a byte count in human-readable IEC units (KiB, MiB, ...).
func ByteCountIEC(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

// MegabytesPerSecond converts a bytes-per-second rate to MB/s for display.
// The mirror's progress lines use decimal-free 1024*1024 divisors to match
// the rate the copier computes internally.
func MegabytesPerSecond(bytesPerSec float64) float64 {
	return bytesPerSec / (1024 * 1024)
}
