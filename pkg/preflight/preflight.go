// Package preflight provides validation checks that run before a mirror
// operation begins. The checks are stateless except for the writability
// probe, which creates and removes a temporary file.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/neuroforge/labmirror/pkg/util"
)

// CheckSourceAccessible validates that the source project directory
// exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}

// CheckServerRootAccessible performs pre-flight checks on the server
// root, giving friendlier errors than letting os.MkdirAll fail later.
// If the path exists it must be a directory; if it does not, its parent
// must be accessible so the project directory can be created beneath it.
func CheckServerRootAccessible(serverRoot string) error {
	info, err := os.Stat(serverRoot)
	if os.IsNotExist(err) {
		parentDir := filepath.Dir(serverRoot)
		if _, err := os.Stat(parentDir); os.IsNotExist(err) {
			return fmt.Errorf("server root and its parent directory do not exist: %s", parentDir)
		} else if err != nil {
			return fmt.Errorf("cannot access parent directory %s: %w", parentDir, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access server root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("server root exists but is not a directory: %s", serverRoot)
	}

	return nil
}

// CheckServerRootMounted guards against "ghost" server roots: a mount
// point directory that exists on the system disk while the actual share
// or drive is not mounted. Paths under the user's home directory are
// always accepted.
func CheckServerRootMounted(serverRoot string) error {
	// Walk up to the deepest existing ancestor; the server root itself
	// may not exist yet on a first run.
	ancestor := serverRoot
	for {
		if _, err := os.Stat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break // Hit root
		}
		ancestor = parent
	}

	return platformValidateMountPoint(ancestor)
}

// CheckServerRootWritable ensures the server root can be created and is
// writable by creating and removing a probe file.
func CheckServerRootWritable(serverRoot string) error {
	if err := os.MkdirAll(serverRoot, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create server root %s: %w", serverRoot, err)
	}

	probe := filepath.Join(serverRoot, ".labmirror-writetest.tmp")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("server root %s is not writable: %w", serverRoot, err)
	}
	f.Close()
	_ = os.Remove(probe)
	return nil
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// requiredBytes available to the calling user.
func CheckFreeSpace(path string, requiredBytes int64) error {
	free, err := freeBytes(path)
	if err != nil {
		return fmt.Errorf("cannot determine free space at %s: %w", path, err)
	}

	if free < uint64(requiredBytes) {
		return fmt.Errorf("not enough free space at %s: need %s, have %s",
			path, util.ByteCountIEC(requiredBytes), util.ByteCountIEC(int64(free)))
	}

	return nil
}
