// Package settings persists the application's small pieces of state
// that outlive a single run: the server root chosen for each project and
// the last project the user worked on. State lives in a bbolt database
// under the user's home directory.
package settings

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// settingsDirPerm is the permission mode for the settings directory (~/.labmirror/).
	settingsDirPerm = fs.FileMode(0o700)

	// settingsFilePerm is the permission mode for the settings database file.
	settingsFilePerm = fs.FileMode(0o600)

	// settingsOpenTimeout is the maximum time to wait for the bolt database lock.
	settingsOpenTimeout = 5 * time.Second
)

var (
	serverRootsBucket = []byte("server_roots")
	appBucket         = []byte("app")
	lastProjectKey    = []byte("last_project")
)

// Store wraps a bbolt database holding the persistent settings.
type Store struct {
	db *bolt.DB
}

// Open opens the settings database at ~/.labmirror/settings.db, creating
// it if it does not exist.
func Open() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return OpenAt(path)
}

// OpenAt opens a settings database at the given path, creating it if it
// does not exist. Useful for tests that need an isolated database.
func OpenAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), settingsDirPerm); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	db, err := bolt.Open(path, settingsFilePerm, &bolt.Options{Timeout: settingsOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening settings db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(serverRootsBucket); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(appBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing settings db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ServerRootForProject returns the server root stored for a project, or
// empty string when none has been chosen yet.
func (s *Store) ServerRootForProject(project string) string {
	var root string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(serverRootsBucket).Get([]byte(project))
		if v != nil {
			root = string(v)
		}

		return nil
	})

	return root
}

// SetServerRootForProject persists the server root chosen for a project.
func (s *Store) SetServerRootForProject(project, serverRoot string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(serverRootsBucket).Put([]byte(project), []byte(serverRoot))
	})
}

// ServerRoots returns every stored project to server-root mapping.
func (s *Store) ServerRoots() (map[string]string, error) {
	result := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(serverRootsBucket).ForEach(func(k, v []byte) error {
			result[string(k)] = string(v)

			return nil
		})
	})

	return result, err
}

// LastOpenedProject returns the most recently used project name, or
// empty string.
func (s *Store) LastOpenedProject() string {
	var project string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(lastProjectKey)
		if v != nil {
			project = string(v)
		}

		return nil
	})

	return project
}

// SetLastOpenedProject persists the most recently used project name.
func (s *Store) SetLastOpenedProject(project string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(lastProjectKey, []byte(project))
	})
}

// DefaultPath returns the settings database location under the user's
// home directory.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}

	return filepath.Join(dir, ".labmirror", "settings.db"), nil
}
