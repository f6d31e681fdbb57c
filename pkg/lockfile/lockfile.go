// Package lockfile guards a destination project directory against
// concurrent mirror runs. The lock is a JSON file created with O_EXCL;
// a background heartbeat refreshes its timestamp so crashed holders can
// be detected and taken over once the lock goes stale.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neuroforge/labmirror/pkg/plog"
	"github.com/neuroforge/labmirror/pkg/util"
)

// LockFileName is the name of the lock file created in the destination
// project directory. The '~' prefix marks it as temporary.
const LockFileName = ".~labmirror.lock"

// Content defines the structure of the data written to the lock file.
type Content struct {
	PID       int64     `json:"pid"`
	Hostname  string    `json:"hostname"`
	UpdatedAt time.Time `json:"updatedAt"`
	Nonce     string    `json:"nonce,omitempty"` // Used for takeover race resolution
	AppID     string    `json:"appID"`
}

// ErrLockActive is a structured error returned when a lock is already
// held by another process.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	AppID     string
	TimeSince time.Duration
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("destination is locked by PID %d on host '%s' (app: %s), last updated %s ago", e.PID, e.Hostname, e.AppID, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process wins a stale lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile indicates the lock file on disk is empty or not valid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// Lock manages the state of the acquired lock file.
type Lock struct {
	path    string
	content Content
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	held    bool
}

// Vars to allow modification during testing.
var (
	heartbeatInterval = 1 * time.Minute
	// staleTimeout is a multiple of the heartbeat so a live holder has
	// several chances to refresh before being considered dead.
	staleTimeout = 3 * heartbeatInterval
)

// Acquire attempts to acquire the lock in dirPath. It returns a non-nil
// Lock on success, (nil, *ErrLockActive) when another process holds a
// fresh lock, and (nil, error) for any other failure. ctx bounds the
// acquisition attempt only, not the background heartbeat.
func Acquire(ctx context.Context, dirPath string, appID string) (*Lock, error) {
	lockPath := filepath.Join(dirPath, LockFileName)
	maxAttempts := 3

	for i := 0; i < maxAttempts; i++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lock, err := tryAcquire(lockPath, appID)
		if err == nil {
			go lock.heartbeat()
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to access lock file: %w", err)
		}

		// Someone holds the lock. Decide whether it is stale.
		content, readErr := readContent(lockPath)
		if readErr != nil {
			if os.IsNotExist(readErr) {
				// Holder released between our create attempt and the read.
				continue
			}
			if errors.Is(readErr, ErrCorruptLockFile) {
				plog.Warn("Found corrupt lock file, treating as stale", "path", lockPath, "error", readErr)
			} else {
				time.Sleep(100 * time.Millisecond)
				continue
			}
		} else {
			elapsed := time.Since(content.UpdatedAt)
			if elapsed < staleTimeout {
				return nil, &ErrLockActive{
					PID:       content.PID,
					Hostname:  content.Hostname,
					AppID:     content.AppID,
					TimeSince: elapsed,
				}
			}
			plog.Warn("Found stale lock, attempting takeover", "pid", content.PID, "age", elapsed)
		}

		lock, takeoverErr := takeover(lockPath, appID)
		if takeoverErr != nil {
			if errors.Is(takeoverErr, ErrLostRace) {
				plog.Debug("Lock takeover race lost, retrying acquisition")
			} else {
				plog.Warn("Lock takeover failed, retrying", "error", takeoverErr)
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		go lock.heartbeat()
		return lock, nil
	}

	return nil, fmt.Errorf("failed to acquire lock after %d attempts (contention)", maxAttempts)
}

// tryAcquire creates the lock file with O_EXCL so only one process can win.
func tryAcquire(lockPath string, appID string) (*Lock, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := newContent(appID)
	if err != nil {
		return nil, err
	}

	l := newLock(lockPath, content)
	if err := writeContent(f, content); err != nil {
		l.cleanup()
		return nil, err
	}

	return l, nil
}

// takeover replaces a stale or corrupt lock file via an atomic rename and
// verifies by read-back that this process won any concurrent takeover.
func takeover(lockPath, appID string) (*Lock, error) {
	content, err := newContent(appID)
	if err != nil {
		return nil, err
	}

	if err := replaceAtomic(lockPath, content); err != nil {
		return nil, err
	}

	readback, err := readContent(lockPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read back lock file after takeover: %w", err)
	}
	if readback.PID != content.PID || readback.Nonce != content.Nonce {
		return nil, ErrLostRace
	}

	plog.Debug("Took over stale lock", "path", lockPath)
	return newLock(lockPath, content), nil
}

func newContent(appID string) (Content, error) {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return Content{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return Content{}, err
	}

	return Content{
		PID:       int64(os.Getpid()),
		Hostname:  hostname,
		UpdatedAt: time.Now().UTC(),
		Nonce:     fmt.Sprintf("%x", nonceBytes),
		AppID:     appID,
	}, nil
}

func newLock(lockPath string, content Content) *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	return &Lock{
		path:    lockPath,
		content: content,
		ctx:     ctx,
		cancel:  cancel,
		held:    true,
	}
}

// Release stops the heartbeat and removes the lock file. Safe to call
// more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}

	l.cancel()
	l.cleanup()
	l.held = false
}

func (l *Lock) cleanup() {
	if err := os.Remove(l.path); err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
		}
	} else {
		plog.Debug("Lock released", "path", l.path)
	}
}

func (l *Lock) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.content.UpdatedAt = time.Now().UTC()
			if err := replaceAtomic(l.path, l.content); err != nil {
				plog.Warn("Heartbeat failed to update lock file", "error", err)
				// Try again next tick.
			}
		}
	}
}

// replaceAtomic writes content to a temp file in the same directory and
// renames it over the lock path, so readers never observe a partial file.
func replaceAtomic(lockPath string, content Content) error {
	tmpF, err := os.CreateTemp(filepath.Dir(lockPath), filepath.Base(lockPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp lock file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmpF.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary lock file", "path", tmpF.Name(), "error", err)
		}
	}()

	if err := writeContent(tmpF, content); err != nil {
		tmpF.Close()
		return err
	}
	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		return err
	}
	if err := tmpF.Close(); err != nil {
		return fmt.Errorf("failed to close temp lock file: %w", err)
	}

	if err := os.Rename(tmpF.Name(), lockPath); err != nil {
		return fmt.Errorf("failed to rename temp file to lock file: %w", err)
	}
	return nil
}

func writeContent(w io.Writer, content Content) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock content: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write lock content: %w", err)
	}
	return nil
}

// readContent reads the lock file, retrying briefly on empty or partial
// content that can appear transiently around a concurrent atomic replace.
func readContent(lockPath string) (Content, error) {
	var lastErr error
	var lastCorruptErr error
	for i := 0; i < 3; i++ {
		data, err := os.ReadFile(lockPath)
		if err != nil {
			if os.IsNotExist(err) {
				return Content{}, err
			}
			lastErr = err
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if len(data) == 0 {
			lastCorruptErr = fmt.Errorf("lock file is empty")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		var content Content
		lastCorruptErr = json.Unmarshal(data, &content)
		if lastCorruptErr != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		return content, nil
	}

	if lastCorruptErr != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastCorruptErr)
	}
	return Content{}, fmt.Errorf("failed to read valid lock content: %w", lastErr)
}
