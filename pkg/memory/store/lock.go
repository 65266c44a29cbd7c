package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LockFile is created in the store directory while a Store holds it.
const LockFile = "mnemis.lock"

// ErrLocked is returned by Open when another Store holds the directory.
var ErrLocked = errors.New("store: directory is locked by another process")

type fileLock struct {
	path string
}

func acquireLock(dir string) (*fileLock, error) {
	path := filepath.Join(dir, LockFile)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("store: create lock %s: %w", path, err)
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("store: write lock %s: %w", path, err)
	}
	return &fileLock{path: path}, nil
}

func (l *fileLock) release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: release lock: %w", err)
	}
	return nil
}

// LockHolder returns the pid recorded in dir's lock file, or 0 when the
// directory is not locked.
func LockHolder(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, LockFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read lock: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("store: malformed lock file: %w", err)
	}
	return pid, nil
}

// BreakLock removes a lock left behind by a process that exited without
// closing its Store.
func BreakLock(dir string) error {
	return (&fileLock{path: filepath.Join(dir, LockFile)}).release()
}
