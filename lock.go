package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// lockFileName lives in the project state directory next to state.db.
const lockFileName = "sync.lock"

const (
	lockFilePermissions = 0o644
	lockDirPermissions  = 0o700
)

// errLocked means another process holds the project lock.
var errLocked = errors.New("another sync of this project is running")

// lockProject takes an exclusive flock on <dir>/sync.lock and writes the
// current PID into it. Two runs replaying onto the same target project
// would interleave deltas on one ref. The returned release func removes
// the file and drops the lock.
func lockProject(dir string) (release func(), err error) {
	if dir == "" {
		return nil, errors.New("project state directory is empty")
	}

	if err := os.MkdirAll(dir, lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating project directory: %w", err)
	}

	path := filepath.Join(dir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if pid, perr := readLockPID(dir); perr == nil {
			return nil, fmt.Errorf("%w (PID %d holds %s)", errLocked, pid, path)
		}

		return nil, fmt.Errorf("%w (could not lock %s)", errLocked, path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return nil, fmt.Errorf("syncing lock file: %w", err)
	}

	return func() {
		os.Remove(path)
		f.Close()
	}, nil
}

// readLockPID returns the PID recorded in the project lock file.
func readLockPID(dir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dir, lockFileName))
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", lockFileName, err)
	}

	return pid, nil
}

// runningSyncPID reports the PID of a live sync holding the project lock,
// or 0. A lock file left by a dead process is removed.
func runningSyncPID(dir string) int {
	pid, err := readLockPID(dir)
	if err != nil {
		return 0
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(filepath.Join(dir, lockFileName))
		return 0
	}

	return pid
}
