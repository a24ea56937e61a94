package storage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// writeLockOwner records the current pid in the lock file.
func writeLockOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate store lock: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write store lock owner: %w", err)
	}
	return nil
}

// readLockOwner returns the pid recorded in the lock file, or false when the
// file is missing, empty or still being written.
func readLockOwner(path string) (int, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func lockedError(path string) error {
	if pid, ok := readLockOwner(path); ok {
		return fmt.Errorf("%w: %s (held by pid %d)", ErrStoreLocked, path, pid)
	}
	return fmt.Errorf("%w: %s", ErrStoreLocked, path)
}
