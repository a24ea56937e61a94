//go:build !unix

package storage

import (
	"errors"
	"fmt"
	"os"
)

type fileLock struct {
	path string
}

// acquireLock falls back to an exclusively created marker file holding the
// owner's pid. A marker whose owner is no longer running is removed and the
// lock taken over.
func acquireLock(path string) (*fileLock, error) {
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			err = writeLockOwner(f)
			_ = f.Close()
			if err != nil {
				_ = os.Remove(path)
				return nil, err
			}
			return &fileLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock store: %w", err)
		}
		if attempt > 0 || !staleMarker(path, processAlive) {
			return nil, lockedError(path)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale store lock: %w", err)
		}
	}
}

// staleMarker reports whether the marker names a pid that is not running. A
// marker without a readable pid may still be in the middle of being written,
// so it is never stale.
func staleMarker(path string, alive func(pid int) bool) bool {
	pid, ok := readLockOwner(path)
	if !ok {
		return false
	}
	return pid != os.Getpid() && !alive(pid)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

func (l *fileLock) release() {
	if l == nil || l.path == "" {
		return
	}
	_ = os.Remove(l.path)
	l.path = ""
}
