//go:build !unix

package storage

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaleMarkerIsTakenOver(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pctrl.db.lock")
	require.NoError(t, os.WriteFile(path, []byte("999999\n"), 0o600))
	require.True(t, staleMarker(path, func(int) bool { return false }))
	require.False(t, staleMarker(path, func(int) bool { return true }))

	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600))
	require.False(t, staleMarker(path, func(int) bool { return false }))

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.False(t, staleMarker(path, func(int) bool { return false }))
}

func TestAcquireLockReplacesDeadOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pctrl.db.lock")
	held, err := acquireLock(path)
	require.NoError(t, err)

	_, err = acquireLock(path)
	require.ErrorIs(t, err, ErrStoreLocked)
	held.release()

	// A pid that cannot be running.
	require.NoError(t, os.WriteFile(path, []byte("2147483647\n"), 0o600))
	lock, err := acquireLock(path)
	require.NoError(t, err)
	pid, ok := readLockOwner(path)
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)
	lock.release()
}
