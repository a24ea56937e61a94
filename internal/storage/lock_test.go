package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockRecordsOwnerPID(t *testing.T) {
	t.Parallel()

	path := rawDBPath(t)
	store := openTestStoreAt(t, path, "pw")

	pid, ok := readLockOwner(path + ".lock")
	require.True(t, ok)
	require.Equal(t, os.Getpid(), pid)

	_, err := Open(context.Background(), path, []byte("pw"), testOptions())
	require.ErrorIs(t, err, ErrStoreLocked)
	require.Contains(t, err.Error(), fmt.Sprintf("held by pid %d", os.Getpid()))

	require.NoError(t, store.Close())
}

func TestReadLockOwnerRejectsGarbage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, content := range map[string]string{
		"empty":    "",
		"text":     "not-a-pid\n",
		"negative": "-4\n",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, ok := readLockOwner(path)
		require.Falsef(t, ok, "content %q", content)
	}

	_, ok := readLockOwner(filepath.Join(dir, "missing"))
	require.False(t, ok)

	err := lockedError(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, ErrStoreLocked)
	require.NotContains(t, err.Error(), "held by pid")
}
