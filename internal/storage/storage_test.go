package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pctrl/pctrl/internal/crypto"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestOpenCreatesStoreAtCurrentVersion(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	report := store.Report()

	require.True(t, report.Migration.Created)
	require.Empty(t, report.Migration.Applied)
	require.Equal(t, CurrentSchemaVersion, report.Migration.To)
	require.NotEmpty(t, report.StoreID)

	version, err := store.SchemaVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, CurrentSchemaVersion, version)

	for _, table := range []string{"store_meta", "schema_migrations", "projects", "servers", "domains", "databases", "containers", "scripts", "credentials", "project_resources"} {
		require.Truef(t, tableExists(t, store.DB(), table), "expected table %s to exist", table)
	}
}

func TestOpenWrongPassphraseFailsAuthentication(t *testing.T) {
	t.Parallel()

	path := rawDBPath(t)
	store := openTestStoreAt(t, path, "correct horse")
	require.NoError(t, store.Projects.Save(context.Background(), &Project{Name: "blog"}))
	require.NoError(t, store.Close())

	for _, wrong := range []string{"correct horsE", "battery staple", "x"} {
		_, err := Open(context.Background(), path, []byte(wrong), testOptions())
		require.ErrorIs(t, err, ErrAuthenticationFailed, wrong)
	}

	reopened := openTestStoreAt(t, path, "correct horse")
	project, err := reopened.Projects.GetByName(context.Background(), "blog")
	require.NoError(t, err)
	require.Equal(t, "blog", project.Name)
}

func TestOpenNonDatabaseFileFailsAuthentication(t *testing.T) {
	t.Parallel()

	path := rawDBPath(t)
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not sqlite at all "), 512), 0o600))

	_, err := Open(context.Background(), path, []byte("pw"), testOptions())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestOpenTamperedEnvelopeFailsAuthentication(t *testing.T) {
	t.Parallel()

	path := rawDBPath(t)
	store := openTestStoreAt(t, path, "pw")
	require.NoError(t, store.Close())

	db := openRawDB(t, path)
	_, err := db.Exec(`UPDATE store_meta SET value = '{"store_id":"x","salt":"zz"}' WHERE key = 'envelope'`)
	require.NoError(t, err)
	closeNoErr(t, db)

	_, err = Open(context.Background(), path, []byte("pw"), testOptions())
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestOpenRejectsEmptyPassphrase(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), rawDBPath(t), nil, testOptions())
	require.ErrorIs(t, err, ErrValidation)
}

func TestOpenWhileLockedReturnsStoreLocked(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("flock semantics are unix-specific")
	}

	path := rawDBPath(t)
	store := openTestStoreAt(t, path, "pw")

	_, err := Open(context.Background(), path, []byte("pw"), testOptions())
	require.ErrorIs(t, err, ErrStoreLocked)

	require.NoError(t, store.Close())
	again, err := Open(context.Background(), path, []byte("pw"), testOptions())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestRowsAreOpaqueOnDisk(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Projects.Save(ctx, &Project{Name: "very-visible-project", Notes: "launch codes"}))
	require.NoError(t, store.Databases.Save(ctx, &DatabaseCredentials{Name: "maindb", Password: "secret123"}))

	var blobs [][]byte
	for _, query := range []string{
		`SELECT payload_ciphertext FROM projects`,
		`SELECT lookup_mac FROM projects`,
		`SELECT password_ciphertext FROM databases`,
	} {
		var blob []byte
		require.NoError(t, store.DB().QueryRow(query).Scan(&blob))
		blobs = append(blobs, blob)
	}
	for _, blob := range blobs {
		require.NotContains(t, string(blob), "very-visible-project")
		require.NotContains(t, string(blob), "launch codes")
		require.NotContains(t, string(blob), "secret123")
	}
}

func TestSwappedPayloadFailsToOpen(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	a := &Project{Name: "a"}
	b := &Project{Name: "b"}
	require.NoError(t, store.Projects.Save(ctx, a))
	require.NoError(t, store.Projects.Save(ctx, b))

	_, err := store.DB().Exec(`
		UPDATE projects SET
			payload_ciphertext = (SELECT payload_ciphertext FROM projects WHERE id = ?),
			payload_nonce = (SELECT payload_nonce FROM projects WHERE id = ?)
		WHERE id = ?
	`, b.ID, b.ID, a.ID)
	require.NoError(t, err)

	_, err = store.Projects.Get(ctx, a.ID)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestConcurrentReadsWhileWriteWithWAL(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	server := &Server{Name: "race-host", Host: "10.0.0.50"}
	require.NoError(t, store.Servers.Save(ctx, server))

	const readers = 8
	errCh := make(chan error, readers+1)
	var wg sync.WaitGroup

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := store.Servers.List(ctx); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			update := *server
			update.Host = fmt.Sprintf("10.0.0.%d", 60+i)
			if err := store.Servers.Save(ctx, &update); err != nil {
				errCh <- err
				return
			}
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestStoreFilePermissions0600OnUnix(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permissions assertion is unix-specific")
	}

	path := filepath.Join(t.TempDir(), "nested", "pctrl.db")
	store := openTestStoreAt(t, path, "pw")
	require.NoError(t, store.Projects.Save(context.Background(), &Project{Name: "perm"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())
}

func TestUUIDUniquenessForEntityCreation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	ids := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		s := &Script{Name: fmt.Sprintf("script-%d", i), Command: "uptime"}
		require.NoError(t, store.Scripts.Save(ctx, s))
		_, exists := ids[s.ID]
		require.False(t, exists)
		ids[s.ID] = struct{}{}
	}
}

func TestTimestampsAutoPopulatedAndUpdatedAtChanges(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	server := &Server{Name: "stamp-host", Host: "10.0.0.20"}
	require.NoError(t, store.Servers.Save(ctx, server))
	require.False(t, server.CreatedAt.IsZero())
	created := server.CreatedAt
	before := server.UpdatedAt

	time.Sleep(10 * time.Millisecond)
	server.Host = "10.0.0.21"
	require.NoError(t, store.Servers.Save(ctx, server))
	require.True(t, server.UpdatedAt.After(before))
	require.True(t, server.CreatedAt.Equal(created))
}

func testArgon2Params() crypto.Argon2Params {
	params := crypto.DefaultArgon2Params()
	params.Memory = crypto.MinArgon2MemoryKiB
	params.Iterations = 1
	params.Parallelism = 1
	return params
}

func testOptions() Options {
	return Options{Argon2: testArgon2Params()}
}

func rawDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "pctrl.db")
}

func openRawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	return db
}

func openTestStoreAt(t *testing.T, path, passphrase string) *Store {
	t.Helper()
	store, err := Open(context.Background(), path, []byte(passphrase), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return openTestStoreAt(t, rawDBPath(t), "test-passphrase")
}

func mustSchemaVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var version int
	err := db.QueryRow(`SELECT value FROM store_meta WHERE key = 'schema_version'`).Scan(&version)
	require.NoError(t, err)
	return version
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func closeNoErr(t *testing.T, db *sql.DB) {
	t.Helper()
	require.NoError(t, db.Close())
}
