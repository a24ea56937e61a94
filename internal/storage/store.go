package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"github.com/pctrl/pctrl/internal/crypto"
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// Options tunes Open. The zero value opens at CurrentSchemaVersion with the
// default migrations and KDF parameters.
type Options struct {
	// Argon2 is only consulted when a new store is created.
	Argon2        crypto.Argon2Params
	BusyTimeout   time.Duration
	SchemaVersion int
	Migrations    []Migration
}

type Store struct {
	db     *sql.DB
	path   string
	keys   *crypto.KeyRing
	lock   *fileLock
	report OpenReport

	Projects    ProjectRepository
	Servers     ServerRepository
	Domains     DomainRepository
	Databases   DatabaseRepository
	Containers  ContainerRepository
	Scripts     ScriptRepository
	Credentials CredentialRepository
	Links       LinkRepository
}

// Open unlocks the store at path with passphrase, creating it when the file
// holds no store yet, and brings its schema to the target version. The
// returned Store is exclusive to this process until Close.
func Open(ctx context.Context, path string, passphrase []byte, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: empty path")
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: open store: passphrase is required", ErrValidation)
	}
	opts = opts.withDefaults()

	migrator, err := NewMigrator(opts.SchemaVersion, opts.Migrations)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open store: create parent dir: %w", err)
	}

	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	db, err := openSQLite(ctx, path, opts.BusyTimeout)
	if err != nil {
		lock.release()
		return nil, err
	}

	keys, report, err := unlockOrCreate(ctx, db, passphrase, opts.Argon2, migrator)
	if err != nil {
		_ = db.Close()
		lock.release()
		return nil, err
	}

	if err := ensureDBPermissions(path); err != nil {
		keys.Destroy()
		_ = db.Close()
		lock.release()
		return nil, err
	}

	store := &Store{
		db:     db,
		path:   path,
		keys:   keys,
		lock:   lock,
		report: report,
	}
	store.Projects = &projectRepository{db: db, kr: keys}
	store.Servers = &serverRepository{db: db, kr: keys}
	store.Domains = &domainRepository{db: db, kr: keys}
	store.Databases = &databaseRepository{db: db, kr: keys}
	store.Containers = &containerRepository{db: db, kr: keys}
	store.Scripts = &scriptRepository{db: db, kr: keys}
	store.Credentials = &credentialRepository{db: db, kr: keys}
	store.Links = &linkRepository{db: db, kr: keys}

	return store, nil
}

func (o Options) withDefaults() Options {
	if o.Argon2 == (crypto.Argon2Params{}) {
		o.Argon2 = crypto.DefaultArgon2Params()
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = defaultBusyTimeout
	}
	if o.Migrations == nil {
		o.Migrations = DefaultMigrations()
	}
	if o.SchemaVersion == 0 {
		o.SchemaVersion = CurrentSchemaVersion
	}
	return o
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.keys.Destroy()
	s.lock.release()
	s.db = nil
	return err
}

func (s *Store) Report() OpenReport {
	if s == nil {
		return OpenReport{}
	}
	return s.report
}

func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// SchemaVersion reads the persisted version back from the file.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, classifyError(fmt.Errorf("schema version: begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()
	return readSchemaVersion(ctx, tx)
}

func openSQLite(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	query := url.Values{}
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "synchronous(NORMAL)")
	query.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifyOpenError(err)
	}
	return db, nil
}

func unlockOrCreate(ctx context.Context, db *sql.DB, passphrase []byte, params crypto.Argon2Params, migrator *Migrator) (*crypto.KeyRing, OpenReport, error) {
	envelope, err := loadEnvelope(ctx, db)
	if err != nil {
		return nil, OpenReport{}, err
	}
	if envelope == nil {
		return createStore(ctx, db, passphrase, params, migrator)
	}

	keys, err := unlockEnvelope(*envelope, passphrase)
	if err != nil {
		return nil, OpenReport{}, fmt.Errorf("open store: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		keys.Destroy()
		return nil, OpenReport{}, classifyError(fmt.Errorf("open store: begin tx: %w", err))
	}
	migration, err := migrator.migrate(ctx, tx, false)
	if err != nil {
		_ = tx.Rollback()
		keys.Destroy()
		return nil, OpenReport{}, classifyError(fmt.Errorf("open store: %w", err))
	}
	if err := tx.Commit(); err != nil {
		keys.Destroy()
		return nil, OpenReport{}, classifyError(fmt.Errorf("open store: commit migrations: %w", err))
	}

	return keys, OpenReport{StoreID: envelope.StoreID, Migration: migration}, nil
}

// createStore builds the envelope, the metadata and the schema in one
// transaction, so a failed creation leaves nothing behind.
func createStore(ctx context.Context, db *sql.DB, passphrase []byte, params crypto.Argon2Params, migrator *Migrator) (*crypto.KeyRing, OpenReport, error) {
	if err := params.Validate(); err != nil {
		return nil, OpenReport{}, fmt.Errorf("create store: %w", err)
	}

	salt, err := crypto.GenerateSalt(params.SaltLen)
	if err != nil {
		return nil, OpenReport{}, fmt.Errorf("create store: %w", err)
	}
	kek, err := crypto.DeriveKey(passphrase, salt, params)
	if err != nil {
		return nil, OpenReport{}, fmt.Errorf("create store: derive key: %w", err)
	}
	defer memguard.WipeBytes(kek)

	master, err := crypto.GenerateMasterKey()
	if err != nil {
		return nil, OpenReport{}, fmt.Errorf("create store: %w", err)
	}
	storeID := uuid.NewString()
	keys := crypto.NewKeyRing(master, storeID)

	envelope, err := sealEnvelope(keys, kek, salt, params)
	if err != nil {
		keys.Destroy()
		return nil, OpenReport{}, fmt.Errorf("create store: %w", err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		keys.Destroy()
		return nil, OpenReport{}, fmt.Errorf("create store: encode envelope: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		keys.Destroy()
		return nil, OpenReport{}, classifyError(fmt.Errorf("create store: begin tx: %w", err))
	}
	fail := func(err error) (*crypto.KeyRing, OpenReport, error) {
		_ = tx.Rollback()
		keys.Destroy()
		return nil, OpenReport{}, classifyError(fmt.Errorf("create store: %w", err))
	}

	fresh, err := ensureMetaTables(ctx, tx)
	if err != nil {
		return fail(err)
	}
	if !fresh {
		// Another writer created the store between our probe and this tx.
		return fail(fmt.Errorf("%w: store was created concurrently", ErrStoreLocked))
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO store_meta(key, value) VALUES(?, ?)`, envelopeMetaKey, string(raw)); err != nil {
		return fail(fmt.Errorf("write envelope: %w", err))
	}
	migration, err := migrator.migrate(ctx, tx, true)
	if err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		keys.Destroy()
		return nil, OpenReport{}, classifyError(fmt.Errorf("create store: commit: %w", err))
	}

	return keys, OpenReport{StoreID: storeID, Migration: migration}, nil
}

// loadEnvelope returns nil for an empty database. A database that has tables
// but no readable envelope is not a store this build can open.
func loadEnvelope(ctx context.Context, db *sql.DB) (*EnvelopeBundle, error) {
	var tables int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table'`).Scan(&tables); err != nil {
		return nil, classifyOpenError(err)
	}
	if tables == 0 {
		return nil, nil
	}

	var raw string
	err := db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, envelopeMetaKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
			return nil, fmt.Errorf("open store: %w: missing key envelope", ErrAuthenticationFailed)
		}
		return nil, classifyOpenError(err)
	}

	var envelope EnvelopeBundle
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return nil, fmt.Errorf("open store: %w: unreadable key envelope", ErrAuthenticationFailed)
	}
	return &envelope, nil
}

func sealEnvelope(keys *crypto.KeyRing, kek, salt []byte, params crypto.Argon2Params) (EnvelopeBundle, error) {
	wrapped, err := keys.Wrap(kek)
	if err != nil {
		return EnvelopeBundle{}, err
	}
	commitment, err := keys.Commitment()
	if err != nil {
		return EnvelopeBundle{}, err
	}
	return EnvelopeBundle{
		StoreID:       keys.StoreID(),
		Salt:          hex.EncodeToString(salt),
		Memory:        params.Memory,
		Iterations:    params.Iterations,
		Parallelism:   params.Parallelism,
		KeyLen:        params.KeyLen,
		Ciphertext:    hex.EncodeToString(wrapped.Ciphertext),
		Nonce:         hex.EncodeToString(wrapped.Nonce),
		CommitmentTag: hex.EncodeToString(commitment),
	}, nil
}

func unlockEnvelope(envelope EnvelopeBundle, passphrase []byte) (*crypto.KeyRing, error) {
	salt, errSalt := hex.DecodeString(envelope.Salt)
	ciphertext, errCT := hex.DecodeString(envelope.Ciphertext)
	nonce, errNonce := hex.DecodeString(envelope.Nonce)
	commitment, errTag := hex.DecodeString(envelope.CommitmentTag)
	if err := errors.Join(errSalt, errCT, errNonce, errTag); err != nil || envelope.StoreID == "" {
		return nil, fmt.Errorf("%w: malformed key envelope", ErrAuthenticationFailed)
	}

	params := crypto.Argon2Params{
		Memory:      envelope.Memory,
		Iterations:  envelope.Iterations,
		Parallelism: envelope.Parallelism,
		SaltLen:     len(salt),
		KeyLen:      envelope.KeyLen,
	}
	kek, err := crypto.DeriveKey(passphrase, salt, params)
	if err != nil {
		if errors.Is(err, crypto.ErrInvalidArgon2Params) {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return nil, err
	}
	defer memguard.WipeBytes(kek)

	return crypto.Unlock(kek, envelope.StoreID, crypto.WrappedKey{Ciphertext: ciphertext, Nonce: nonce}, commitment)
}

// classifyOpenError treats a file SQLite cannot read as a store that does not
// authenticate.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed") {
		return fmt.Errorf("open store: %w: %v", ErrAuthenticationFailed, err)
	}
	return classifyError(fmt.Errorf("open store: %w", err))
}

func ensureDBPermissions(path string) error {
	for _, candidate := range []string{path, path + "-wal", path + "-shm", path + ".lock"} {
		if err := os.Chmod(candidate, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set %s permissions: %w", filepath.Base(candidate), err)
		}
	}
	return nil
}
