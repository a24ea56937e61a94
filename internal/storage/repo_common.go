package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pctrl/pctrl/internal/crypto"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// timeLayout keeps a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

func parseRowTimes(createdAt, updatedAt string) (time.Time, time.Time, error) {
	created, err := parseTime(createdAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return created, updated, nil
}

func nullableString(value *string) sql.NullString {
	if value == nil || *value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func stringPtr(raw sql.NullString) *string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	value := raw.String
	return &value
}

// nameKey is the case-insensitive form unique names are indexed under.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func lookupMAC(kr *crypto.KeyRing, table, name string) ([]byte, error) {
	mac, err := kr.IndexMAC(table, nameKey(name))
	if err != nil {
		return nil, fmt.Errorf("compute %s lookup key: %w", table, err)
	}
	return mac, nil
}

func sealPayload(kr *crypto.KeyRing, table, id string, payload any) (crypto.EncryptedBlob, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return crypto.EncryptedBlob{}, fmt.Errorf("encode %s payload: %w", table, err)
	}
	return kr.SealRecord(table, id, raw)
}

func openPayload(kr *crypto.KeyRing, table, id string, ciphertext, nonce []byte, payload any) error {
	raw, err := kr.OpenRecord(table, id, crypto.EncryptedBlob{Ciphertext: ciphertext, Nonce: nonce})
	if err != nil {
		return fmt.Errorf("open %s %s: %w", table, id, err)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return fmt.Errorf("decode %s %s: %w", table, id, err)
	}
	return nil
}

func withTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return classifyError(fmt.Errorf("%s: begin tx: %w", op, err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classifyError(fmt.Errorf("%s: %w", op, err))
	}
	if err := tx.Commit(); err != nil {
		return classifyError(fmt.Errorf("%s: commit: %w", op, err))
	}
	return nil
}

// existingCreatedAt reports whether id is already stored in table and, if so,
// its creation timestamp.
func existingCreatedAt(ctx context.Context, tx *sql.Tx, table, id string) (string, bool, error) {
	var createdAt string
	err := tx.QueryRowContext(ctx, `SELECT created_at FROM `+table+` WHERE id = ?`, id).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("probe %s row: %w", table, err)
	}
	return createdAt, true, nil
}

func ensureUniqueName(ctx context.Context, tx *sql.Tx, table string, mac []byte, id, name string) error {
	var other string
	err := tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE lookup_mac = ? AND id <> ?`, mac, id).Scan(&other)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("check %s name: %w", table, err)
	}
	return fmt.Errorf("%w: %s %q already exists", ErrDuplicateKey, strings.TrimSuffix(table, "s"), name)
}

func rowExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, table, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe %s row: %w", table, err)
	}
	return true, nil
}

func deleteRow(ctx context.Context, tx *sql.Tx, table, id string) error {
	result, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s row: %w", table, err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s row: rows affected: %w", table, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// classifyError maps SQLite constraint and locking failures onto the package
// sentinels, leaving everything else as is.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrDuplicateLink) || errors.Is(err, ErrStoreLocked) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "sqlite_busy"), strings.Contains(msg, "database table is locked"):
		return fmt.Errorf("%w: %v", ErrStoreLocked, err)
	case strings.Contains(msg, "unique constraint"):
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	default:
		return err
	}
}
