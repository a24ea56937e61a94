package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pctrl/pctrl/internal/crypto"
)

const (
	fieldPassword         = "password"
	fieldConnectionString = "connection_string"
	databaseEntity        = "database"
)

const databaseColumns = `id, server_id, container_id, payload_ciphertext, payload_nonce, created_at, updated_at`

type databaseRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type databasePayload struct {
	Name         string       `json:"name"`
	Type         DatabaseType `json:"type"`
	Host         string       `json:"host,omitempty"`
	Port         int          `json:"port,omitempty"`
	DatabaseName string       `json:"database_name,omitempty"`
	Username     string       `json:"username,omitempty"`
	Notes        string       `json:"notes,omitempty"`
}

// Save stores the record. An empty Password or ConnectionString on an existing
// record keeps the stored value, since Get never hands them back.
func (r *databaseRepository) Save(ctx context.Context, creds *DatabaseCredentials) error {
	if creds == nil {
		return fmt.Errorf("save database: credentials are nil")
	}
	creds.Name = strings.TrimSpace(creds.Name)
	if creds.Type == "" {
		creds.Type = DatabaseTypePostgres
	}
	if err := validateEntity("database", creds); err != nil {
		return err
	}

	id := ensureID(creds.ID)
	mac, err := lookupMAC(r.kr, tableDatabases, creds.Name)
	if err != nil {
		return err
	}
	blob, err := sealPayload(r.kr, tableDatabases, id, databasePayload{
		Name:         creds.Name,
		Type:         creds.Type,
		Host:         creds.Host,
		Port:         creds.Port,
		DatabaseName: creds.DatabaseName,
		Username:     creds.Username,
		Notes:        creds.Notes,
	})
	if err != nil {
		return fmt.Errorf("save database: %w", err)
	}
	password, err := r.sealField(id, fieldPassword, creds.Password)
	if err != nil {
		return fmt.Errorf("save database: %w", err)
	}
	connection, err := r.sealField(id, fieldConnectionString, creds.ConnectionString)
	if err != nil {
		return fmt.Errorf("save database: %w", err)
	}
	server, container := serverRef(creds.ServerID), containerRef(creds.ContainerID)

	var createdAt, updatedAt time.Time
	err = withTx(ctx, r.db, "save database", func(tx *sql.Tx) error {
		if err := ensureUniqueName(ctx, tx, tableDatabases, mac, id, creds.Name); err != nil {
			return err
		}
		if err := checkWeakReferences(ctx, tx, server, container); err != nil {
			return err
		}
		stored, exists, err := existingCreatedAt(ctx, tx, tableDatabases, id)
		if err != nil {
			return err
		}

		updatedAt = nowUTC()
		if exists {
			if createdAt, err = parseTime(stored); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE databases
				SET lookup_mac = ?, server_id = ?, container_id = ?, payload_ciphertext = ?, payload_nonce = ?, updated_at = ?,
					password_ciphertext = COALESCE(?, password_ciphertext),
					password_nonce = COALESCE(?, password_nonce),
					connection_ciphertext = COALESCE(?, connection_ciphertext),
					connection_nonce = COALESCE(?, connection_nonce)
				WHERE id = ?
			`, mac, server.id, container.id, blob.Ciphertext, blob.Nonce, fmtTime(updatedAt),
				nullableBlob(password.Ciphertext), nullableBlob(password.Nonce),
				nullableBlob(connection.Ciphertext), nullableBlob(connection.Nonce),
				id)
			if err != nil {
				return fmt.Errorf("update row: %w", err)
			}
			return nil
		}

		createdAt = updatedAt
		_, err = tx.ExecContext(ctx, `
			INSERT INTO databases(id, lookup_mac, server_id, container_id, password_ciphertext, password_nonce,
				connection_ciphertext, connection_nonce, payload_ciphertext, payload_nonce, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, mac, server.id, container.id,
			nullableBlob(password.Ciphertext), nullableBlob(password.Nonce),
			nullableBlob(connection.Ciphertext), nullableBlob(connection.Nonce),
			blob.Ciphertext, blob.Nonce, fmtTime(createdAt), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	creds.ID, creds.CreatedAt, creds.UpdatedAt = id, createdAt, updatedAt
	return nil
}

func (r *databaseRepository) Get(ctx context.Context, id string) (*DatabaseCredentials, error) {
	return r.getOne(ctx, "get database", `WHERE id = ?`, id)
}

func (r *databaseRepository) GetByName(ctx context.Context, name string) (*DatabaseCredentials, error) {
	mac, err := lookupMAC(r.kr, tableDatabases, name)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, "get database by name", `WHERE lookup_mac = ?`, mac)
}

// GetField returns a single field of the record, decrypting the secret ones on
// demand. Accepted names mirror the CLI: user, pass, host, port, db, url and
// their long forms.
func (r *databaseRepository) GetField(ctx context.Context, id, field string) (string, error) {
	canonical, err := canonicalDatabaseField(field)
	if err != nil {
		return "", err
	}

	var value string
	switch canonical {
	case fieldPassword, fieldConnectionString:
		value, err = r.secretField(ctx, id, canonical)
		if err != nil {
			return "", err
		}
	default:
		creds, err := r.Get(ctx, id)
		if err != nil {
			return "", err
		}
		switch canonical {
		case "name":
			value = creds.Name
		case "type":
			value = string(creds.Type)
		case "host":
			value = creds.Host
		case "port":
			if creds.Port > 0 {
				value = strconv.Itoa(creds.Port)
			}
		case "database_name":
			value = creds.DatabaseName
		case "username":
			value = creds.Username
		}
	}

	if value == "" {
		return "", fmt.Errorf("%w: database field %s is not set", ErrNotFound, canonical)
	}
	return value, nil
}

func canonicalDatabaseField(field string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "user", "username":
		return "username", nil
	case "pass", "password":
		return fieldPassword, nil
	case "host":
		return "host", nil
	case "port":
		return "port", nil
	case "database", "db", "database_name":
		return "database_name", nil
	case "url", "connection_string", "conn":
		return fieldConnectionString, nil
	case "name":
		return "name", nil
	case "type":
		return "type", nil
	default:
		return "", fmt.Errorf("%w: unknown database field %q", ErrValidation, field)
	}
}

func (r *databaseRepository) secretField(ctx context.Context, id, field string) (string, error) {
	column := "password"
	if field == fieldConnectionString {
		column = "connection"
	}

	var ciphertext, nonce []byte
	err := r.db.QueryRowContext(ctx, `SELECT `+column+`_ciphertext, `+column+`_nonce FROM databases WHERE id = ?`, id).Scan(&ciphertext, &nonce)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", classifyError(fmt.Errorf("get database field: %w", err))
	}
	if len(ciphertext) == 0 {
		return "", nil
	}

	plaintext, err := r.kr.DecryptField(databaseEntity, id, field, crypto.EncryptedBlob{Ciphertext: ciphertext, Nonce: nonce})
	if err != nil {
		return "", fmt.Errorf("get database field: decrypt %s: %w", field, err)
	}
	return string(plaintext), nil
}

func (r *databaseRepository) getOne(ctx context.Context, op, where string, arg any) (*DatabaseCredentials, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+databaseColumns+` FROM databases `+where, arg)
	creds, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	return creds, nil
}

// List never reads the secret columns.
func (r *databaseRepository) List(ctx context.Context) ([]DatabaseCredentials, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+databaseColumns+` FROM databases ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list databases: %w", err))
	}
	defer rows.Close()

	var out []DatabaseCredentials
	for rows.Next() {
		creds, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list databases: %w", err)
		}
		out = append(out, *creds)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("list databases: iterate: %w", err))
	}
	return out, nil
}

func (r *databaseRepository) Remove(ctx context.Context, id string) error {
	return withTx(ctx, r.db, "remove database", func(tx *sql.Tx) error {
		return removeResource(ctx, tx, ResourceTypeDatabase, id)
	})
}

func (r *databaseRepository) sealField(id, field, value string) (crypto.EncryptedBlob, error) {
	if value == "" {
		return crypto.EncryptedBlob{}, nil
	}
	blob, err := r.kr.EncryptField(databaseEntity, id, field, []byte(value))
	if err != nil {
		return crypto.EncryptedBlob{}, fmt.Errorf("encrypt %s: %w", field, err)
	}
	return blob, nil
}

func (r *databaseRepository) scan(scanner rowScanner) (*DatabaseCredentials, error) {
	var (
		creds       DatabaseCredentials
		serverID    sql.NullString
		containerID sql.NullString
		ciphertext  []byte
		nonce       []byte
		createdAt   string
		updatedAt   string
		payload     databasePayload
	)
	if err := scanner.Scan(&creds.ID, &serverID, &containerID, &ciphertext, &nonce, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := openPayload(r.kr, tableDatabases, creds.ID, ciphertext, nonce, &payload); err != nil {
		return nil, err
	}

	var err error
	if creds.CreatedAt, creds.UpdatedAt, err = parseRowTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	creds.ServerID = stringPtr(serverID)
	creds.ContainerID = stringPtr(containerID)
	creds.Name = payload.Name
	creds.Type = payload.Type
	creds.Host = payload.Host
	creds.Port = payload.Port
	creds.DatabaseName = payload.DatabaseName
	creds.Username = payload.Username
	creds.Notes = payload.Notes
	return &creds, nil
}

func nullableBlob(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return value
}
