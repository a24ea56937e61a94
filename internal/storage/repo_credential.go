package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/pctrl/pctrl/internal/crypto"
)

const (
	credentialEntity    = "credential"
	credentialDataField = "data"
	defaultSSHPort      = 22
)

type credentialRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type credentialPayload struct {
	Name  string         `json:"name"`
	Type  CredentialType `json:"type"`
	Notes string         `json:"notes,omitempty"`
}

const credentialColumns = `id, data_ciphertext, data_nonce, payload_ciphertext, payload_nonce, created_at, updated_at`

func (r *credentialRepository) Save(ctx context.Context, credential *Credential) error {
	if credential == nil {
		return fmt.Errorf("save credential: credential is nil")
	}
	credential.Name = strings.TrimSpace(credential.Name)
	if credential.Type == "" {
		return fmt.Errorf("%w: credential: type is required", ErrValidation)
	}
	if (credential.Type == CredentialTypeSSHKey || credential.Type == CredentialTypeSSHAgent) && credential.Data.Port == 0 {
		credential.Data.Port = defaultSSHPort
	}
	if err := validateEntity("credential", credential); err != nil {
		return err
	}
	if err := validateCredentialData(credential.Type, credential.Data); err != nil {
		return err
	}

	id := ensureID(credential.ID)
	mac, err := lookupMAC(r.kr, tableCredentials, credential.Name)
	if err != nil {
		return err
	}
	blob, err := sealPayload(r.kr, tableCredentials, id, credentialPayload{
		Name:  credential.Name,
		Type:  credential.Type,
		Notes: credential.Notes,
	})
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	raw, err := json.Marshal(credential.Data)
	if err != nil {
		return fmt.Errorf("save credential: encode data: %w", err)
	}
	data, err := r.kr.EncryptField(credentialEntity, id, credentialDataField, raw)
	memguard.WipeBytes(raw)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	var createdAt, updatedAt time.Time
	err = withTx(ctx, r.db, "save credential", func(tx *sql.Tx) error {
		if err := ensureUniqueName(ctx, tx, tableCredentials, mac, id, credential.Name); err != nil {
			return err
		}
		stored, exists, err := existingCreatedAt(ctx, tx, tableCredentials, id)
		if err != nil {
			return err
		}

		updatedAt = nowUTC()
		if exists {
			if createdAt, err = parseTime(stored); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE credentials
				SET lookup_mac = ?, data_ciphertext = ?, data_nonce = ?, payload_ciphertext = ?, payload_nonce = ?, updated_at = ?
				WHERE id = ?
			`, mac, data.Ciphertext, data.Nonce, blob.Ciphertext, blob.Nonce, fmtTime(updatedAt), id)
			if err != nil {
				return fmt.Errorf("update row: %w", err)
			}
			return nil
		}

		createdAt = updatedAt
		_, err = tx.ExecContext(ctx, `
			INSERT INTO credentials(id, lookup_mac, data_ciphertext, data_nonce, payload_ciphertext, payload_nonce, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, id, mac, data.Ciphertext, data.Nonce, blob.Ciphertext, blob.Nonce, fmtTime(createdAt), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	credential.ID, credential.CreatedAt, credential.UpdatedAt = id, createdAt, updatedAt
	return nil
}

func (r *credentialRepository) Get(ctx context.Context, id string) (*Credential, error) {
	return r.getOne(ctx, "get credential", `WHERE id = ?`, id)
}

func (r *credentialRepository) GetByName(ctx context.Context, name string) (*Credential, error) {
	mac, err := lookupMAC(r.kr, tableCredentials, name)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, "get credential by name", `WHERE lookup_mac = ?`, mac)
}

func (r *credentialRepository) getOne(ctx context.Context, op, where string, arg any) (*Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials `+where, arg)
	credential, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	return credential, nil
}

func (r *credentialRepository) List(ctx context.Context) ([]Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list credentials: %w", err))
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		credential, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list credentials: %w", err)
		}
		out = append(out, *credential)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("list credentials: iterate: %w", err))
	}
	return out, nil
}

// Remove deletes the credential and clears it from every server that pointed
// at it. The servers themselves stay.
func (r *credentialRepository) Remove(ctx context.Context, id string) error {
	return withTx(ctx, r.db, "remove credential", func(tx *sql.Tx) error {
		if err := clearWeakReferences(ctx, tx, tableCredentials, id); err != nil {
			return err
		}
		return deleteRow(ctx, tx, tableCredentials, id)
	})
}

func (r *credentialRepository) scan(scanner rowScanner) (*Credential, error) {
	var (
		credential     Credential
		dataCiphertext []byte
		dataNonce      []byte
		ciphertext     []byte
		nonce          []byte
		createdAt      string
		updatedAt      string
		payload        credentialPayload
	)
	if err := scanner.Scan(&credential.ID, &dataCiphertext, &dataNonce, &ciphertext, &nonce, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := openPayload(r.kr, tableCredentials, credential.ID, ciphertext, nonce, &payload); err != nil {
		return nil, err
	}

	raw, err := r.kr.DecryptField(credentialEntity, credential.ID, credentialDataField, crypto.EncryptedBlob{Ciphertext: dataCiphertext, Nonce: dataNonce})
	if err != nil {
		return nil, fmt.Errorf("open credential data %s: %w", credential.ID, err)
	}
	err = json.Unmarshal(raw, &credential.Data)
	memguard.WipeBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode credential data %s: %w", credential.ID, err)
	}

	if credential.CreatedAt, credential.UpdatedAt, err = parseRowTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	credential.Name = payload.Name
	credential.Type = payload.Type
	credential.Notes = payload.Notes
	return &credential, nil
}
