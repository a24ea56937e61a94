package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pctrl/pctrl/internal/crypto"
)

const scriptEntity = "script"

type scriptRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type scriptPayload struct {
	Name        string     `json:"name"`
	Command     string     `json:"command"`
	Type        ScriptType `json:"type"`
	Description string     `json:"description,omitempty"`
	Dangerous   bool       `json:"dangerous,omitempty"`
}

const scriptColumns = `id, server_id, project_id, container_id, payload_ciphertext, payload_nonce, last_result_ciphertext, last_result_nonce, created_at, updated_at`

// Save stores the script definition. LastResult is owned by RecordResult and
// is left untouched here.
func (r *scriptRepository) Save(ctx context.Context, script *Script) error {
	if script == nil {
		return fmt.Errorf("save script: script is nil")
	}
	script.Name = strings.TrimSpace(script.Name)
	if script.Type == "" {
		script.Type = ScriptTypeSSH
	}
	if err := validateEntity("script", script); err != nil {
		return err
	}

	id := ensureID(script.ID)
	mac, err := lookupMAC(r.kr, tableScripts, script.Name)
	if err != nil {
		return err
	}
	blob, err := sealPayload(r.kr, tableScripts, id, scriptPayload{
		Name:        script.Name,
		Command:     script.Command,
		Type:        script.Type,
		Description: script.Description,
		Dangerous:   script.Dangerous,
	})
	if err != nil {
		return fmt.Errorf("save script: %w", err)
	}
	server, container := serverRef(script.ServerID), containerRef(script.ContainerID)
	project := weakRef{kind: "project", table: tableProjects, id: nullableString(script.ProjectID)}

	var (
		createdAt, updatedAt time.Time
		created              bool
	)
	err = withTx(ctx, r.db, "save script", func(tx *sql.Tx) error {
		if err := ensureUniqueName(ctx, tx, tableScripts, mac, id, script.Name); err != nil {
			return err
		}
		if err := checkWeakReferences(ctx, tx, server, project, container); err != nil {
			return err
		}
		stored, exists, err := existingCreatedAt(ctx, tx, tableScripts, id)
		if err != nil {
			return err
		}

		updatedAt = nowUTC()
		if exists {
			if createdAt, err = parseTime(stored); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE scripts
				SET lookup_mac = ?, server_id = ?, project_id = ?, container_id = ?, payload_ciphertext = ?, payload_nonce = ?, updated_at = ?
				WHERE id = ?
			`, mac, server.id, project.id, container.id, blob.Ciphertext, blob.Nonce, fmtTime(updatedAt), id)
			if err != nil {
				return fmt.Errorf("update row: %w", err)
			}
			return nil
		}

		createdAt, created = updatedAt, true
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scripts(id, lookup_mac, server_id, project_id, container_id, payload_ciphertext, payload_nonce, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, mac, server.id, project.id, container.id, blob.Ciphertext, blob.Nonce, fmtTime(createdAt), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	script.ID, script.CreatedAt, script.UpdatedAt = id, createdAt, updatedAt
	if created {
		script.LastResult = nil
	}
	return nil
}

func (r *scriptRepository) Get(ctx context.Context, id string) (*Script, error) {
	return r.getOne(ctx, "get script", `WHERE id = ?`, id)
}

func (r *scriptRepository) GetByName(ctx context.Context, name string) (*Script, error) {
	mac, err := lookupMAC(r.kr, tableScripts, name)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, "get script by name", `WHERE lookup_mac = ?`, mac)
}

func (r *scriptRepository) getOne(ctx context.Context, op, where string, arg any) (*Script, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scriptColumns+` FROM scripts `+where, arg)
	script, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	return script, nil
}

func (r *scriptRepository) List(ctx context.Context) ([]Script, error) {
	return r.list(ctx, "list scripts", `ORDER BY created_at ASC, id ASC`)
}

// ListForProject returns the scripts scoped to projectID through ProjectID.
// Scripts only linked to the project are not included.
func (r *scriptRepository) ListForProject(ctx context.Context, projectID string) ([]Script, error) {
	return r.list(ctx, "list scripts for project", `WHERE project_id = ? ORDER BY created_at ASC, id ASC`, projectID)
}

func (r *scriptRepository) list(ctx context.Context, op, clause string, args ...any) ([]Script, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+scriptColumns+` FROM scripts `+clause, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	var out []Script
	for rows.Next() {
		script, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *script)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("%s: iterate: %w", op, err))
	}
	return out, nil
}

// RecordResult stores the outcome of the latest run. Captured output can hold
// secrets, so the whole result is field-encrypted.
func (r *scriptRepository) RecordResult(ctx context.Context, id string, result ScriptResult) error {
	if err := requireID("script", id); err != nil {
		return err
	}
	if result.RanAt.IsZero() {
		result.RanAt = nowUTC()
	}
	result.RanAt = result.RanAt.UTC()

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("record script result: encode: %w", err)
	}
	blob, err := r.kr.EncryptField(scriptEntity, id, "last_result", raw)
	if err != nil {
		return fmt.Errorf("record script result: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE scripts
		SET last_result_ciphertext = ?, last_result_nonce = ?, updated_at = ?
		WHERE id = ?
	`, blob.Ciphertext, blob.Nonce, fmtTime(nowUTC()), id)
	if err != nil {
		return classifyError(fmt.Errorf("record script result: %w", err))
	}
	count, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record script result: rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *scriptRepository) Remove(ctx context.Context, id string) error {
	return withTx(ctx, r.db, "remove script", func(tx *sql.Tx) error {
		return removeResource(ctx, tx, ResourceTypeScript, id)
	})
}

func (r *scriptRepository) scan(scanner rowScanner) (*Script, error) {
	var (
		script           Script
		serverID         sql.NullString
		projectID        sql.NullString
		containerID      sql.NullString
		ciphertext       []byte
		nonce            []byte
		resultCiphertext []byte
		resultNonce      []byte
		createdAt        string
		updatedAt        string
		payload          scriptPayload
	)
	if err := scanner.Scan(&script.ID, &serverID, &projectID, &containerID, &ciphertext, &nonce, &resultCiphertext, &resultNonce, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := openPayload(r.kr, tableScripts, script.ID, ciphertext, nonce, &payload); err != nil {
		return nil, err
	}

	var err error
	if script.CreatedAt, script.UpdatedAt, err = parseRowTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	script.ServerID = stringPtr(serverID)
	script.ProjectID = stringPtr(projectID)
	script.ContainerID = stringPtr(containerID)
	script.Name = payload.Name
	script.Command = payload.Command
	script.Type = payload.Type
	script.Description = payload.Description
	script.Dangerous = payload.Dangerous

	if len(resultCiphertext) > 0 {
		raw, err := r.kr.DecryptField(scriptEntity, script.ID, "last_result", crypto.EncryptedBlob{Ciphertext: resultCiphertext, Nonce: resultNonce})
		if err != nil {
			return nil, fmt.Errorf("open script result %s: %w", script.ID, err)
		}
		var result ScriptResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decode script result %s: %w", script.ID, err)
		}
		script.LastResult = &result
	}
	return &script, nil
}
