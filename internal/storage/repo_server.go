package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pctrl/pctrl/internal/crypto"
)

type serverRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type serverPayload struct {
	Name     string       `json:"name"`
	Host     string       `json:"host"`
	Type     ServerType   `json:"type"`
	Provider string       `json:"provider,omitempty"`
	Location string       `json:"location,omitempty"`
	Specs    *ServerSpecs `json:"specs,omitempty"`
	Notes    string       `json:"notes,omitempty"`
}

const serverColumns = `id, credential_id, payload_ciphertext, payload_nonce, created_at, updated_at`

func (r *serverRepository) Save(ctx context.Context, server *Server) error {
	if server == nil {
		return fmt.Errorf("save server: server is nil")
	}
	server.Name = strings.TrimSpace(server.Name)
	server.Host = strings.TrimSpace(server.Host)
	if server.Type == "" {
		server.Type = ServerTypeVPS
	}
	if err := validateEntity("server", server); err != nil {
		return err
	}

	id := ensureID(server.ID)
	mac, err := lookupMAC(r.kr, tableServers, server.Name)
	if err != nil {
		return err
	}
	blob, err := sealPayload(r.kr, tableServers, id, serverPayload{
		Name:     server.Name,
		Host:     server.Host,
		Type:     server.Type,
		Provider: server.Provider,
		Location: server.Location,
		Specs:    server.Specs,
		Notes:    server.Notes,
	})
	if err != nil {
		return fmt.Errorf("save server: %w", err)
	}
	credential := weakRef{kind: "credential", table: tableCredentials, id: nullableString(server.CredentialID)}

	var createdAt, updatedAt time.Time
	err = withTx(ctx, r.db, "save server", func(tx *sql.Tx) error {
		if err := ensureUniqueName(ctx, tx, tableServers, mac, id, server.Name); err != nil {
			return err
		}
		if err := checkWeakReferences(ctx, tx, credential); err != nil {
			return err
		}
		stored, exists, err := existingCreatedAt(ctx, tx, tableServers, id)
		if err != nil {
			return err
		}

		updatedAt = nowUTC()
		if exists {
			if createdAt, err = parseTime(stored); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE servers
				SET lookup_mac = ?, credential_id = ?, payload_ciphertext = ?, payload_nonce = ?, updated_at = ?
				WHERE id = ?
			`, mac, credential.id, blob.Ciphertext, blob.Nonce, fmtTime(updatedAt), id)
			if err != nil {
				return fmt.Errorf("update row: %w", err)
			}
			return nil
		}

		createdAt = updatedAt
		_, err = tx.ExecContext(ctx, `
			INSERT INTO servers(id, lookup_mac, credential_id, payload_ciphertext, payload_nonce, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)
		`, id, mac, credential.id, blob.Ciphertext, blob.Nonce, fmtTime(createdAt), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	server.ID, server.CreatedAt, server.UpdatedAt = id, createdAt, updatedAt
	return nil
}

func (r *serverRepository) Get(ctx context.Context, id string) (*Server, error) {
	return r.getOne(ctx, "get server", `WHERE id = ?`, id)
}

func (r *serverRepository) GetByName(ctx context.Context, name string) (*Server, error) {
	mac, err := lookupMAC(r.kr, tableServers, name)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, "get server by name", `WHERE lookup_mac = ?`, mac)
}

func (r *serverRepository) getOne(ctx context.Context, op, where string, arg any) (*Server, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers `+where, arg)
	server, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	return server, nil
}

func (r *serverRepository) List(ctx context.Context) ([]Server, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM servers ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list servers: %w", err))
	}
	defer rows.Close()

	var out []Server
	for rows.Next() {
		server, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list servers: %w", err)
		}
		out = append(out, *server)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("list servers: iterate: %w", err))
	}
	return out, nil
}

// Remove deletes the server and drops every link naming it. Containers,
// domains, databases and scripts recorded on it stay, detached.
func (r *serverRepository) Remove(ctx context.Context, id string) error {
	return withTx(ctx, r.db, "remove server", func(tx *sql.Tx) error {
		return removeResource(ctx, tx, ResourceTypeServer, id)
	})
}

func (r *serverRepository) scan(scanner rowScanner) (*Server, error) {
	var (
		server       Server
		credentialID sql.NullString
		ciphertext   []byte
		nonce        []byte
		createdAt    string
		updatedAt    string
		payload      serverPayload
	)
	if err := scanner.Scan(&server.ID, &credentialID, &ciphertext, &nonce, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := openPayload(r.kr, tableServers, server.ID, ciphertext, nonce, &payload); err != nil {
		return nil, err
	}

	var err error
	if server.CreatedAt, server.UpdatedAt, err = parseRowTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	server.CredentialID = stringPtr(credentialID)
	server.Name = payload.Name
	server.Host = payload.Host
	server.Type = payload.Type
	server.Provider = payload.Provider
	server.Location = payload.Location
	server.Specs = payload.Specs
	server.Notes = payload.Notes
	return &server, nil
}
