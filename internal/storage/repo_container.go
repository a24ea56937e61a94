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

type containerRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type containerPayload struct {
	Name   string            `json:"name"`
	Image  string            `json:"image,omitempty"`
	Status ContainerStatus   `json:"status"`
	Ports  []string          `json:"ports"`
	Labels map[string]string `json:"labels"`
}

const containerColumns = `id, server_id, payload_ciphertext, payload_nonce, created_at, updated_at`

// Save mirrors a container record. Names are not unique: the same name can
// run on several servers.
func (r *containerRepository) Save(ctx context.Context, container *Container) error {
	if container == nil {
		return fmt.Errorf("save container: container is nil")
	}
	container.Name = strings.TrimSpace(container.Name)
	if container.Status == "" {
		container.Status = ContainerStatusUnknown
	}
	if err := validateEntity("container", container); err != nil {
		return err
	}

	id := ensureID(container.ID)
	mac, err := lookupMAC(r.kr, tableContainers, container.Name)
	if err != nil {
		return err
	}
	blob, err := sealPayload(r.kr, tableContainers, id, containerPayload{
		Name:   container.Name,
		Image:  container.Image,
		Status: container.Status,
		Ports:  container.Ports,
		Labels: container.Labels,
	})
	if err != nil {
		return fmt.Errorf("save container: %w", err)
	}
	server := serverRef(container.ServerID)

	var createdAt, updatedAt time.Time
	err = withTx(ctx, r.db, "save container", func(tx *sql.Tx) error {
		if err := checkWeakReferences(ctx, tx, server); err != nil {
			return err
		}
		stored, exists, err := existingCreatedAt(ctx, tx, tableContainers, id)
		if err != nil {
			return err
		}

		updatedAt = nowUTC()
		if exists {
			if createdAt, err = parseTime(stored); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE containers
				SET lookup_mac = ?, server_id = ?, payload_ciphertext = ?, payload_nonce = ?, updated_at = ?
				WHERE id = ?
			`, mac, server.id, blob.Ciphertext, blob.Nonce, fmtTime(updatedAt), id)
			if err != nil {
				return fmt.Errorf("update row: %w", err)
			}
			return nil
		}

		createdAt = updatedAt
		_, err = tx.ExecContext(ctx, `
			INSERT INTO containers(id, lookup_mac, server_id, payload_ciphertext, payload_nonce, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)
		`, id, mac, server.id, blob.Ciphertext, blob.Nonce, fmtTime(createdAt), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	container.ID, container.CreatedAt, container.UpdatedAt = id, createdAt, updatedAt
	return nil
}

func (r *containerRepository) Get(ctx context.Context, id string) (*Container, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+containerColumns+` FROM containers WHERE id = ?`, id)
	container, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyError(fmt.Errorf("get container: %w", err))
	}
	return container, nil
}

func (r *containerRepository) List(ctx context.Context) ([]Container, error) {
	return r.list(ctx, "list containers", `ORDER BY created_at ASC, id ASC`)
}

// ListByName returns every container whose name matches case-insensitively.
func (r *containerRepository) ListByName(ctx context.Context, name string) ([]Container, error) {
	mac, err := lookupMAC(r.kr, tableContainers, name)
	if err != nil {
		return nil, err
	}
	return r.list(ctx, "list containers by name", `WHERE lookup_mac = ? ORDER BY created_at ASC, id ASC`, mac)
}

func (r *containerRepository) ListByServer(ctx context.Context, serverID string) ([]Container, error) {
	return r.list(ctx, "list containers by server", `WHERE server_id = ? ORDER BY created_at ASC, id ASC`, serverID)
}

func (r *containerRepository) list(ctx context.Context, op, clause string, args ...any) ([]Container, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+containerColumns+` FROM containers `+clause, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	var out []Container
	for rows.Next() {
		container, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, *container)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("%s: iterate: %w", op, err))
	}
	return out, nil
}

// Remove deletes the container, its links and every placement naming it.
func (r *containerRepository) Remove(ctx context.Context, id string) error {
	return withTx(ctx, r.db, "remove container", func(tx *sql.Tx) error {
		return removeResource(ctx, tx, ResourceTypeContainer, id)
	})
}

func (r *containerRepository) scan(scanner rowScanner) (*Container, error) {
	var (
		container  Container
		serverID   sql.NullString
		ciphertext []byte
		nonce      []byte
		createdAt  string
		updatedAt  string
		payload    containerPayload
	)
	if err := scanner.Scan(&container.ID, &serverID, &ciphertext, &nonce, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := openPayload(r.kr, tableContainers, container.ID, ciphertext, nonce, &payload); err != nil {
		return nil, err
	}

	var err error
	if container.CreatedAt, container.UpdatedAt, err = parseRowTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	container.ServerID = stringPtr(serverID)
	container.Name = payload.Name
	container.Image = payload.Image
	container.Status = payload.Status
	container.Ports = payload.Ports
	container.Labels = payload.Labels
	return &container, nil
}
