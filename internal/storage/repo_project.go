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

type projectRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type projectPayload struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Stack       []string      `json:"stack"`
	Status      ProjectStatus `json:"status"`
	Color       string        `json:"color,omitempty"`
	Icon        string        `json:"icon,omitempty"`
	Notes       string        `json:"notes,omitempty"`
}

func (r *projectRepository) Save(ctx context.Context, project *Project) error {
	if project == nil {
		return fmt.Errorf("save project: project is nil")
	}
	project.Name = strings.TrimSpace(project.Name)
	if project.Status == "" {
		project.Status = ProjectStatusDev
	}
	if err := validateEntity("project", project); err != nil {
		return err
	}

	id := ensureID(project.ID)
	mac, err := lookupMAC(r.kr, tableProjects, project.Name)
	if err != nil {
		return err
	}
	blob, err := sealPayload(r.kr, tableProjects, id, projectPayload{
		Name:        project.Name,
		Description: project.Description,
		Stack:       project.Stack,
		Status:      project.Status,
		Color:       project.Color,
		Icon:        project.Icon,
		Notes:       project.Notes,
	})
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	var createdAt, updatedAt time.Time
	err = withTx(ctx, r.db, "save project", func(tx *sql.Tx) error {
		if err := ensureUniqueName(ctx, tx, tableProjects, mac, id, project.Name); err != nil {
			return err
		}
		stored, exists, err := existingCreatedAt(ctx, tx, tableProjects, id)
		if err != nil {
			return err
		}

		updatedAt = nowUTC()
		if exists {
			if createdAt, err = parseTime(stored); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE projects
				SET lookup_mac = ?, payload_ciphertext = ?, payload_nonce = ?, updated_at = ?
				WHERE id = ?
			`, mac, blob.Ciphertext, blob.Nonce, fmtTime(updatedAt), id)
			if err != nil {
				return fmt.Errorf("update row: %w", err)
			}
			return nil
		}

		createdAt = updatedAt
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projects(id, lookup_mac, payload_ciphertext, payload_nonce, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?)
		`, id, mac, blob.Ciphertext, blob.Nonce, fmtTime(createdAt), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	project.ID, project.CreatedAt, project.UpdatedAt = id, createdAt, updatedAt
	return nil
}

func (r *projectRepository) Get(ctx context.Context, id string) (*Project, error) {
	return r.getOne(ctx, "get project", `WHERE id = ?`, id)
}

func (r *projectRepository) GetByName(ctx context.Context, name string) (*Project, error) {
	mac, err := lookupMAC(r.kr, tableProjects, name)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, "get project by name", `WHERE lookup_mac = ?`, mac)
}

func (r *projectRepository) getOne(ctx context.Context, op, where string, arg any) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, payload_ciphertext, payload_nonce, created_at, updated_at
		FROM projects `+where, arg)

	project, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	return project, nil
}

func (r *projectRepository) List(ctx context.Context) ([]Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload_ciphertext, payload_nonce, created_at, updated_at
		FROM projects
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list projects: %w", err))
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		project, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		out = append(out, *project)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("list projects: iterate: %w", err))
	}
	return out, nil
}

// Remove deletes the project together with every link it owns. Scripts that
// named it keep running unscoped.
func (r *projectRepository) Remove(ctx context.Context, id string) error {
	return withTx(ctx, r.db, "remove project", func(tx *sql.Tx) error {
		if err := clearWeakReferences(ctx, tx, tableProjects, id); err != nil {
			return err
		}
		if err := removeLinksForProject(ctx, tx, id); err != nil {
			return err
		}
		return deleteRow(ctx, tx, tableProjects, id)
	})
}

func (r *projectRepository) scan(scanner rowScanner) (*Project, error) {
	var (
		project    Project
		ciphertext []byte
		nonce      []byte
		createdAt  string
		updatedAt  string
		payload    projectPayload
	)
	if err := scanner.Scan(&project.ID, &ciphertext, &nonce, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := openPayload(r.kr, tableProjects, project.ID, ciphertext, nonce, &payload); err != nil {
		return nil, err
	}

	var err error
	if project.CreatedAt, project.UpdatedAt, err = parseRowTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	project.Name = payload.Name
	project.Description = payload.Description
	project.Stack = payload.Stack
	project.Status = payload.Status
	project.Color = payload.Color
	project.Icon = payload.Icon
	project.Notes = payload.Notes
	return &project, nil
}
