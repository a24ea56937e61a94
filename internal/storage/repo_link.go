package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pctrl/pctrl/internal/crypto"
)

const linkRoleScope = "project_resources.role"

type linkRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type linkPayload struct {
	Role  string `json:"role,omitempty"`
	Notes string `json:"notes,omitempty"`
}

const linkColumns = `id, project_id, resource_type, resource_id, payload_ciphertext, payload_nonce, created_at`

// Link attaches a resource to a project under role. The same resource may be
// linked to one project several times, once per distinct role.
func (r *linkRepository) Link(ctx context.Context, projectID string, resourceType ResourceType, resourceID, role, notes string) (*ResourceLink, error) {
	if err := requireID("project", projectID); err != nil {
		return nil, err
	}
	if err := requireID("resource", resourceID); err != nil {
		return nil, err
	}
	if !resourceType.Valid() {
		return nil, invalidEnum("resource type", string(resourceType))
	}

	link := &ResourceLink{
		ID:           ensureID(""),
		ProjectID:    projectID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Role:         strings.TrimSpace(role),
		Notes:        notes,
		CreatedAt:    nowUTC(),
	}
	roleMAC, err := r.kr.IndexMAC(linkRoleScope, nameKey(link.Role))
	if err != nil {
		return nil, fmt.Errorf("link resource: %w", err)
	}
	blob, err := sealPayload(r.kr, tableLinks, link.ID, linkPayload{Role: link.Role, Notes: link.Notes})
	if err != nil {
		return nil, fmt.Errorf("link resource: %w", err)
	}

	err = withTx(ctx, r.db, "link resource", func(tx *sql.Tx) error {
		ok, err := rowExists(ctx, tx, tableProjects, projectID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: project %s", ErrNotFound, projectID)
		}
		ok, err = rowExists(ctx, tx, resourceType.table(), resourceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s", ErrNotFound, resourceType, resourceID)
		}

		var existing string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM project_resources
			WHERE project_id = ? AND resource_type = ? AND resource_id = ? AND role_mac = ?
		`, projectID, string(resourceType), resourceID, roleMAC).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s %s already linked as %q", ErrDuplicateLink, resourceType, resourceID, link.Role)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check link: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO project_resources(id, project_id, resource_type, resource_id, role_mac, payload_ciphertext, payload_nonce, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, link.ID, projectID, string(resourceType), resourceID, roleMAC, blob.Ciphertext, blob.Nonce, fmtTime(link.CreatedAt))
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "unique constraint") {
				return fmt.Errorf("%w: %v", ErrDuplicateLink, err)
			}
			return fmt.Errorf("insert link: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *linkRepository) Unlink(ctx context.Context, linkID string) error {
	return withTx(ctx, r.db, "unlink resource", func(tx *sql.Tx) error {
		return deleteRow(ctx, tx, tableLinks, linkID)
	})
}

func (r *linkRepository) ForProject(ctx context.Context, projectID string) ([]ResourceLink, error) {
	return r.list(ctx, "links for project", `WHERE project_id = ?`, projectID)
}

func (r *linkRepository) ForResource(ctx context.Context, resourceType ResourceType, resourceID string) ([]ResourceLink, error) {
	if !resourceType.Valid() {
		return nil, invalidEnum("resource type", string(resourceType))
	}
	return r.list(ctx, "links for resource", `WHERE resource_type = ? AND resource_id = ?`, string(resourceType), resourceID)
}

func (r *linkRepository) list(ctx context.Context, op, where string, args ...any) ([]ResourceLink, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM project_resources `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	defer rows.Close()

	out := []ResourceLink{}
	for rows.Next() {
		var (
			link         ResourceLink
			resourceType string
			ciphertext   []byte
			nonce        []byte
			createdAt    string
			payload      linkPayload
		)
		if err := rows.Scan(&link.ID, &link.ProjectID, &resourceType, &link.ResourceID, &ciphertext, &nonce, &createdAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		if err := openPayload(r.kr, tableLinks, link.ID, ciphertext, nonce, &payload); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if link.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		link.ResourceType = ResourceType(resourceType)
		link.Role = payload.Role
		link.Notes = payload.Notes
		out = append(out, link)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("%s: iterate: %w", op, err))
	}
	return out, nil
}
