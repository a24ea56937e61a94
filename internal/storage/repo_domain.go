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

type domainRepository struct {
	db *sql.DB
	kr *crypto.KeyRing
}

type domainPayload struct {
	Domain             string     `json:"domain"`
	Type               DomainType `json:"type"`
	SSL                bool       `json:"ssl"`
	SSLExpiry          *time.Time `json:"ssl_expiry,omitempty"`
	Registrar          string     `json:"registrar,omitempty"`
	CloudflareZoneID   string     `json:"cloudflare_zone_id,omitempty"`
	CloudflareRecordID string     `json:"cloudflare_record_id,omitempty"`
	Notes              string     `json:"notes,omitempty"`
}

const domainColumns = `id, server_id, container_id, payload_ciphertext, payload_nonce, created_at, updated_at`

func (r *domainRepository) Save(ctx context.Context, domain *Domain) error {
	if domain == nil {
		return fmt.Errorf("save domain: domain is nil")
	}
	domain.Domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain.Domain)), ".")
	if domain.Type == "" {
		domain.Type = DomainTypeProduction
	}
	if err := validateEntity("domain", domain); err != nil {
		return err
	}

	id := ensureID(domain.ID)
	mac, err := lookupMAC(r.kr, tableDomains, domain.Domain)
	if err != nil {
		return err
	}
	blob, err := sealPayload(r.kr, tableDomains, id, domainPayload{
		Domain:             domain.Domain,
		Type:               domain.Type,
		SSL:                domain.SSL,
		SSLExpiry:          domain.SSLExpiry,
		Registrar:          domain.Registrar,
		CloudflareZoneID:   domain.CloudflareZoneID,
		CloudflareRecordID: domain.CloudflareRecordID,
		Notes:              domain.Notes,
	})
	if err != nil {
		return fmt.Errorf("save domain: %w", err)
	}
	server, container := serverRef(domain.ServerID), containerRef(domain.ContainerID)

	var createdAt, updatedAt time.Time
	err = withTx(ctx, r.db, "save domain", func(tx *sql.Tx) error {
		if err := ensureUniqueName(ctx, tx, tableDomains, mac, id, domain.Domain); err != nil {
			return err
		}
		if err := checkWeakReferences(ctx, tx, server, container); err != nil {
			return err
		}
		stored, exists, err := existingCreatedAt(ctx, tx, tableDomains, id)
		if err != nil {
			return err
		}

		updatedAt = nowUTC()
		if exists {
			if createdAt, err = parseTime(stored); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE domains
				SET lookup_mac = ?, server_id = ?, container_id = ?, payload_ciphertext = ?, payload_nonce = ?, updated_at = ?
				WHERE id = ?
			`, mac, server.id, container.id, blob.Ciphertext, blob.Nonce, fmtTime(updatedAt), id)
			if err != nil {
				return fmt.Errorf("update row: %w", err)
			}
			return nil
		}

		createdAt = updatedAt
		_, err = tx.ExecContext(ctx, `
			INSERT INTO domains(id, lookup_mac, server_id, container_id, payload_ciphertext, payload_nonce, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, id, mac, server.id, container.id, blob.Ciphertext, blob.Nonce, fmtTime(createdAt), fmtTime(updatedAt))
		if err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	domain.ID, domain.CreatedAt, domain.UpdatedAt = id, createdAt, updatedAt
	return nil
}

func (r *domainRepository) Get(ctx context.Context, id string) (*Domain, error) {
	return r.getOne(ctx, "get domain", `WHERE id = ?`, id)
}

func (r *domainRepository) GetByName(ctx context.Context, name string) (*Domain, error) {
	mac, err := lookupMAC(r.kr, tableDomains, strings.TrimSuffix(strings.TrimSpace(name), "."))
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, "get domain by name", `WHERE lookup_mac = ?`, mac)
}

func (r *domainRepository) getOne(ctx context.Context, op, where string, arg any) (*Domain, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domains `+where, arg)
	domain, err := r.scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classifyError(fmt.Errorf("%s: %w", op, err))
	}
	return domain, nil
}

func (r *domainRepository) List(ctx context.Context) ([]Domain, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+domainColumns+` FROM domains ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, classifyError(fmt.Errorf("list domains: %w", err))
	}
	defer rows.Close()

	var out []Domain
	for rows.Next() {
		domain, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("list domains: %w", err)
		}
		out = append(out, *domain)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(fmt.Errorf("list domains: iterate: %w", err))
	}
	return out, nil
}

func (r *domainRepository) Remove(ctx context.Context, id string) error {
	return withTx(ctx, r.db, "remove domain", func(tx *sql.Tx) error {
		return removeResource(ctx, tx, ResourceTypeDomain, id)
	})
}

func (r *domainRepository) scan(scanner rowScanner) (*Domain, error) {
	var (
		domain      Domain
		serverID    sql.NullString
		containerID sql.NullString
		ciphertext  []byte
		nonce       []byte
		createdAt   string
		updatedAt   string
		payload     domainPayload
	)
	if err := scanner.Scan(&domain.ID, &serverID, &containerID, &ciphertext, &nonce, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := openPayload(r.kr, tableDomains, domain.ID, ciphertext, nonce, &payload); err != nil {
		return nil, err
	}

	var err error
	if domain.CreatedAt, domain.UpdatedAt, err = parseRowTimes(createdAt, updatedAt); err != nil {
		return nil, err
	}
	domain.ServerID = stringPtr(serverID)
	domain.ContainerID = stringPtr(containerID)
	domain.Domain = payload.Domain
	domain.Type = payload.Type
	domain.SSL = payload.SSL
	domain.SSLExpiry = payload.SSLExpiry
	domain.Registrar = payload.Registrar
	domain.CloudflareZoneID = payload.CloudflareZoneID
	domain.CloudflareRecordID = payload.CloudflareRecordID
	domain.Notes = payload.Notes
	return &domain, nil
}
