package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
)

// CurrentSchemaVersion is the layout this build reads and writes.
const CurrentSchemaVersion = 5

const (
	metaTable            = "store_meta"
	schemaVersionMetaKey = "schema_version"
	envelopeMetaKey      = "envelope"
)

const (
	tableProjects    = "projects"
	tableServers     = "servers"
	tableDomains     = "domains"
	tableDatabases   = "databases"
	tableContainers  = "containers"
	tableScripts     = "scripts"
	tableCredentials = "credentials"
	tableLinks       = "project_resources"
)

// Migration moves the schema from From to From+1. Up must be additive and
// must tolerate a schema that already has the target shape.
type Migration struct {
	From        int
	Description string
	Up          func(tx *sql.Tx) error
}

var defaultMigrations = []Migration{
	{
		From:        0,
		Description: "create entity tables",
		Up: func(tx *sql.Tx) error {
			statements := []string{
				sealedTableDDL(tableProjects, true, ""),
				sealedTableDDL(tableServers, true, ""),
				sealedTableDDL(tableDomains, true, ""),
				sealedTableDDL(tableDatabases, true, `
					password_ciphertext BLOB,
					password_nonce BLOB,
					connection_ciphertext BLOB,
					connection_nonce BLOB,`),
				sealedTableDDL(tableContainers, false, `
					server_id TEXT,`),
				sealedTableDDL(tableScripts, true, ""),
				sealedTableDDL(tableCredentials, true, `
					data_ciphertext BLOB NOT NULL,
					data_nonce BLOB NOT NULL,`),
				`CREATE INDEX IF NOT EXISTS idx_containers_lookup_mac ON containers(lookup_mac)`,
				`CREATE TABLE IF NOT EXISTS project_resources (
					id TEXT PRIMARY KEY,
					project_id TEXT NOT NULL,
					resource_type TEXT NOT NULL,
					resource_id TEXT NOT NULL,
					role_mac BLOB NOT NULL,
					payload_ciphertext BLOB NOT NULL,
					payload_nonce BLOB NOT NULL,
					created_at TEXT NOT NULL,
					FOREIGN KEY(project_id) REFERENCES projects(id) ON DELETE CASCADE
				)`,
				`CREATE INDEX IF NOT EXISTS idx_project_resources_project ON project_resources(project_id)`,
				`CREATE INDEX IF NOT EXISTS idx_project_resources_resource ON project_resources(resource_type, resource_id)`,
			}
			for _, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("apply migration v1 statement: %w", err)
				}
			}
			return nil
		},
	},
	{
		From:        1,
		Description: "add script execution result",
		Up: func(tx *sql.Tx) error {
			columns := []struct {
				name       string
				definition string
			}{
				{name: "last_result_ciphertext", definition: `BLOB`},
				{name: "last_result_nonce", definition: `BLOB`},
			}
			for _, column := range columns {
				if err := addColumnIfMissing(tx, tableScripts, column.name, column.definition); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		From:        2,
		Description: "add server credential reference",
		Up: func(tx *sql.Tx) error {
			if err := addColumnIfMissing(tx, tableServers, "credential_id", `TEXT`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_servers_credential_id ON servers(credential_id)`); err != nil {
				return fmt.Errorf("create servers credential index: %w", err)
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_containers_server_id ON containers(server_id)`); err != nil {
				return fmt.Errorf("create containers server index: %w", err)
			}
			return nil
		},
	},
	{
		From:        3,
		Description: "enforce unique project resource roles",
		Up: func(tx *sql.Tx) error {
			// Older stores could hold the same tuple twice; keep the earliest.
			if _, err := tx.Exec(`
				DELETE FROM project_resources
				WHERE rowid NOT IN (
					SELECT MIN(rowid) FROM project_resources
					GROUP BY project_id, resource_type, resource_id, role_mac
				)
			`); err != nil {
				return fmt.Errorf("collapse duplicate links: %w", err)
			}
			if _, err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS ux_project_resources_tuple
				ON project_resources(project_id, resource_type, resource_id, role_mac)`); err != nil {
				return fmt.Errorf("create link uniqueness index: %w", err)
			}
			return nil
		},
	},
	{
		From:        4,
		Description: "add placement references",
		Up: func(tx *sql.Tx) error {
			placements := []weakColumn{
				{table: tableDomains, column: "server_id"},
				{table: tableDomains, column: "container_id"},
				{table: tableDatabases, column: "server_id"},
				{table: tableDatabases, column: "container_id"},
				{table: tableScripts, column: "server_id"},
				{table: tableScripts, column: "project_id"},
				{table: tableScripts, column: "container_id"},
			}
			for _, ref := range placements {
				if err := addColumnIfMissing(tx, ref.table, ref.column, `TEXT`); err != nil {
					return err
				}
				index := "idx_" + ref.table + "_" + ref.column
				if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS ` + index + ` ON ` + ref.table + `(` + ref.column + `)`); err != nil {
					return fmt.Errorf("create %s: %w", index, err)
				}
			}
			return nil
		},
	},
}

func DefaultMigrations() []Migration {
	out := make([]Migration, len(defaultMigrations))
	copy(out, defaultMigrations)
	return out
}

// Migrator walks a store from its persisted schema version up to target.
type Migrator struct {
	target int
	steps  []Migration
}

// NewMigrator checks that steps hold exactly one migration for every version
// below target.
func NewMigrator(target int, steps []Migration) (*Migrator, error) {
	if target < 0 {
		return nil, fmt.Errorf("new migrator: negative target version %d", target)
	}

	ordered := make([]Migration, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].From < ordered[j].From })

	for i, step := range ordered {
		if step.Up == nil {
			return nil, fmt.Errorf("new migrator: migration v%d has no Up func", step.From+1)
		}
		if step.From != i {
			return nil, fmt.Errorf("new migrator: migrations must be contiguous from 0, found v%d at position %d", step.From, i)
		}
	}
	if len(ordered) < target {
		return nil, fmt.Errorf("new migrator: no migration from v%d to target v%d", len(ordered), target)
	}

	return &Migrator{target: target, steps: ordered[:target]}, nil
}

func (m *Migrator) Target() int {
	return m.target
}

// Run migrates db in a single transaction. A database without a meta table is
// treated as new: the schema is built and stamped at the target version.
func (m *Migrator) Run(ctx context.Context, db *sql.DB) (MigrationReport, error) {
	if db == nil {
		return MigrationReport{}, fmt.Errorf("run migrations: db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return MigrationReport{}, classifyError(fmt.Errorf("run migrations: begin tx: %w", err))
	}

	fresh, err := ensureMetaTables(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return MigrationReport{}, err
	}

	report, err := m.migrate(ctx, tx, fresh)
	if err != nil {
		_ = tx.Rollback()
		return MigrationReport{}, err
	}

	if err := tx.Commit(); err != nil {
		return MigrationReport{}, classifyError(fmt.Errorf("run migrations: commit: %w", err))
	}
	return report, nil
}

// migrate runs inside the caller's transaction so that store creation and the
// schema it builds commit together.
func (m *Migrator) migrate(ctx context.Context, tx *sql.Tx, fresh bool) (MigrationReport, error) {
	current := 0
	if !fresh {
		version, err := readSchemaVersion(ctx, tx)
		if err != nil {
			return MigrationReport{}, err
		}
		current = version
	}

	report := MigrationReport{Created: fresh, From: current, To: m.target}
	if current > m.target {
		return MigrationReport{}, fmt.Errorf("%w: store=%d build=%d", ErrUnsupportedSchemaVersion, current, m.target)
	}
	if current == m.target && !fresh {
		return report, nil
	}

	for _, step := range m.steps[current:] {
		version := step.From + 1
		if err := step.Up(tx); err != nil {
			return MigrationReport{}, fmt.Errorf("%w: v%d (%s): %w", ErrMigrationFailed, version, step.Description, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, version, fmtTime(nowUTC())); err != nil {
			return MigrationReport{}, fmt.Errorf("%w: record v%d: %w", ErrMigrationFailed, version, err)
		}
		if !fresh {
			report.Applied = append(report.Applied, version)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO store_meta(key, value) VALUES(?, ?)`, schemaVersionMetaKey, strconv.Itoa(m.target)); err != nil {
		return MigrationReport{}, fmt.Errorf("%w: stamp schema version: %w", ErrMigrationFailed, err)
	}
	return report, nil
}

// ensureMetaTables creates the bookkeeping tables and reports whether they
// were missing.
func ensureMetaTables(ctx context.Context, tx *sql.Tx) (bool, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`, metaTable).Scan(&count); err != nil {
		return false, classifyError(fmt.Errorf("probe store metadata: %w", err))
	}
	if count == 1 {
		return false, nil
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO store_meta(key, value) VALUES('` + schemaVersionMetaKey + `', '0')`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return false, classifyError(fmt.Errorf("create store metadata: %w", err))
		}
	}
	return true, nil
}

func readSchemaVersion(ctx context.Context, tx *sql.Tx) (int, error) {
	var versionStr string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&versionStr); err != nil {
		return 0, classifyError(fmt.Errorf("read schema version: %w", err))
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil || version < 0 {
		return 0, fmt.Errorf("%w: unreadable schema version %q", ErrAuthenticationFailed, versionStr)
	}
	return version, nil
}

func sealedTableDDL(table string, uniqueName bool, extraColumns string) string {
	lookup := `lookup_mac BLOB NOT NULL`
	if uniqueName {
		lookup += ` UNIQUE`
	}
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id TEXT PRIMARY KEY,
		` + lookup + `,` + extraColumns + `
		payload_ciphertext BLOB NOT NULL,
		payload_nonce BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
}

func addColumnIfMissing(tx *sql.Tx, table, column, definition string) error {
	exists, err := columnExists(tx, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := tx.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + definition); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

func columnExists(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false, fmt.Errorf("query table info %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typeStr string
			notNull int
			dfltVal sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typeStr, &notNull, &dfltVal, &pk); err != nil {
			return false, fmt.Errorf("scan table info %s: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate table info %s: %w", table, err)
	}
	return false, nil
}
