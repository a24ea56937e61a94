package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Weak reference cleanup. Every helper here runs inside the transaction that
// removes the referenced row, so callers never observe a dangling reference.

type weakColumn struct {
	table  string
	column string
}

// weakReferrers lists, per referenced table, every column that may hold one of
// its ids.
var weakReferrers = map[string][]weakColumn{
	tableCredentials: {
		{table: tableServers, column: "credential_id"},
	},
	tableServers: {
		{table: tableContainers, column: "server_id"},
		{table: tableDomains, column: "server_id"},
		{table: tableDatabases, column: "server_id"},
		{table: tableScripts, column: "server_id"},
	},
	tableContainers: {
		{table: tableDomains, column: "container_id"},
		{table: tableDatabases, column: "container_id"},
		{table: tableScripts, column: "container_id"},
	},
	tableProjects: {
		{table: tableScripts, column: "project_id"},
	},
}

// clearWeakReferences nulls every column that points at id in target.
func clearWeakReferences(ctx context.Context, tx *sql.Tx, target, id string) error {
	now := fmtTime(nowUTC())
	for _, ref := range weakReferrers[target] {
		_, err := tx.ExecContext(ctx, `UPDATE `+ref.table+` SET `+ref.column+` = NULL, updated_at = ? WHERE `+ref.column+` = ?`, now, id)
		if err != nil {
			return fmt.Errorf("clear %s.%s references: %w", ref.table, ref.column, err)
		}
	}
	return nil
}

// weakRef is an optional pointer from a row being saved to another row.
type weakRef struct {
	kind  string
	table string
	id    sql.NullString
}

func serverRef(id *string) weakRef {
	return weakRef{kind: "server", table: tableServers, id: nullableString(id)}
}

func containerRef(id *string) weakRef {
	return weakRef{kind: "container", table: tableContainers, id: nullableString(id)}
}

// checkWeakReferences fails with ErrNotFound when a set reference names a row
// that does not exist.
func checkWeakReferences(ctx context.Context, tx *sql.Tx, refs ...weakRef) error {
	for _, ref := range refs {
		if !ref.id.Valid {
			continue
		}
		ok, err := rowExists(ctx, tx, ref.table, ref.id.String)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s", ErrNotFound, ref.kind, ref.id.String)
		}
	}
	return nil
}

func removeLinksForProject(ctx context.Context, tx *sql.Tx, projectID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_resources WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("remove project links: %w", err)
	}
	return nil
}

func removeLinksForResource(ctx context.Context, tx *sql.Tx, resourceType ResourceType, resourceID string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_resources WHERE resource_type = ? AND resource_id = ?`, string(resourceType), resourceID); err != nil {
		return fmt.Errorf("remove %s links: %w", resourceType, err)
	}
	return nil
}

// removeResource deletes a linkable row, every link naming it and every weak
// reference to it.
func removeResource(ctx context.Context, tx *sql.Tx, resourceType ResourceType, id string) error {
	if err := clearWeakReferences(ctx, tx, resourceType.table(), id); err != nil {
		return err
	}
	if err := removeLinksForResource(ctx, tx, resourceType, id); err != nil {
		return err
	}
	return deleteRow(ctx, tx, resourceType.table(), id)
}
