package migrations

import (
	"context"

	"hasura_meta_reconciler/internal/hasura"
	"hasura_meta_reconciler/internal/reconcile"
)

// All returns the registered migrations in apply order.
func All() []Migration {
	return []Migration{
		{Name: "0001_logs", Up: upLogs},
		{Name: "0002_users", Up: upUsers},
		{Name: "0003_user_notes", Up: upUserNotes},
	}
}

// upLogs creates the audit subsystem's own tables: raw-value diffs rows
// materialized into patches, and append-only state snapshots.
func upLogs(ctx context.Context, r *reconcile.Reconciler) error {
	if err := r.DefineSchema(ctx, "logs"); err != nil {
		return err
	}

	if err := r.DefineTable(ctx, "logs", "diffs", "id", reconcile.IDTypeUUID); err != nil {
		return err
	}
	diffCols := []reconcile.ColumnDefinition{
		{Schema: "logs", Table: "diffs", Name: "schema_name", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "diffs", Name: "table_name", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "diffs", Name: "column_name", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "diffs", Name: "record_id", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "diffs", Name: "user_id", Type: "text", Postfix: "NOT NULL DEFAULT 'system'"},
		{Schema: "logs", Table: "diffs", Name: "value", Type: "text", Comment: "raw new value captured by the trigger"},
		{Schema: "logs", Table: "diffs", Name: "patch", Type: "text", Comment: "computed old-to-new patch, set by the materializer"},
		{Schema: "logs", Table: "diffs", Name: "processed", Type: "boolean", Postfix: "NOT NULL DEFAULT false"},
		{Schema: "logs", Table: "diffs", Name: "created_at", Type: "timestamptz", Postfix: "NOT NULL DEFAULT now()"},
	}
	for _, col := range diffCols {
		if err := r.DefineColumn(ctx, col); err != nil {
			return err
		}
	}

	if err := r.DefineTable(ctx, "logs", "states", "id", reconcile.IDTypeUUID); err != nil {
		return err
	}
	stateCols := []reconcile.ColumnDefinition{
		{Schema: "logs", Table: "states", Name: "schema_name", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "states", Name: "table_name", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "states", Name: "column_name", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "states", Name: "record_id", Type: "text", Postfix: "NOT NULL"},
		{Schema: "logs", Table: "states", Name: "user_id", Type: "text", Postfix: "NOT NULL DEFAULT 'system'"},
		{Schema: "logs", Table: "states", Name: "value", Type: "jsonb", Comment: "JSON-wrapped column value; NULL marks a deletion"},
		{Schema: "logs", Table: "states", Name: "created_at", Type: "timestamptz", Postfix: "NOT NULL DEFAULT now()"},
	}
	for _, col := range stateCols {
		if err := r.DefineColumn(ctx, col); err != nil {
			return err
		}
	}

	for _, table := range []string{"diffs", "states"} {
		if err := r.TrackTable(ctx, "logs", table); err != nil {
			return err
		}
		if err := r.DefinePermission(ctx, reconcile.PermissionRule{
			Schema:    "logs",
			Table:     table,
			Operation: hasura.OpSelect,
			Role:      "admin",
			Filter:    map[string]any{},
			Columns: []string{
				"id", "schema_name", "table_name", "column_name",
				"record_id", "user_id", "value", "created_at",
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

func upUsers(ctx context.Context, r *reconcile.Reconciler) error {
	if err := r.DefineTable(ctx, "public", "users", "id", reconcile.IDTypeUUID); err != nil {
		return err
	}
	cols := []reconcile.ColumnDefinition{
		{Schema: "public", Table: "users", Name: "name", Type: "text", Postfix: "NOT NULL DEFAULT ''"},
		{Schema: "public", Table: "users", Name: "email", Type: "text", Postfix: "UNIQUE"},
		{Schema: "public", Table: "users", Name: "created_at", Type: "timestamptz", Postfix: "NOT NULL DEFAULT now()"},
	}
	for _, col := range cols {
		if err := r.DefineColumn(ctx, col); err != nil {
			return err
		}
	}
	if err := r.TrackTable(ctx, "public", "users"); err != nil {
		return err
	}

	ownRow := map[string]any{"id": map[string]any{"_eq": "X-Hasura-User-Id"}}
	if err := r.DefinePermission(ctx, reconcile.PermissionRule{
		Schema:    "public",
		Table:     "users",
		Operation: hasura.OpSelect,
		Role:      "user",
		Filter:    ownRow,
		Columns:   []string{"id", "name", "email", "created_at"},
	}); err != nil {
		return err
	}
	return r.DefinePermission(ctx, reconcile.PermissionRule{
		Schema:    "public",
		Table:     "users",
		Operation: hasura.OpUpdate,
		Role:      "user",
		Filter:    ownRow,
		Columns:   []string{"name"},
	})
}

func upUserNotes(ctx context.Context, r *reconcile.Reconciler) error {
	if err := r.DefineTable(ctx, "public", "user_notes", "id", reconcile.IDTypeUUID); err != nil {
		return err
	}
	cols := []reconcile.ColumnDefinition{
		{Schema: "public", Table: "user_notes", Name: "user_id", Type: "uuid", Postfix: "NOT NULL"},
		{Schema: "public", Table: "user_notes", Name: "title", Type: "text", Postfix: "NOT NULL DEFAULT ''"},
		{Schema: "public", Table: "user_notes", Name: "body", Type: "text"},
		{Schema: "public", Table: "user_notes", Name: "created_at", Type: "timestamptz", Postfix: "NOT NULL DEFAULT now()"},
	}
	for _, col := range cols {
		if err := r.DefineColumn(ctx, col); err != nil {
			return err
		}
	}

	if err := r.DefineForeignKey(ctx, reconcile.ForeignKey{
		FromSchema: "public",
		FromTable:  "user_notes",
		FromColumn: "user_id",
		ToSchema:   "public",
		ToTable:    "users",
		ToColumn:   "id",
		OnDelete:   reconcile.Cascade,
		OnUpdate:   reconcile.Cascade,
	}); err != nil {
		return err
	}

	if err := r.TrackTable(ctx, "public", "user_notes"); err != nil {
		return err
	}

	// relationships only after the constraint above exists
	if err := r.DefineObjectRelationshipForeign(ctx, "public", "user_notes", "user", "user_id"); err != nil {
		return err
	}
	if err := r.DefineArrayRelationshipForeign(ctx, "public", "users", "notes", "public", "user_notes", "user_id"); err != nil {
		return err
	}

	ownNotes := map[string]any{"user_id": map[string]any{"_eq": "X-Hasura-User-Id"}}
	noteColumns := []string{"id", "user_id", "title", "body", "created_at"}
	for _, op := range []hasura.Operation{hasura.OpSelect, hasura.OpInsert, hasura.OpUpdate, hasura.OpDelete} {
		columns := noteColumns
		if op == hasura.OpDelete {
			columns = nil
		}
		if err := r.DefinePermission(ctx, reconcile.PermissionRule{
			Schema:    "public",
			Table:     "user_notes",
			Operation: op,
			Role:      "user",
			Filter:    ownNotes,
			Columns:   columns,
		}); err != nil {
			return err
		}
	}
	return nil
}
