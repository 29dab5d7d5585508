package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"hasura_meta_reconciler/internal/hasura"
)

// Reconciler drives the database and the GraphQL metadata layer toward a
// declared state. Every Define/Track operation is safe to re-run against
// already-converged state; the only replacing (rather than merging)
// operation is DefineForeignKey.
type Reconciler struct {
	client *hasura.Client
	logger *slog.Logger
}

func New(client *hasura.Client, logger *slog.Logger) *Reconciler {
	return &Reconciler{client: client, logger: logger}
}

// Client exposes the underlying metadata client for callers that need raw
// SQL execution alongside the primitives.
func (r *Reconciler) Client() *hasura.Client {
	return r.client
}

// IDType is the semantic type of a table's primary-key column.
type IDType string

const (
	IDTypeUUID      IDType = "uuid"
	IDTypeBigSerial IDType = "bigserial"
	IDTypeText      IDType = "text"
)

func (t IDType) ddl() (string, error) {
	switch t {
	case IDTypeUUID:
		// generated database-side
		return "uuid PRIMARY KEY DEFAULT gen_random_uuid()", nil
	case IDTypeBigSerial:
		return "bigserial PRIMARY KEY", nil
	case IDTypeText:
		return "text PRIMARY KEY", nil
	default:
		return "", fmt.Errorf("unknown id type %q", string(t))
	}
}

// DefineSchema creates a schema if it does not exist yet.
func (r *Reconciler) DefineSchema(ctx context.Context, schema string) error {
	if err := ValidIdent(schema); err != nil {
		return err
	}
	sql := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, QuoteIdent(schema))
	if _, err := r.client.RunSQL(ctx, sql); err != nil {
		return fmt.Errorf("define schema %s: %w", schema, err)
	}
	r.logger.Debug("schema defined", "schema", schema)
	return nil
}

// DefineTable creates a table owning a single primary-key column of the
// given semantic type. Columns beyond the key are added with DefineColumn.
func (r *Reconciler) DefineTable(ctx context.Context, schema, table, idColumn string, idType IDType) error {
	if err := validIdents(schema, table, idColumn); err != nil {
		return err
	}
	idDDL, err := idType.ddl()
	if err != nil {
		return err
	}
	sql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s %s);`,
		Qualify(schema, table), QuoteIdent(idColumn), idDDL)
	if _, err := r.client.RunSQL(ctx, sql); err != nil {
		return fmt.Errorf("define table %s.%s: %w", schema, table, err)
	}
	r.logger.Debug("table defined", "schema", schema, "table", table)
	return nil
}

// ColumnDefinition declares one column. Postfix carries an optional raw
// clause such as "NOT NULL DEFAULT now()" or "UNIQUE"; Comment attaches
// a human description via COMMENT ON COLUMN.
type ColumnDefinition struct {
	Schema  string
	Table   string
	Name    string
	Type    string
	Postfix string
	Comment string
}

// DefineColumn adds a column if it does not exist. Re-applying the same
// definition neither fails nor duplicates.
func (r *Reconciler) DefineColumn(ctx context.Context, col ColumnDefinition) error {
	if err := validIdents(col.Schema, col.Table, col.Name); err != nil {
		return err
	}
	if col.Type == "" {
		return fmt.Errorf("column %s.%s.%s: type is required", col.Schema, col.Table, col.Name)
	}

	stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`,
		Qualify(col.Schema, col.Table), QuoteIdent(col.Name), col.Type)
	if col.Postfix != "" {
		stmt += " " + col.Postfix
	}
	stmt += ";"
	if col.Comment != "" {
		stmt += fmt.Sprintf("\nCOMMENT ON COLUMN %s.%s IS %s;",
			Qualify(col.Schema, col.Table), QuoteIdent(col.Name), QuoteLiteral(col.Comment))
	}

	if _, err := r.client.RunSQL(ctx, stmt); err != nil {
		return fmt.Errorf("define column %s.%s.%s: %w", col.Schema, col.Table, col.Name, err)
	}
	return nil
}

// RefAction is a referential action for foreign keys.
type RefAction string

const (
	Cascade  RefAction = "CASCADE"
	SetNull  RefAction = "SET NULL"
	Restrict RefAction = "RESTRICT"
	NoAction RefAction = "NO ACTION"
)

func (a RefAction) valid() bool {
	switch a {
	case Cascade, SetNull, Restrict, NoAction:
		return true
	}
	return false
}

// ForeignKey declares a constraint from a local column to a remote one.
type ForeignKey struct {
	FromSchema string
	FromTable  string
	FromColumn string
	ToSchema   string
	ToTable    string
	ToColumn   string
	OnDelete   RefAction
	OnUpdate   RefAction
}

// ConstraintName is the deterministic name derived from the source table
// and column. DefineForeignKey drops any constraint under this name before
// recreating it, so the final constraint always matches the latest call.
func (fk ForeignKey) ConstraintName() string {
	return fmt.Sprintf("fk_%s_%s", fk.FromTable, fk.FromColumn)
}

// DefineForeignKey replaces the named constraint. Unlike the other
// primitives this is replace-not-merge: two calls with different actions
// leave exactly one constraint reflecting the second call.
func (r *Reconciler) DefineForeignKey(ctx context.Context, fk ForeignKey) error {
	if err := validIdents(fk.FromSchema, fk.FromTable, fk.FromColumn, fk.ToSchema, fk.ToTable, fk.ToColumn); err != nil {
		return err
	}
	if fk.OnDelete == "" {
		fk.OnDelete = NoAction
	}
	if fk.OnUpdate == "" {
		fk.OnUpdate = NoAction
	}
	if !fk.OnDelete.valid() || !fk.OnUpdate.valid() {
		return fmt.Errorf("foreign key %s: invalid referential action", fk.ConstraintName())
	}

	name := QuoteIdent(fk.ConstraintName())
	from := Qualify(fk.FromSchema, fk.FromTable)
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s;\n", from, name)
	fmt.Fprintf(&b, "ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s;",
		from, name, QuoteIdent(fk.FromColumn),
		Qualify(fk.ToSchema, fk.ToTable), QuoteIdent(fk.ToColumn),
		fk.OnDelete, fk.OnUpdate)

	if _, err := r.client.RunSQL(ctx, b.String()); err != nil {
		return fmt.Errorf("define foreign key %s: %w", fk.ConstraintName(), err)
	}
	r.logger.Debug("foreign key defined", "constraint", fk.ConstraintName())
	return nil
}

// TrackTable exposes a table through the GraphQL layer.
func (r *Reconciler) TrackTable(ctx context.Context, schema, table string) error {
	if err := r.client.TrackTable(ctx, schema, table); err != nil {
		return fmt.Errorf("track table %s.%s: %w", schema, table, err)
	}
	return nil
}

// DefineObjectRelationshipForeign exposes a many-to-one GraphQL field on
// (schema, table) backed by the local foreign-key column. The underlying
// constraint must already exist.
func (r *Reconciler) DefineObjectRelationshipForeign(ctx context.Context, schema, table, name, fkColumn string) error {
	if err := r.client.CreateObjectRelationship(ctx, schema, table, name, fkColumn); err != nil {
		return fmt.Errorf("define object relationship %s on %s.%s: %w", name, schema, table, err)
	}
	return nil
}

// DefineArrayRelationshipForeign exposes a one-to-many GraphQL field on
// (schema, table) backed by the remote table's foreign-key column.
func (r *Reconciler) DefineArrayRelationshipForeign(ctx context.Context, schema, table, name, remoteSchema, remoteTable, remoteColumn string) error {
	remote := hasura.TableRef{Schema: remoteSchema, Name: remoteTable}
	if err := r.client.CreateArrayRelationship(ctx, schema, table, name, remote, remoteColumn); err != nil {
		return fmt.Errorf("define array relationship %s on %s.%s: %w", name, schema, table, err)
	}
	return nil
}

// PermissionRule grants a role one operation on a table, restricted to a
// row filter and a column allow-list.
type PermissionRule struct {
	Schema    string
	Table     string
	Operation hasura.Operation
	Role      string
	Filter    map[string]any
	Columns   []string
}

// DefinePermission overwrites the rule for the (table, operation, role)
// triple: the previous rule is dropped, not merged into.
func (r *Reconciler) DefinePermission(ctx context.Context, rule PermissionRule) error {
	if err := r.client.DropPermission(ctx, rule.Operation, rule.Schema, rule.Table, rule.Role); err != nil {
		return fmt.Errorf("drop prior %s permission for %s on %s.%s: %w",
			rule.Operation, rule.Role, rule.Schema, rule.Table, err)
	}

	// the engine rejects a rule without its filter (or check for insert),
	// so a nil rule filter becomes the unrestricted {}
	spec := hasura.PermissionSpec{Columns: rule.Columns}
	if rule.Operation == hasura.OpInsert {
		spec.Check = rule.Filter
		if spec.Check == nil {
			spec.Check = map[string]any{}
		}
	} else {
		spec.Filter = rule.Filter
		if spec.Filter == nil {
			spec.Filter = map[string]any{}
		}
	}

	if err := r.client.CreatePermission(ctx, rule.Operation, rule.Schema, rule.Table, rule.Role, spec); err != nil {
		return fmt.Errorf("define %s permission for %s on %s.%s: %w",
			rule.Operation, rule.Role, rule.Schema, rule.Table, err)
	}
	return nil
}

// systemSchemas are never reported by Schemas and never touched by
// generator teardown.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"pg_catalog":         true,
	"pg_toast":           true,
	"hdb_catalog":        true,
	"hdb_views":          true,
}

// Schemas lists user schemas.
func (r *Reconciler) Schemas(ctx context.Context) ([]string, error) {
	res, err := r.client.RunSQL(ctx, `SELECT schema_name FROM information_schema.schemata ORDER BY schema_name;`)
	if err != nil {
		return nil, fmt.Errorf("list schemas: %w", err)
	}
	var out []string
	for _, row := range dataRows(res) {
		if len(row) == 0 || systemSchemas[row[0]] || strings.HasPrefix(row[0], "pg_") {
			continue
		}
		out = append(out, row[0])
	}
	return out, nil
}

// Tables lists base tables of one schema.
func (r *Reconciler) Tables(ctx context.Context, schema string) ([]string, error) {
	if err := ValidIdent(schema); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(
		`SELECT table_name FROM information_schema.tables WHERE table_schema = %s AND table_type = 'BASE TABLE' ORDER BY table_name;`,
		QuoteLiteral(schema))
	res, err := r.client.RunSQL(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", schema, err)
	}
	var out []string
	for _, row := range dataRows(res) {
		if len(row) > 0 {
			out = append(out, row[0])
		}
	}
	return out, nil
}

// DeleteSchema drops a schema. Used by test teardown only; production
// migrations never remove schemas.
func (r *Reconciler) DeleteSchema(ctx context.Context, schema string, cascade bool) error {
	if err := ValidIdent(schema); err != nil {
		return err
	}
	sql := fmt.Sprintf(`DROP SCHEMA IF EXISTS %s`, QuoteIdent(schema))
	if cascade {
		sql += " CASCADE"
	}
	if _, err := r.client.RunSQL(ctx, sql+";"); err != nil {
		return fmt.Errorf("delete schema %s: %w", schema, err)
	}
	return nil
}

// dataRows strips the header row from a run_sql tuples result.
func dataRows(res *hasura.SQLResult) [][]string {
	if res == nil || len(res.Result) < 2 {
		return nil
	}
	return res.Result[1:]
}
