package audit

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"hasura_meta_reconciler/internal/reconcile"
)

// Trigger name prefixes. Teardown matches on these, so every generated
// trigger must be named through triggerName.
const (
	diffPrefix        = "audit_diffs"
	statePrefix       = "audit_states"
	stateDeletePrefix = "audit_states_del"
)

// Generated function names, all living in the logs schema.
const (
	diffFunction        = "logs.record_diff"
	stateFunction       = "logs.record_state"
	stateDeleteFunction = "logs.record_state_delete"
)

// Generator synthesizes audit triggers from a declarative target list.
// Every apply is a full teardown of previously generated objects followed
// by a fresh recreate, sent as one run_sql batch so the engine executes it
// in a single transaction.
type Generator struct {
	rec      *reconcile.Reconciler
	keys     KeyRegistry
	excluded map[string]bool
	logger   *slog.Logger
}

func NewGenerator(rec *reconcile.Reconciler, keys KeyRegistry, excludedSchemas []string, logger *slog.Logger) *Generator {
	excluded := make(map[string]bool, len(excludedSchemas))
	for _, s := range excludedSchemas {
		excluded[s] = true
	}
	if keys == nil {
		keys = KeyRegistry{}
	}
	return &Generator{rec: rec, keys: keys, excluded: excluded, logger: logger}
}

// ApplyDiffs tears down every diff trigger in every user schema, then
// recreates the shared diff function and one trigger per target. An empty
// target list leaves no generated diff objects behind.
func (g *Generator) ApplyDiffs(ctx context.Context, targets []DiffTarget) error {
	stmts, err := g.teardownStatements(ctx, diffPrefix)
	if err != nil {
		return err
	}
	stmts = append(stmts, dropFunctionSQL(diffFunction))

	if len(targets) > 0 {
		stmts = append(stmts, diffFunctionSQL())
		for _, t := range targets {
			if err := validTarget(t.Schema, t.Table, t.Column); err != nil {
				return err
			}
			stmts = append(stmts, diffTriggerSQL(t, g.keys.Resolve(t.Schema, t.Table)))
		}
	}

	if _, err := g.rec.Client().RunSQL(ctx, strings.Join(stmts, "\n")); err != nil {
		return fmt.Errorf("apply diff triggers: %w", err)
	}
	g.logger.Info("diff triggers applied", "targets", len(targets))
	return nil
}

// ApplyStates is the state-snapshot counterpart of ApplyDiffs. Each target
// gets a write trigger and a separate delete trigger.
func (g *Generator) ApplyStates(ctx context.Context, targets []StateTarget) error {
	stmts, err := g.teardownStatements(ctx, statePrefix)
	if err != nil {
		return err
	}
	stmts = append(stmts, dropFunctionSQL(stateFunction), dropFunctionSQL(stateDeleteFunction))

	if len(targets) > 0 {
		stmts = append(stmts, stateFunctionSQL(), stateDeleteFunctionSQL())
		for _, t := range targets {
			idents := append([]string{t.Schema, t.Table}, t.Columns...)
			if err := validTarget(idents...); err != nil {
				return err
			}
			key := g.keys.Resolve(t.Schema, t.Table)
			stmts = append(stmts, stateTriggerSQL(t, key), stateDeleteTriggerSQL(t, key))
		}
	}

	if _, err := g.rec.Client().RunSQL(ctx, strings.Join(stmts, "\n")); err != nil {
		return fmt.Errorf("apply state triggers: %w", err)
	}
	g.logger.Info("state triggers applied", "targets", len(targets))
	return nil
}

// teardownStatements enumerates every user schema and table, finds triggers
// whose names carry the given prefix, and returns DROP statements for them.
// Enumerating the live catalog rather than the config means objects from a
// since-shrunk target list are still found and removed.
func (g *Generator) teardownStatements(ctx context.Context, prefix string) ([]string, error) {
	schemas, err := g.rec.Schemas(ctx)
	if err != nil {
		return nil, err
	}

	var stmts []string
	for _, schema := range schemas {
		if g.excluded[schema] {
			continue
		}
		tables, err := g.rec.Tables(ctx, schema)
		if err != nil {
			return nil, err
		}
		for _, table := range tables {
			names, err := g.tableTriggers(ctx, schema, table, prefix)
			if err != nil {
				return nil, err
			}
			for _, name := range names {
				stmts = append(stmts, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s;`,
					reconcile.QuoteIdent(name), reconcile.Qualify(schema, table)))
			}
		}
	}
	return stmts, nil
}

func (g *Generator) tableTriggers(ctx context.Context, schema, table, prefix string) ([]string, error) {
	sql := fmt.Sprintf(
		`SELECT DISTINCT trigger_name FROM information_schema.triggers WHERE event_object_schema = %s AND event_object_table = %s AND trigger_name LIKE %s;`,
		reconcile.QuoteLiteral(schema), reconcile.QuoteLiteral(table), reconcile.QuoteLiteral(prefix+"_%"))
	res, err := g.rec.Client().RunSQL(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("list triggers on %s.%s: %w", schema, table, err)
	}
	var names []string
	if len(res.Result) > 1 {
		for _, row := range res.Result[1:] {
			if len(row) > 0 {
				names = append(names, row[0])
			}
		}
	}
	return names, nil
}

// maxIdentLen is Postgres's identifier limit (NAMEDATALEN - 1). Names over
// the limit would be silently truncated server-side, so create and teardown
// could disagree on the stored name and truncated names could collide.
const maxIdentLen = 63

func triggerName(prefix string, parts ...string) string {
	name := prefix + "_" + strings.Join(parts, "_")
	if len(name) <= maxIdentLen {
		return name
	}
	// keep the prefix so teardown's LIKE match still finds the trigger,
	// disambiguate the shortened tail with a hash of the full name
	h := fnv.New32a()
	h.Write([]byte(name))
	hash := fmt.Sprintf("%08x", h.Sum32())
	return name[:maxIdentLen-len(hash)-1] + "_" + hash
}

func dropFunctionSQL(name string) string {
	// CASCADE also removes triggers in schemas outside the enumeration,
	// keeping teardown complete even with an exclusion list in effect.
	return fmt.Sprintf(`DROP FUNCTION IF EXISTS %s() CASCADE;`, name)
}

// recordIDBlock resolves the record id inside a generated function. The key
// column is baked in per table at generation time; the id/uuid probing only
// remains for tables absent from the registry.
const recordIDBlock = `	IF key_column <> '' AND row_data ? key_column THEN
		record_id := row_data ->> key_column;
	ELSIF row_data ? 'id' THEN
		record_id := row_data ->> 'id';
	ELSIF row_data ? 'uuid' THEN
		record_id := row_data ->> 'uuid';
	ELSE
		record_id := 'unknown';
	END IF;`

// actingUserExpr reads the acting user id from the session variables the
// engine sets for the transaction.
const actingUserExpr = `coalesce(current_setting('hasura.user', true)::jsonb ->> 'x-hasura-user-id', 'system')`

func diffFunctionSQL() string {
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $fn$
DECLARE
	key_column text := TG_ARGV[0];
	watched_column text := TG_ARGV[1];
	row_data jsonb := to_jsonb(NEW);
	record_id text;
BEGIN
%s
	INSERT INTO logs.diffs (schema_name, table_name, column_name, record_id, user_id, value)
	VALUES (TG_TABLE_SCHEMA, TG_TABLE_NAME, watched_column, record_id, %s, row_data ->> watched_column);
	RETURN NEW;
END;
$fn$ LANGUAGE plpgsql;`, diffFunction, recordIDBlock, actingUserExpr)
}

func stateFunctionSQL() string {
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $fn$
DECLARE
	key_column text := TG_ARGV[0];
	row_data jsonb := to_jsonb(NEW);
	record_id text;
	col text;
BEGIN
%s
	FOR i IN 1..TG_NARGS - 1 LOOP
		col := TG_ARGV[i];
		INSERT INTO logs.states (schema_name, table_name, column_name, record_id, user_id, value)
		VALUES (TG_TABLE_SCHEMA, TG_TABLE_NAME, col, record_id, %s, row_data -> col);
	END LOOP;
	RETURN NEW;
END;
$fn$ LANGUAGE plpgsql;`, stateFunction, recordIDBlock, actingUserExpr)
}

// stateDeleteFunctionSQL snapshots deletions: one NULL-valued row per
// watched column, resolved against OLD.
func stateDeleteFunctionSQL() string {
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $fn$
DECLARE
	key_column text := TG_ARGV[0];
	row_data jsonb := to_jsonb(OLD);
	record_id text;
	col text;
BEGIN
%s
	FOR i IN 1..TG_NARGS - 1 LOOP
		col := TG_ARGV[i];
		INSERT INTO logs.states (schema_name, table_name, column_name, record_id, user_id, value)
		VALUES (TG_TABLE_SCHEMA, TG_TABLE_NAME, col, record_id, %s, NULL);
	END LOOP;
	RETURN OLD;
END;
$fn$ LANGUAGE plpgsql;`, stateDeleteFunction, recordIDBlock, actingUserExpr)
}

func diffTriggerSQL(t DiffTarget, keyColumn string) string {
	name := triggerName(diffPrefix, t.Schema, t.Table, t.Column)
	return fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OF %s ON %s FOR EACH ROW EXECUTE FUNCTION %s(%s, %s);`,
		reconcile.QuoteIdent(name),
		reconcile.QuoteIdent(t.Column),
		reconcile.Qualify(t.Schema, t.Table),
		diffFunction,
		reconcile.QuoteLiteral(keyColumn),
		reconcile.QuoteLiteral(t.Column))
}

func stateTriggerSQL(t StateTarget, keyColumn string) string {
	name := triggerName(statePrefix, t.Schema, t.Table)
	return fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE ON %s FOR EACH ROW EXECUTE FUNCTION %s(%s);`,
		reconcile.QuoteIdent(name),
		reconcile.Qualify(t.Schema, t.Table),
		stateFunction,
		functionArgs(keyColumn, t.Columns))
}

func stateDeleteTriggerSQL(t StateTarget, keyColumn string) string {
	name := triggerName(stateDeletePrefix, t.Schema, t.Table)
	return fmt.Sprintf(`CREATE TRIGGER %s AFTER DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s(%s);`,
		reconcile.QuoteIdent(name),
		reconcile.Qualify(t.Schema, t.Table),
		stateDeleteFunction,
		functionArgs(keyColumn, t.Columns))
}

func functionArgs(keyColumn string, columns []string) string {
	args := make([]string, 0, len(columns)+1)
	args = append(args, reconcile.QuoteLiteral(keyColumn))
	for _, c := range columns {
		args = append(args, reconcile.QuoteLiteral(c))
	}
	return strings.Join(args, ", ")
}
