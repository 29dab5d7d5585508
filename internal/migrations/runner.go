package migrations

import (
	"context"
	"fmt"
	"log/slog"

	"hasura_meta_reconciler/internal/reconcile"
)

// Migration is an up procedure. Each one composes reconciliation
// primitives in the fixed order schema, table, columns, foreign keys,
// track, relationships, permissions; the primitives' idempotency makes
// re-running an already-applied migration harmless.
type Migration struct {
	Name string
	Up   func(ctx context.Context, r *reconcile.Reconciler) error
}

// Runner applies pending migrations in registration order, recording each
// applied name in meta.applied_migrations.
type Runner struct {
	rec    *reconcile.Reconciler
	logger *slog.Logger
}

func NewRunner(rec *reconcile.Reconciler, logger *slog.Logger) *Runner {
	return &Runner{rec: rec, logger: logger}
}

func (r *Runner) ensureAppliedTable(ctx context.Context) error {
	_, err := r.rec.Client().RunSQL(ctx, `
CREATE SCHEMA IF NOT EXISTS meta;
CREATE TABLE IF NOT EXISTS meta.applied_migrations (
	name text PRIMARY KEY,
	applied_at timestamptz NOT NULL DEFAULT now()
);`)
	if err != nil {
		return fmt.Errorf("ensure applied_migrations table: %w", err)
	}
	return nil
}

func (r *Runner) appliedSet(ctx context.Context) (map[string]bool, error) {
	res, err := r.rec.Client().RunSQL(ctx, `SELECT name FROM meta.applied_migrations;`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	applied := map[string]bool{}
	if len(res.Result) > 1 {
		for _, row := range res.Result[1:] {
			if len(row) > 0 {
				applied[row[0]] = true
			}
		}
	}
	return applied, nil
}

func (r *Runner) markApplied(ctx context.Context, name string) error {
	sql := fmt.Sprintf(`INSERT INTO meta.applied_migrations (name) VALUES (%s) ON CONFLICT (name) DO NOTHING;`,
		reconcile.QuoteLiteral(name))
	if _, err := r.rec.Client().RunSQL(ctx, sql); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return nil
}

// Apply runs every pending migration and returns how many were applied. A
// failing migration halts the run; already-applied ones stay recorded.
func (r *Runner) Apply(ctx context.Context, migrations []Migration) (int, error) {
	if err := r.ensureAppliedTable(ctx); err != nil {
		return 0, err
	}
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		r.logger.Info("applying migration", "name", m.Name)
		if err := m.Up(ctx, r.rec); err != nil {
			return count, fmt.Errorf("migration %s: %w", m.Name, err)
		}
		if err := r.markApplied(ctx, m.Name); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		if err := r.rec.Client().ReloadMetadata(ctx); err != nil {
			return count, fmt.Errorf("reload metadata: %w", err)
		}
	}
	return count, nil
}
