package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DBTX is the slice of pgxpool.Pool the materializer needs; tests stub it.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DiffRow is a logs.diffs row as delivered in an event-trigger payload.
type DiffRow struct {
	ID        string    `json:"id"`
	Schema    string    `json:"schema_name"`
	Table     string    `json:"table_name"`
	Column    string    `json:"column_name"`
	RecordID  string    `json:"record_id"`
	UserID    string    `json:"user_id"`
	Value     *string   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Materializer turns raw audit values into computed patches. It is invoked
// once per inserted diffs row; each invocation does one read, one diff
// computation and one write. Failures are reported upward so the event
// source can redeliver; there is no internal retry.
type Materializer struct {
	db     DBTX
	logger *slog.Logger
}

func NewMaterializer(db DBTX, logger *slog.Logger) *Materializer {
	return &Materializer{db: db, logger: logger}
}

// Process computes the patch between the row's value and the immediately
// preceding value for the same (schema, table, column, record) and writes
// it back with processed = true. A record with no history diffs against the
// empty string.
func (m *Materializer) Process(ctx context.Context, row DiffRow) error {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return fmt.Errorf("parse diff row id: %w", err)
	}

	var prior *string
	err = m.db.QueryRow(ctx, `
SELECT value FROM logs.diffs
WHERE schema_name = $1 AND table_name = $2 AND column_name = $3 AND record_id = $4
  AND id <> $5 AND created_at <= $6
ORDER BY created_at DESC, id DESC
LIMIT 1
`, row.Schema, row.Table, row.Column, row.RecordID, id, row.CreatedAt).Scan(&prior)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("fetch prior value: %w", err)
	}

	patch := ComputePatch(deref(prior), deref(row.Value))

	if _, err := m.db.Exec(ctx, `
UPDATE logs.diffs SET patch = $1, processed = true WHERE id = $2
`, patch, id); err != nil {
		return fmt.Errorf("write patch: %w", err)
	}

	m.logger.Debug("diff materialized",
		"schema", row.Schema,
		"table", row.Table,
		"column", row.Column,
		"record_id", row.RecordID,
	)
	return nil
}

// ComputePatch renders the textual patch from prev to next in unidiff-like
// patch text form.
func ComputePatch(prev, next string) string {
	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(prev, next)
	return dmp.PatchToText(patches)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
