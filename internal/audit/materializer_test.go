package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	value *string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(**string)) = r.value
	return nil
}

type fakeDB struct {
	row       fakeRow
	queryArgs []any
	execSQL   string
	execArgs  []any
	execErr   error
}

func (db *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	db.queryArgs = args
	return db.row
}

func (db *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.execSQL = sql
	db.execArgs = args
	return pgconn.CommandTag{}, db.execErr
}

func str(s string) *string { return &s }

func diffRow(value string) DiffRow {
	return DiffRow{
		ID:        uuid.NewString(),
		Schema:    "public",
		Table:     "test_users",
		Column:    "name",
		RecordID:  "abc-123",
		UserID:    "u-1",
		Value:     str(value),
		CreatedAt: time.Now().UTC(),
	}
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(genTestWriter{t}, nil))
}

func TestMaterializerProcess(t *testing.T) {
	t.Run("prior value produces a non-empty patch", func(t *testing.T) {
		db := &fakeDB{row: fakeRow{value: str("Test User")}}
		m := NewMaterializer(db, testLogger(t))

		row := diffRow("Updated User")
		require.NoError(t, m.Process(context.Background(), row))

		require.Len(t, db.execArgs, 2)
		patch := db.execArgs[0].(string)
		assert.NotEmpty(t, patch)
		assert.Contains(t, db.execSQL, "processed = true")

		// the patch must reproduce the old-to-new transition
		dmp := diffmatchpatch.New()
		patches, err := dmp.PatchFromText(patch)
		require.NoError(t, err)
		applied, _ := dmp.PatchApply(patches, "Test User")
		assert.Equal(t, "Updated User", applied)
	})

	t.Run("no prior value diffs against empty string", func(t *testing.T) {
		db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
		m := NewMaterializer(db, testLogger(t))

		require.NoError(t, m.Process(context.Background(), diffRow("Test User")))

		dmp := diffmatchpatch.New()
		patches, err := dmp.PatchFromText(db.execArgs[0].(string))
		require.NoError(t, err)
		applied, _ := dmp.PatchApply(patches, "")
		assert.Equal(t, "Test User", applied)
	})

	t.Run("prior lookup scopes to the record", func(t *testing.T) {
		db := &fakeDB{row: fakeRow{value: str("x")}}
		m := NewMaterializer(db, testLogger(t))

		row := diffRow("y")
		require.NoError(t, m.Process(context.Background(), row))

		require.Len(t, db.queryArgs, 6)
		assert.Equal(t, "public", db.queryArgs[0])
		assert.Equal(t, "test_users", db.queryArgs[1])
		assert.Equal(t, "name", db.queryArgs[2])
		assert.Equal(t, "abc-123", db.queryArgs[3])
	})

	t.Run("bad row id fails without touching the database", func(t *testing.T) {
		db := &fakeDB{}
		m := NewMaterializer(db, testLogger(t))
		row := diffRow("v")
		row.ID = "not-a-uuid"
		assert.Error(t, m.Process(context.Background(), row))
		assert.Empty(t, db.execSQL)
	})

	t.Run("update failure leaves the row unprocessed", func(t *testing.T) {
		db := &fakeDB{row: fakeRow{value: str("a")}, execErr: errors.New("connection reset")}
		m := NewMaterializer(db, testLogger(t))
		assert.Error(t, m.Process(context.Background(), diffRow("b")))
	})
}

func TestComputePatch(t *testing.T) {
	assert.Empty(t, ComputePatch("same", "same"))
	assert.NotEmpty(t, ComputePatch("", "Test User"))
	assert.NotEmpty(t, ComputePatch("Test User", "Updated User"))
}
