package migrations

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hasura_meta_reconciler/internal/hasura"
	"hasura_meta_reconciler/internal/reconcile"
)

type fakeEngine struct {
	applied  [][]string
	inserts  []string
	reloads  int
	otherSQL []string
}

func newTestRunner(t *testing.T, engine *fakeEngine) *Runner {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
			Args struct {
				SQL string `json:"sql"`
			} `json:"args"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")

		if body.Type == "reload_metadata" {
			engine.reloads++
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "success"})
			return
		}

		sql := body.Args.SQL
		var rows [][]string
		switch {
		case strings.Contains(sql, "SELECT name FROM meta.applied_migrations"):
			rows = engine.applied
		case strings.Contains(sql, "INSERT INTO meta.applied_migrations"):
			engine.inserts = append(engine.inserts, sql)
		default:
			engine.otherSQL = append(engine.otherSQL, sql)
		}
		_ = json.NewEncoder(w).Encode(hasura.SQLResult{ResultType: "TuplesOk", Result: rows})
	}))
	t.Cleanup(srv.Close)

	client := hasura.NewClient(srv.URL, "secret")
	logger := slog.New(slog.NewTextHandler(runnerTestWriter{t}, nil))
	return NewRunner(reconcile.New(client, logger), logger)
}

type runnerTestWriter struct{ t *testing.T }

func (w runnerTestWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestRunnerApply(t *testing.T) {
	t.Run("runs pending migrations in order", func(t *testing.T) {
		engine := &fakeEngine{applied: [][]string{{"name"}}}
		runner := newTestRunner(t, engine)

		var ran []string
		list := []Migration{
			{Name: "0001_first", Up: func(ctx context.Context, r *reconcile.Reconciler) error {
				ran = append(ran, "0001_first")
				return nil
			}},
			{Name: "0002_second", Up: func(ctx context.Context, r *reconcile.Reconciler) error {
				ran = append(ran, "0002_second")
				return nil
			}},
		}

		count, err := runner.Apply(context.Background(), list)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.Equal(t, []string{"0001_first", "0002_second"}, ran)
		require.Len(t, engine.inserts, 2)
		assert.Contains(t, engine.inserts[0], "'0001_first'")
		assert.Equal(t, 1, engine.reloads)
	})

	t.Run("skips already-applied migrations", func(t *testing.T) {
		engine := &fakeEngine{applied: [][]string{{"name"}, {"0001_first"}}}
		runner := newTestRunner(t, engine)

		ran := false
		list := []Migration{
			{Name: "0001_first", Up: func(ctx context.Context, r *reconcile.Reconciler) error {
				ran = true
				return nil
			}},
		}

		count, err := runner.Apply(context.Background(), list)
		require.NoError(t, err)
		assert.Zero(t, count)
		assert.False(t, ran)
		assert.Zero(t, engine.reloads)
	})

	t.Run("failing migration halts the run", func(t *testing.T) {
		engine := &fakeEngine{applied: [][]string{{"name"}}}
		runner := newTestRunner(t, engine)

		secondRan := false
		list := []Migration{
			{Name: "0001_boom", Up: func(ctx context.Context, r *reconcile.Reconciler) error {
				return errors.New("syntax error")
			}},
			{Name: "0002_after", Up: func(ctx context.Context, r *reconcile.Reconciler) error {
				secondRan = true
				return nil
			}},
		}

		count, err := runner.Apply(context.Background(), list)
		require.Error(t, err)
		assert.Zero(t, count)
		assert.False(t, secondRan)
		assert.Empty(t, engine.inserts)
	})
}

func TestRegistry(t *testing.T) {
	names := []string{}
	for _, m := range All() {
		names = append(names, m.Name)
		require.NotNil(t, m.Up)
	}
	assert.Equal(t, []string{"0001_logs", "0002_users", "0003_user_notes"}, names)
}
