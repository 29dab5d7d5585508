package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hasura_meta_reconciler/internal/audit"
	"hasura_meta_reconciler/internal/config"
)

type stubMaterializer struct {
	rows []audit.DiffRow
	err  error
}

func (s *stubMaterializer) Process(ctx context.Context, row audit.DiffRow) error {
	s.rows = append(s.rows, row)
	return s.err
}

func testServer(t *testing.T, secret string, mat *stubMaterializer) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testLogWriter{t}, nil))
	cfg := config.Config{HTTPAddress: ":0", EventSecret: secret}
	srv := New(cfg, logger, nil, EventHandler{Materializer: mat, Logger: logger})
	return srv.Routes()
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

const insertEvent = `{
	"id": "evt-1",
	"table": {"schema": "logs", "name": "diffs"},
	"event": {
		"op": "INSERT",
		"data": {"new": {
			"id": "7b5d2f4e-0d40-4a9e-9a3b-24f6a1b8a111",
			"schema_name": "public",
			"table_name": "test_users",
			"column_name": "name",
			"record_id": "r-1",
			"user_id": "u-1",
			"value": "Test User",
			"created_at": "2024-05-01T10:00:00Z"
		}}
	}
}`

func TestEventEndpoint(t *testing.T) {
	t.Run("insert is materialized", func(t *testing.T) {
		mat := &stubMaterializer{}
		handler := testServer(t, "hook-secret", mat)

		req := httptest.NewRequest(http.MethodPost, "/events/diffs", strings.NewReader(insertEvent))
		req.Header.Set(EventSecretHeader, "hook-secret")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, mat.rows, 1)
		assert.Equal(t, "test_users", mat.rows[0].Table)
		assert.Equal(t, "Test User", *mat.rows[0].Value)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		mat := &stubMaterializer{}
		handler := testServer(t, "hook-secret", mat)

		req := httptest.NewRequest(http.MethodPost, "/events/diffs", strings.NewReader(insertEvent))
		req.Header.Set(EventSecretHeader, "guess")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, mat.rows)
	})

	t.Run("non-insert ops are skipped", func(t *testing.T) {
		mat := &stubMaterializer{}
		handler := testServer(t, "", mat)

		payload := strings.Replace(insertEvent, `"op": "INSERT"`, `"op": "UPDATE"`, 1)
		req := httptest.NewRequest(http.MethodPost, "/events/diffs", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, mat.rows)
	})

	t.Run("materializer failure returns 500 for redelivery", func(t *testing.T) {
		mat := &stubMaterializer{err: errors.New("update failed")}
		handler := testServer(t, "", mat)

		req := httptest.NewRequest(http.MethodPost, "/events/diffs", strings.NewReader(insertEvent))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("garbage payload is a bad request", func(t *testing.T) {
		mat := &stubMaterializer{}
		handler := testServer(t, "", mat)

		req := httptest.NewRequest(http.MethodPost, "/events/diffs", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
