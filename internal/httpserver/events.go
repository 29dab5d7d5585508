package httpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"hasura_meta_reconciler/internal/audit"
)

type materializer interface {
	Process(ctx context.Context, row audit.DiffRow) error
}

// eventPayload is the engine's event-trigger delivery envelope, reduced to
// the fields the materializer consumes.
type eventPayload struct {
	ID    string `json:"id"`
	Table struct {
		Schema string `json:"schema"`
		Name   string `json:"name"`
	} `json:"table"`
	Event struct {
		Op   string `json:"op"`
		Data struct {
			New audit.DiffRow `json:"new"`
		} `json:"data"`
	} `json:"event"`
}

// EventHandler materializes one diffs row per delivery. A failed event
// returns 500 so the engine retries it; other events are unaffected.
type EventHandler struct {
	Materializer materializer
	Logger       interface {
		Error(msg string, args ...any)
	}
}

func (h EventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload eventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_payload", "invalid event payload")
		return
	}
	if payload.Event.Op != "INSERT" {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true, "op": payload.Event.Op})
		return
	}

	if err := h.Materializer.Process(r.Context(), payload.Event.Data.New); err != nil {
		h.Logger.Error("materialize failed",
			"event_id", payload.ID,
			"row_id", payload.Event.Data.New.ID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "materialize_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": true})
}
