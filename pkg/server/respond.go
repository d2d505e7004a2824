package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/datapilot-io/datapilot/pkg/feedback"
	"github.com/datapilot-io/datapilot/pkg/knowledge"
	"github.com/datapilot-io/datapilot/pkg/security"
	"github.com/datapilot-io/datapilot/pkg/store"
	"github.com/datapilot-io/datapilot/pkg/vector"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto status codes: validation problems
// are the caller's fault, missing resources are 404, everything else
// is a 500 with the detail kept out of the response body.
func writeError(w http.ResponseWriter, err error) {
	var verr *security.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrUnsafeQuery):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, knowledge.ErrNotFound),
		errors.Is(err, feedback.ErrNotFound),
		errors.Is(err, vector.ErrCollectionNotFound),
		errors.Is(err, vector.ErrEntryNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// decodeBody parses a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
