package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/datapilot-io/datapilot/pkg/feedback"
)

func (s *Server) requireFeedback(w http.ResponseWriter) bool {
	if s.feedback == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "feedback store not configured"})
		return false
	}
	return true
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if !s.requireFeedback(w) {
		return
	}
	actor := actorFrom(r.Context())

	var entry feedback.Entry
	if !decodeBody(w, r, &entry) {
		return
	}
	if entry.User == "" {
		entry.User = actor.User
	}

	id, err := s.feedback.Submit(r.Context(), entry)
	if err != nil {
		writeError(w, err)
		return
	}

	s.auditLog.Feedback(r.Context(), actor, "submit", id)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type outcomeRequest struct {
	FeedbackID string `json:"feedback_id"`
	Outcome    string `json:"outcome"`
}

func (s *Server) handleFeedbackOutcome(w http.ResponseWriter, r *http.Request) {
	if !s.requireFeedback(w) {
		return
	}

	var req outcomeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.FeedbackID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "need feedback_id"})
		return
	}

	if err := s.feedback.RecordOutcome(r.Context(), req.FeedbackID, req.Outcome); err != nil {
		writeError(w, err)
		return
	}

	s.auditLog.Feedback(r.Context(), actorFrom(r.Context()), "outcome", req.FeedbackID)
	writeJSON(w, http.StatusOK, map[string]string{"id": req.FeedbackID, "outcome": req.Outcome})
}

// handleFeedbackRefinement reports the raw per-category signal the
// refinement analyzer works from.
func (s *Server) handleFeedbackRefinement(w http.ResponseWriter, r *http.Request) {
	if !s.requireFeedback(w) {
		return
	}
	data, err := s.feedback.Refinement(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	if !s.requireFeedback(w) {
		return
	}
	summary, err := s.feedback.Summarize(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleFeedbackPatterns(w http.ResponseWriter, r *http.Request) {
	if !s.requireFeedback(w) {
		return
	}
	patterns, err := s.feedback.NegativePatterns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": patterns})
}

func (s *Server) handleFeedbackHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireFeedback(w) {
		return
	}

	filter := feedback.Filter{Type: r.URL.Query().Get("type")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "since must be RFC3339"})
			return
		}
		filter.Since = since
	}

	entries, err := s.feedback.History(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// handleFeedbackExport streams the full feedback log as JSON for
// offline analysis.
func (s *Server) handleFeedbackExport(w http.ResponseWriter, r *http.Request) {
	if !s.requireFeedback(w) {
		return
	}
	data, err := s.feedback.ExportJSON(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
