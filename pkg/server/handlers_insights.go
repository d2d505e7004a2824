package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	report, err := s.insights.Generate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleInsightsSummary returns the counts and headline without the
// full insight list.
func (s *Server) handleInsightsSummary(w http.ResponseWriter, r *http.Request) {
	report, err := s.insights.Generate(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":            report.Summary,
		"counts_by_priority": report.CountsByPriority,
		"counts_by_type":     report.CountsByType,
		"generated_at":       report.GeneratedAt,
	})
}

func (s *Server) handleHighPriorityInsights(w http.ResponseWriter, r *http.Request) {
	list, err := s.insights.HighPriority(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"insights": list})
}

func (s *Server) handleInsightsByCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	list, err := s.insights.ByCategory(r.Context(), category)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category, "insights": list})
}
