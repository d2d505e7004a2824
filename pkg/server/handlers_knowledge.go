package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/datapilot-io/datapilot/pkg/feedback"
	"github.com/datapilot-io/datapilot/pkg/templates"
)

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.knowledge.ToMap())
}

func (s *Server) handleKnowledgeScoring(w http.ResponseWriter, r *http.Request) {
	if category := r.URL.Query().Get("category"); category != "" {
		factors := s.knowledge.ScoringFactors(category)
		if len(factors) == 0 {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown scoring category: " + category})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"category": category, "factors": factors})
		return
	}
	writeJSON(w, http.StatusOK, s.knowledge.AllScoring())
}

// handleKnowledgePrompt returns the rendered domain card that gets
// injected into LLM prompts.
func (s *Server) handleKnowledgePrompt(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"prompt": s.knowledge.Card()})
}

type updateFactorRequest struct {
	Weight      *int    `json:"weight,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (s *Server) handleUpdateFactor(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	factor := chi.URLParam(r, "factor")
	actor := actorFrom(r.Context())

	var req updateFactorRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.knowledge.UpdateFactor(category, factor, req.Weight, req.Description); err != nil {
		s.auditLog.KnowledgeUpdate(r.Context(), actor, category+"/"+factor, false, err.Error())
		writeError(w, err)
		return
	}

	s.auditLog.KnowledgeUpdate(r.Context(), actor, category+"/"+factor, true, "")
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"factors":  s.knowledge.ScoringFactors(category),
	})
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.knowledge.Rules()})
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule templates.BusinessRule
	if !decodeBody(w, r, &rule) {
		return
	}
	actor := actorFrom(r.Context())

	if err := s.knowledge.AddRule(rule); err != nil {
		s.auditLog.KnowledgeUpdate(r.Context(), actor, "rules/"+rule.Name, false, err.Error())
		writeError(w, err)
		return
	}

	s.auditLog.KnowledgeUpdate(r.Context(), actor, "rules/"+rule.Name, true, "")
	writeJSON(w, http.StatusCreated, map[string]any{"rules": s.knowledge.Rules()})
}

func (s *Server) handleKnowledgeMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"metrics": s.knowledge.Metrics()})
}

func (s *Server) handleKnowledgeMetric(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	metric, err := s.knowledge.Metric(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "metric": metric})
}

type customRequest struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

func (s *Server) handleSetCustom(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())

	var req customRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "need key"})
		return
	}

	if err := s.knowledge.SetCustom(req.Key, req.Value); err != nil {
		s.auditLog.KnowledgeUpdate(r.Context(), actor, "custom/"+req.Key, false, err.Error())
		writeError(w, err)
		return
	}

	s.auditLog.KnowledgeUpdate(r.Context(), actor, "custom/"+req.Key, true, "")
	writeJSON(w, http.StatusOK, map[string]any{"key": req.Key, "value": req.Value})
}

func (s *Server) handleGetCustom(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := s.knowledge.Custom(key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

// handleRefinementAnalyze proposes weight adjustments from recent
// feedback without applying them.
func (s *Server) handleRefinementAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "feedback store not configured"})
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}

	analysis, err := s.analyzer.Analyze(r.Context(), days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type refinementApplyRequest struct {
	Proposals       []feedback.Proposal `json:"proposals"`
	ConfidenceFloor float64             `json:"confidence_floor,omitempty"`
}

// handleRefinementApply applies the proposals that clear the
// confidence floor.
func (s *Server) handleRefinementApply(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "feedback store not configured"})
		return
	}
	actor := actorFrom(r.Context())

	var req refinementApplyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Proposals) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "no proposals to apply"})
		return
	}
	floor := req.ConfidenceFloor
	if floor == 0 {
		floor = feedback.DefaultConfidenceFloor
	}

	applied := s.analyzer.Apply(r.Context(), req.Proposals, floor)
	s.auditLog.KnowledgeUpdate(r.Context(), actor, "refinement", true, "")
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}
