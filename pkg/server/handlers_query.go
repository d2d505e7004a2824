package server

import (
	"net/http"

	"github.com/datapilot-io/datapilot/pkg/scoring"
	"github.com/datapilot-io/datapilot/pkg/security"
	"github.com/datapilot-io/datapilot/pkg/vector"
)

type askRequest struct {
	Question string `json:"question"`
}

// handleAsk routes a natural-language question through the
// orchestrator.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor := actorFrom(r.Context())

	answer, err := s.orch.Ask(r.Context(), req.Question)
	if err != nil {
		s.auditLog.Query(r.Context(), actor, "ask", req.Question, false, err.Error())
		writeError(w, err)
		return
	}

	questionsTotal.WithLabelValues(answer.QueryType).Inc()
	s.auditLog.Query(r.Context(), actor, "ask", req.Question, true, "")
	writeJSON(w, http.StatusOK, answer)
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

// handleSQL runs a caller-written SELECT after validation.
func (s *Server) handleSQL(w http.ResponseWriter, r *http.Request) {
	var req sqlRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor := actorFrom(r.Context())

	if err := security.ValidateQuery(req.SQL); err != nil {
		s.auditLog.Security(r.Context(), actor, "rejected SQL: "+err.Error())
		writeError(w, err)
		return
	}

	result, err := s.store.Query(r.Context(), req.SQL)
	if err != nil {
		s.auditLog.Query(r.Context(), actor, "sql", req.SQL, false, err.Error())
		writeError(w, err)
		return
	}

	s.auditLog.Query(r.Context(), actor, "sql", req.SQL, true, "")
	writeJSON(w, http.StatusOK, result)
}

type similarRequest struct {
	TableName string `json:"table_name"`
	Query     string `json:"query,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// handleSimilar searches by free text or by an indexed entry id.
func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "vector index not configured"})
		return
	}
	if req.TableName == "" || (req.Query == "" && req.RecordID == "") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "need table_name and either query or record_id"})
		return
	}

	var err error
	var results any
	if req.RecordID != "" {
		results, err = s.engine.SearchByExample(r.Context(), req.TableName, req.RecordID, req.Limit)
	} else {
		results, err = s.engine.SearchText(r.Context(), req.TableName, req.Query, req.Limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	s.auditLog.Query(r.Context(), actorFrom(r.Context()), "similar", req.TableName, true, "")
	writeJSON(w, http.StatusOK, map[string]any{"table": req.TableName, "results": results})
}

type scoreRequest struct {
	TableName string `json:"table_name"`
	Category  string `json:"category"`
	Limit     int    `json:"limit,omitempty"`
}

// handleScore scores a table against a knowledge category and returns
// the ranked records with the distribution and per-factor performance.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TableName == "" || req.Category == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "need table_name and category"})
		return
	}

	records, err := s.store.FetchRecords(r.Context(), req.TableName)
	if err != nil {
		writeError(w, err)
		return
	}

	factors := s.scorer.Compile(req.Category)
	if len(factors) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown scoring category: " + req.Category})
		return
	}

	scores := s.scorer.ScoreTable(req.Category, records, true, req.Limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"table":        req.TableName,
		"category":     req.Category,
		"scores":       scores,
		"distribution": scoring.Distribute(s.scorer.ScoreTable(req.Category, records, false, 0)),
		"factors":      scoring.FactorPerformances(factors, records),
	})
}

type patternsRequest struct {
	TableName  string   `json:"table_name"`
	RecordIDs  []string `json:"record_ids,omitempty"`
	Query      string   `json:"query,omitempty"`
	SampleSize int      `json:"sample_size,omitempty"`
}

// handlePatterns mines shared traits, either of explicitly named
// records or of the records most similar to a query.
func (s *Server) handlePatterns(w http.ResponseWriter, r *http.Request) {
	var req patternsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "vector index not configured"})
		return
	}
	if req.TableName == "" || (len(req.RecordIDs) == 0 && req.Query == "") {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "need table_name and either record_ids or query"})
		return
	}

	var report *vector.PatternReport
	var err error
	if len(req.RecordIDs) > 0 {
		report, err = s.engine.PatternsByExample(r.Context(), req.TableName, req.RecordIDs)
	} else {
		report, err = s.engine.Patterns(r.Context(), req.TableName, req.Query, req.SampleSize)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
