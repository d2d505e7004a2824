// Package server exposes the HTTP API: data ingestion, question
// answering, knowledge management, insights, feedback, and the
// operational endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datapilot-io/datapilot/pkg/audit"
	"github.com/datapilot-io/datapilot/pkg/feedback"
	"github.com/datapilot-io/datapilot/pkg/ingest"
	"github.com/datapilot-io/datapilot/pkg/insights"
	"github.com/datapilot-io/datapilot/pkg/knowledge"
	"github.com/datapilot-io/datapilot/pkg/llms"
	"github.com/datapilot-io/datapilot/pkg/orchestrator"
	"github.com/datapilot-io/datapilot/pkg/ratelimit"
	"github.com/datapilot-io/datapilot/pkg/scoring"
	"github.com/datapilot-io/datapilot/pkg/store"
	"github.com/datapilot-io/datapilot/pkg/vector"
)

// Deps bundles everything the server serves. Engine, LLM, audit and
// feedback may be nil; the matching endpoints then degrade or 404.
type Deps struct {
	Store      *store.Store
	Engine     *vector.Engine
	Knowledge  *knowledge.Store
	LLM        *llms.Client
	Feedback   *feedback.Store
	AuditStore *audit.Store
	AuditDebug bool

	// Limiter throttles callers when non-nil.
	Limiter *ratelimit.Limiter
}

// Server is the HTTP front of the service.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	limiter    *ratelimit.Limiter

	store      *store.Store
	engine     *vector.Engine
	knowledge  *knowledge.Store
	ingestor   *ingest.Ingestor
	orch       *orchestrator.Orchestrator
	scorer     *scoring.Engine
	insights   *insights.Generator
	feedback   *feedback.Store
	analyzer   *feedback.Analyzer
	auditStore *audit.Store
	auditLog   *audit.Logger
	auditDebug bool
}

// New wires the handlers and middleware.
func New(deps Deps) *Server {
	s := &Server{
		store:      deps.Store,
		engine:     deps.Engine,
		knowledge:  deps.Knowledge,
		feedback:   deps.Feedback,
		auditStore: deps.AuditStore,
		auditDebug: deps.AuditDebug,
		limiter:    deps.Limiter,
	}

	tmpl := deps.Knowledge.Template()
	s.ingestor = ingest.New(deps.Store, deps.Engine, tmpl)
	s.orch = orchestrator.New(deps.Store, deps.Engine, deps.Knowledge, deps.LLM)
	s.scorer = scoring.NewEngine(deps.Knowledge)
	s.insights = insights.NewGenerator(deps.Store)
	if deps.Feedback != nil {
		s.analyzer = feedback.NewAnalyzer(deps.Feedback, deps.Knowledge)
	}
	if deps.AuditStore != nil {
		s.auditLog = audit.NewLogger(deps.AuditStore)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.auditMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The API lives at the root; /api/v1 is an alias for callers that
	// prefer versioned paths.
	r.Group(s.apiRoutes)
	r.Route("/api/v1", s.apiRoutes)

	s.router = r
	return s
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Route("/data", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/tables", s.handleListTables)
		r.Get("/tables/{table}/schema", s.handleTableSchema)
		r.Get("/tables/{table}/preview", s.handleTablePreview)
		r.Delete("/tables/{table}", s.handleDeleteTable)
	})

	r.Route("/query", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Post("/sql", s.handleSQL)
		r.Post("/similar", s.handleSimilar)
		r.Post("/score", s.handleScore)
		r.Post("/patterns", s.handlePatterns)
	})

	r.Route("/knowledge", func(r chi.Router) {
		r.Get("/", s.handleKnowledge)
		r.Get("/prompt", s.handleKnowledgePrompt)
		r.Get("/scoring", s.handleKnowledgeScoring)
		r.Get("/scoring/all", s.handleKnowledgeScoring)
		r.Put("/scoring/{category}/{factor}", s.handleUpdateFactor)
		r.Get("/rules", s.handleRules)
		r.Post("/rules", s.handleAddRule)
		r.Get("/metrics", s.handleKnowledgeMetrics)
		r.Get("/metrics/{name}", s.handleKnowledgeMetric)
		r.Post("/custom", s.handleSetCustom)
		r.Get("/custom/{key}", s.handleGetCustom)
		r.Get("/refinement/analyze", s.handleRefinementAnalyze)
		r.Post("/refinement/apply", s.handleRefinementApply)
	})

	r.Route("/insights", func(r chi.Router) {
		r.Get("/generate", s.handleInsights)
		r.Get("/summary", s.handleInsightsSummary)
		r.Get("/high-priority", s.handleHighPriorityInsights)
		r.Get("/category/{category}", s.handleInsightsByCategory)
	})

	r.Route("/feedback", func(r chi.Router) {
		r.Post("/submit", s.handleSubmitFeedback)
		r.Post("/outcome", s.handleFeedbackOutcome)
		r.Get("/summary", s.handleFeedbackSummary)
		r.Get("/patterns", s.handleFeedbackPatterns)
		r.Get("/refinement", s.handleFeedbackRefinement)
		r.Get("/history", s.handleFeedbackHistory)
		r.Get("/export", s.handleFeedbackExport)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then drains with a grace
// period.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
