package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/datapilot-io/datapilot/pkg/audit"
	"github.com/datapilot-io/datapilot/pkg/config"
	"github.com/datapilot-io/datapilot/pkg/embedders"
	"github.com/datapilot-io/datapilot/pkg/feedback"
	"github.com/datapilot-io/datapilot/pkg/knowledge"
	"github.com/datapilot-io/datapilot/pkg/llms"
	"github.com/datapilot-io/datapilot/pkg/ratelimit"
	"github.com/datapilot-io/datapilot/pkg/server"
	"github.com/datapilot-io/datapilot/pkg/store"
	"github.com/datapilot-io/datapilot/pkg/templates"
	"github.com/datapilot-io/datapilot/pkg/vector"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides INTELLIGENCE_URL)."`
}

func (c *ServeCmd) Run(rc *runContext) error {
	cfg := rc.cfg
	addr := cfg.ListenAddr
	if c.Addr != "" {
		addr = c.Addr
	}

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.New(*deps)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting datapilot",
		"addr", addr,
		"template", cfg.Template,
		"vector_provider", cfg.VectorProvider,
		"audit", cfg.Audit.Enabled)

	if err := srv.Start(ctx, addr); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// buildDeps opens every store and engine the server needs. The returned
// cleanup closes them in reverse order.
func buildDeps(cfg *config.Config) (*server.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*server.Deps, func(), error) {
		cleanup()
		return nil, nil, err
	}

	st, err := store.New(filepath.Join(cfg.StorageRoot, "databases", "main.db"))
	if err != nil {
		return fail(fmt.Errorf("failed to open relational store: %w", err))
	}
	closers = append(closers, func() { st.Close() })

	tmpl, err := templates.Load(cfg.Template)
	if err != nil {
		return fail(fmt.Errorf("failed to load template %q: %w", cfg.Template, err))
	}

	ks, err := knowledge.NewStore(tmpl, filepath.Join(cfg.StorageRoot, "knowledge", "knowledge.json"))
	if err != nil {
		return fail(fmt.Errorf("failed to open knowledge store: %w", err))
	}

	provider, err := vector.NewProvider(vector.Config{
		Provider:    cfg.VectorProvider,
		PersistPath: filepath.Join(cfg.StorageRoot, "vectors"),
		Qdrant: vector.QdrantConfig{
			Host: cfg.QdrantHost,
			Port: cfg.QdrantPort,
		},
	})
	if err != nil {
		return fail(fmt.Errorf("failed to open vector store: %w", err))
	}
	closers = append(closers, func() { provider.Close() })

	embedder, err := embedders.New(embedders.Config{
		Provider: cfg.EmbedderProvider,
		BaseURL:  cfg.EmbedderURL,
		Model:    cfg.EmbedderModel,
		APIKey:   cfg.EmbedderAPIKey,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to build embedder: %w", err))
	}

	fb, err := feedback.NewStore(filepath.Join(cfg.StorageRoot, "feedback", "feedback.db"))
	if err != nil {
		return fail(fmt.Errorf("failed to open feedback store: %w", err))
	}
	closers = append(closers, func() { fb.Close() })

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.NewStore(filepath.Join(cfg.StorageRoot, "audit", "audit.db"), []byte(cfg.Audit.SecretKey))
		if err != nil {
			return fail(fmt.Errorf("failed to open audit store: %w", err))
		}
		closers = append(closers, func() { auditStore.Close() })
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.New(cfg.RateLimitPerMinute)
	}

	return &server.Deps{
		Store:      st,
		Engine:     vector.NewEngine(provider, embedder),
		Knowledge:  ks,
		LLM:        llms.New(cfg.BrainURL, cfg.BrainModel, cfg.BrainAPIKey),
		Feedback:   fb,
		AuditStore: auditStore,
		AuditDebug: cfg.Audit.Debug,
		Limiter:    limiter,
	}, cleanup, nil
}
