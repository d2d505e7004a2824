// Package embedders provides text-embedding providers used by the
// vector engine.
package embedders

import (
	"context"
	"fmt"
)

// Embedder converts text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider string // "ollama" or "openai"
	BaseURL  string
	Model    string
	APIKey   string
}

// New builds the configured embedder.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.Model, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
}
