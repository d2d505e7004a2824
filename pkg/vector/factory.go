package vector

import "fmt"

// Config selects and configures a storage provider.
type Config struct {
	// Provider is "chromem" (default) or "qdrant".
	Provider string

	// PersistPath is the chromem persistence directory. Empty keeps the
	// index in memory.
	PersistPath string

	Qdrant QdrantConfig
}

// NewProvider builds the configured provider.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "", "chromem":
		return NewChromemProvider(cfg.PersistPath)
	case "qdrant":
		return NewQdrantProvider(cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector provider: %s (supported: chromem, qdrant)", cfg.Provider)
	}
}
