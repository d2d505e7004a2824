// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultRetentionDays = 2555
	DefaultTemplate      = "dealership"
	DefaultStorageRoot   = "storage"
)

// Config carries every tunable the service reads at startup.
type Config struct {
	// ListenAddr is derived from INTELLIGENCE_URL (host:port part) or set
	// directly via the CLI.
	ListenAddr string

	// BrainURL is the base URL of the OpenAI-compatible chat-completions
	// endpoint.
	BrainURL string

	// BrainModel is the model name sent on chat-completion requests.
	BrainModel string

	// BrainAPIKey is optional; sent as a bearer token when non-empty.
	BrainAPIKey string

	// Template names the vertical template seeding the knowledge store.
	Template string

	// StorageRoot is the directory holding all persisted state.
	StorageRoot string

	// VectorProvider selects the vector backend: "chromem" (embedded,
	// default) or "qdrant".
	VectorProvider string

	// QdrantHost and QdrantPort locate the qdrant server when
	// VectorProvider is "qdrant".
	QdrantHost string
	QdrantPort int

	// EmbedderProvider selects the embedding backend: "ollama" (default)
	// or "openai".
	EmbedderProvider string
	EmbedderURL      string
	EmbedderModel    string
	EmbedderAPIKey   string

	Audit AuditConfig

	// RateLimitPerMinute caps requests per caller per minute. Zero
	// disables limiting.
	RateLimitPerMinute int

	LogLevel  string
	LogFormat string
}

// AuditConfig controls the audit subsystem.
type AuditConfig struct {
	Enabled       bool
	RetentionDays int
	Debug         bool
	SecretKey     string
}

// Load reads configuration from the environment, consulting a .env file
// when present. Missing variables fall back to defaults; an absent
// AUDIT_SECRET_KEY with auditing enabled is an error.
func Load() (*Config, error) {
	// .env is optional; ignore load errors
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       listenAddrFromURL(getEnv("INTELLIGENCE_URL", "http://0.0.0.0:8001")),
		BrainURL:         getEnv("BRAIN_URL", "http://localhost:8000"),
		BrainModel:       getEnv("BRAIN_MODEL", "default"),
		BrainAPIKey:      os.Getenv("BRAIN_API_KEY"),
		Template:         getEnv("INTELLIGENCE_TEMPLATE", DefaultTemplate),
		StorageRoot:      getEnv("STORAGE_ROOT", DefaultStorageRoot),
		VectorProvider:   getEnv("VECTOR_PROVIDER", "chromem"),
		QdrantHost:       getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:       getEnvInt("QDRANT_PORT", 6334),
		EmbedderProvider: getEnv("EMBEDDER_PROVIDER", "ollama"),
		EmbedderURL:      getEnv("EMBEDDER_URL", "http://localhost:11434"),
		EmbedderModel:    getEnv("EMBEDDER_MODEL", "nomic-embed-text"),
		EmbedderAPIKey:   os.Getenv("EMBEDDER_API_KEY"),
		Audit: AuditConfig{
			Enabled:       getEnvBool("AUDIT_ENABLED", true),
			RetentionDays: getEnvInt("AUDIT_RETENTION_DAYS", DefaultRetentionDays),
			Debug:         getEnvBool("AUDIT_DEBUG", false),
			SecretKey:     os.Getenv("AUDIT_SECRET_KEY"),
		},
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "simple"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Audit.Enabled && c.Audit.SecretKey == "" {
		return fmt.Errorf("AUDIT_SECRET_KEY is required when AUDIT_ENABLED is true")
	}
	if c.Audit.RetentionDays < 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be non-negative, got %d", c.Audit.RetentionDays)
	}
	switch c.VectorProvider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown vector provider: %s", c.VectorProvider)
	}
	switch c.EmbedderProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown embedder provider: %s", c.EmbedderProvider)
	}
	return nil
}

// listenAddrFromURL extracts host:port from a base URL, defaulting the
// port to 8001.
func listenAddrFromURL(raw string) string {
	addr := raw
	if idx := strings.Index(addr, "://"); idx >= 0 {
		addr = addr[idx+3:]
	}
	if idx := strings.IndexByte(addr, '/'); idx >= 0 {
		addr = addr[:idx]
	}
	if addr == "" {
		return "0.0.0.0:8001"
	}
	if !strings.Contains(addr, ":") {
		addr += ":8001"
	}
	return addr
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
