// Package vector provides the embedded vector index: one collection per
// table, cosine space, with pluggable storage providers.
package vector

import "context"

// Result is one stored or retrieved entry.
type Result struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Vector     []float32         `json:"-"`
	Similarity float32           `json:"similarity"`
}

// Provider is the storage backend contract. Vectors are pre-computed by
// the engine's embedder; providers never embed.
type Provider interface {
	// Upsert stores or replaces one entry. The collection is created on
	// first write.
	Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]string) error

	// Search returns the topK nearest entries by cosine similarity.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// Get fetches one entry with its stored vector.
	Get(ctx context.Context, collection, id string) (*Result, error)

	// ListCollections names every collection.
	ListCollections(ctx context.Context) ([]string, error)

	// Count returns the number of entries in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteCollection removes a collection and its entries.
	DeleteCollection(ctx context.Context, collection string) error

	// Name identifies the provider.
	Name() string

	Close() error
}
