package vector

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ErrCollectionNotFound indicates a read against an absent collection.
var ErrCollectionNotFound = errors.New("collection not found")

// ErrEntryNotFound indicates an absent entry id.
var ErrEntryNotFound = errors.New("entry not found")

// ChromemProvider stores vectors in-process with chromem-go. With a
// persist path the database writes each document to disk as it changes,
// so collections survive restarts. This is the default provider: no
// external services, cosine similarity, single process.
type ChromemProvider struct {
	db *chromem.DB
	mu sync.RWMutex

	// collections caches collection references
	collections map[string]*chromem.Collection

	// embeddingFunc is an identity guard: vectors arrive pre-computed
	embeddingFunc chromem.EmbeddingFunc
}

// NewChromemProvider opens (or creates) the store under persistPath.
// An empty path keeps everything in memory.
func NewChromemProvider(persistPath string) (*ChromemProvider, error) {
	var db *chromem.DB

	if persistPath != "" {
		loaded, err := chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database at %s: %w", persistPath, err)
		}
		db = loaded
	} else {
		db = chromem.NewDB()
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	return &ChromemProvider{
		db:            db,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

// getCollection returns an existing collection, or creates it when
// create is set.
func (p *ChromemProvider) getCollection(name string, create bool) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col := p.db.GetCollection(name, p.embeddingFunc)
	if col == nil {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
		}
		var err error
		col, err = p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
		if err != nil {
			return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
		}
	}

	p.collections[name] = col
	return col, nil
}

func (p *ChromemProvider) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]string) error {
	col, err := p.getCollection(collection, true)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   content,
		Metadata:  metadata,
		Embedding: vector,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (p *ChromemProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	col, err := p.getCollection(collection, false)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return []Result{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			ID:         r.ID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Vector:     r.Embedding,
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

func (p *ChromemProvider) Get(ctx context.Context, collection, id string) (*Result, error) {
	col, err := p.getCollection(collection, false)
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return &Result{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: doc.Metadata,
		Vector:   doc.Embedding,
	}, nil
}

func (p *ChromemProvider) ListCollections(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cols := p.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	return names, nil
}

func (p *ChromemProvider) Count(ctx context.Context, collection string) (int, error) {
	col, err := p.getCollection(collection, false)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (p *ChromemProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(p.collections, collection)
	return nil
}

func (p *ChromemProvider) Name() string {
	return "chromem"
}

// Close is a no-op; persistent databases write through on every change.
func (p *ChromemProvider) Close() error {
	return nil
}

var _ Provider = (*ChromemProvider)(nil)
