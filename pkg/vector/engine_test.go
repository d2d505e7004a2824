package vector

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider keeps entries in memory and ranks search results by dot
// product, which is enough to exercise the engine logic.
type fakeProvider struct {
	collections map[string]map[string]Result
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{collections: make(map[string]map[string]Result)}
}

func (p *fakeProvider) Upsert(ctx context.Context, collection, id string, vector []float32, content string, metadata map[string]string) error {
	if p.collections[collection] == nil {
		p.collections[collection] = make(map[string]Result)
	}
	p.collections[collection][id] = Result{ID: id, Content: content, Metadata: metadata, Vector: vector}
	return nil
}

func (p *fakeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	entries, ok := p.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		var dot float32
		for i := range e.Vector {
			if i < len(vector) {
				dot += e.Vector[i] * vector[i]
			}
		}
		e.Similarity = dot
		results = append(results, e)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (p *fakeProvider) Get(ctx context.Context, collection, id string) (*Result, error) {
	entries, ok := p.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	e, ok := entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return &e, nil
}

func (p *fakeProvider) ListCollections(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(p.collections))
	for name := range p.collections {
		names = append(names, name)
	}
	return names, nil
}

func (p *fakeProvider) Count(ctx context.Context, collection string) (int, error) {
	entries, ok := p.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return len(entries), nil
}

func (p *fakeProvider) DeleteCollection(ctx context.Context, collection string) error {
	delete(p.collections, collection)
	return nil
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Close() error { return nil }

// fakeEmbedder maps known texts to fixed vectors so similarity ordering
// is deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (e *fakeEmbedder) Model() string { return "fake-model" }

func TestRenderRecord(t *testing.T) {
	text := RenderRecord(map[string]any{
		"make":  "Honda",
		"price": 28500,
		"vin":   "1HGCM82633A004352",
		"trade": nil,
	})
	assert.Equal(t, "make: Honda. price: 28500. vin: 1HGCM82633A004352.", text)
}

func TestUpsertRecordsStableIDs(t *testing.T) {
	provider := newFakeProvider()
	engine := NewEngine(provider, &fakeEmbedder{})

	records := []map[string]any{
		{"vin": "VIN-1", "make": "Honda"},
		{"vin": "VIN-2", "make": "Toyota"},
	}

	result, err := engine.UpsertRecords(context.Background(), "cars", records, "vin")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Embedded)
	assert.Equal(t, 0, result.Failed)

	// Re-indexing the same rows replaces entries instead of duplicating.
	_, err = engine.UpsertRecords(context.Background(), "cars", records, "vin")
	require.NoError(t, err)

	count, err := provider.Count(context.Background(), "cars")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertRecordsEmptyRecord(t *testing.T) {
	engine := NewEngine(newFakeProvider(), &fakeEmbedder{})

	result, err := engine.UpsertRecords(context.Background(), "cars",
		[]map[string]any{{"vin": nil}}, "vin")
	require.NoError(t, err)
	assert.Equal(t, 0, result.Embedded)
	assert.Equal(t, 1, result.Failed)
}

func TestSearchText(t *testing.T) {
	provider := newFakeProvider()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"make: Honda. vin: VIN-1.":  {1, 0, 0},
		"make: Toyota. vin: VIN-2.": {0, 1, 0},
		"japanese sedan":            {0.9, 0.1, 0},
	}}
	engine := NewEngine(provider, embedder)

	_, err := engine.UpsertRecords(context.Background(), "cars", []map[string]any{
		{"vin": "VIN-1", "make": "Honda"},
		{"vin": "VIN-2", "make": "Toyota"},
	}, "vin")
	require.NoError(t, err)

	results, err := engine.SearchText(context.Background(), "cars", "japanese sedan", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Honda", results[0].Metadata["make"])
}

func TestSearchTextMissingCollection(t *testing.T) {
	engine := NewEngine(newFakeProvider(), &fakeEmbedder{})

	_, err := engine.SearchText(context.Background(), "nope", "anything", 5)
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestSearchByExampleExcludesSeed(t *testing.T) {
	provider := newFakeProvider()
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"make: Honda. vin: VIN-1.":  {1, 0, 0},
		"make: Honda. vin: VIN-2.":  {0.95, 0.05, 0},
		"make: Toyota. vin: VIN-3.": {0, 1, 0},
	}}
	engine := NewEngine(provider, embedder)

	_, err := engine.UpsertRecords(context.Background(), "cars", []map[string]any{
		{"vin": "VIN-1", "make": "Honda"},
		{"vin": "VIN-2", "make": "Honda"},
		{"vin": "VIN-3", "make": "Toyota"},
	}, "vin")
	require.NoError(t, err)

	seedID := entryID("cars", map[string]any{"vin": "VIN-1"}, "vin")
	results, err := engine.SearchByExample(context.Background(), "cars", seedID, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, seedID, r.ID)
	}
	assert.Equal(t, "VIN-2", results[0].Metadata["vin"])
}

func TestPatterns(t *testing.T) {
	provider := newFakeProvider()
	embedder := &fakeEmbedder{}
	engine := NewEngine(provider, embedder)

	_, err := engine.UpsertRecords(context.Background(), "cars", []map[string]any{
		{"vin": "VIN-1", "make": "Honda", "price": 20000},
		{"vin": "VIN-2", "make": "Honda", "price": 30000},
		{"vin": "VIN-3", "make": "Toyota", "price": 25000},
	}, "vin")
	require.NoError(t, err)

	report, err := engine.Patterns(context.Background(), "cars", "well priced cars", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, report.SampleCount)
	assert.Equal(t, 2, report.FrequentValues["make"]["Honda"])
	assert.Equal(t, 1, report.FrequentValues["make"]["Toyota"])

	rng := report.NumericRanges["price"]
	assert.Equal(t, 20000.0, rng.Min)
	assert.Equal(t, 30000.0, rng.Max)
	assert.Equal(t, 25000.0, rng.Avg)
}

func TestPatternsByExample(t *testing.T) {
	provider := newFakeProvider()
	engine := NewEngine(provider, &fakeEmbedder{})

	_, err := engine.UpsertRecords(context.Background(), "cars", []map[string]any{
		{"vin": "VIN-1", "make": "Honda", "price": 20000},
		{"vin": "VIN-2", "make": "Honda", "price": 30000},
		{"vin": "VIN-3", "make": "Toyota", "price": 25000},
	}, "vin")
	require.NoError(t, err)

	ids := []string{
		entryID("cars", map[string]any{"vin": "VIN-1"}, "vin"),
		entryID("cars", map[string]any{"vin": "VIN-2"}, "vin"),
	}
	report, err := engine.PatternsByExample(context.Background(), "cars", ids)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SampleCount)
	assert.Equal(t, 2, report.FrequentValues["make"]["Honda"])
	assert.Equal(t, 25000.0, report.NumericRanges["price"].Avg)

	_, err = engine.PatternsByExample(context.Background(), "cars", []string{"missing"})
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCollectionsAndDelete(t *testing.T) {
	provider := newFakeProvider()
	engine := NewEngine(provider, &fakeEmbedder{})

	_, err := engine.UpsertRecords(context.Background(), "cars",
		[]map[string]any{{"vin": "VIN-1"}}, "vin")
	require.NoError(t, err)

	infos, err := engine.Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "cars", infos[0].Table)
	assert.Equal(t, 1, infos[0].Count)

	require.NoError(t, engine.DeleteTable(context.Background(), "cars"))
	assert.False(t, engine.HasCollection(context.Background(), "cars"))

	// Deleting a table that was never indexed is a no-op.
	require.NoError(t, engine.DeleteTable(context.Background(), "cars"))
}

func TestChromemProviderPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	provider, err := NewChromemProvider(dir)
	require.NoError(t, err)
	require.NoError(t, provider.Upsert(ctx, "cars", "id-1", []float32{1, 0}, "make: Honda.",
		map[string]string{"make": "Honda"}))
	require.NoError(t, provider.Close())

	reopened, err := NewChromemProvider(dir)
	require.NoError(t, err)
	defer reopened.Close()

	names, err := reopened.ListCollections(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"cars"}, names)

	got, err := reopened.Get(ctx, "cars", "id-1")
	require.NoError(t, err)
	assert.Equal(t, "Honda", got.Metadata["make"])
	assert.Equal(t, []float32{1, 0}, got.Vector)
}

func TestChromemProviderRoundTrip(t *testing.T) {
	provider, err := NewChromemProvider(t.TempDir())
	require.NoError(t, err)
	defer provider.Close()

	ctx := context.Background()
	require.NoError(t, provider.Upsert(ctx, "cars", "id-1", []float32{1, 0}, "make: Honda.",
		map[string]string{"make": "Honda"}))
	require.NoError(t, provider.Upsert(ctx, "cars", "id-2", []float32{0, 1}, "make: Toyota.",
		map[string]string{"make": "Toyota"}))

	results, err := provider.Search(ctx, "cars", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "id-1", results[0].ID)

	got, err := provider.Get(ctx, "cars", "id-2")
	require.NoError(t, err)
	assert.Equal(t, "Toyota", got.Metadata["make"])

	_, err = provider.Search(ctx, "missing", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, provider.DeleteCollection(ctx, "cars"))
	_, err = provider.Count(ctx, "cars")
	assert.ErrorIs(t, err, ErrCollectionNotFound)
}
