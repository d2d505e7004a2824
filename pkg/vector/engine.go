package vector

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Embedder turns text into a vector. Satisfied by the embedders package.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Engine maintains one collection per table and answers similarity
// queries over record embeddings.
type Engine struct {
	provider Provider
	embedder Embedder
}

// NewEngine wires a storage provider to an embedder.
func NewEngine(provider Provider, embedder Embedder) *Engine {
	return &Engine{provider: provider, embedder: embedder}
}

// UpsertResult reports an indexing run.
type UpsertResult struct {
	Table    string `json:"table"`
	Embedded int    `json:"records_embedded"`
	Failed   int    `json:"records_failed"`
}

// UpsertRecords embeds and indexes records into the table's collection.
// The primary key column, when present, becomes part of the entry id so
// re-uploads replace rather than duplicate.
func (e *Engine) UpsertRecords(ctx context.Context, table string, records []map[string]any, pkColumn string) (*UpsertResult, error) {
	result := &UpsertResult{Table: table}

	for _, record := range records {
		text := RenderRecord(record)
		if text == "" {
			result.Failed++
			continue
		}

		vec, err := e.embedder.Embed(ctx, text)
		if err != nil {
			return result, fmt.Errorf("failed to embed record: %w", err)
		}

		id := entryID(table, record, pkColumn)
		metadata := flattenRecord(record)
		metadata["_table"] = table

		if err := e.provider.Upsert(ctx, table, id, vec, text, metadata); err != nil {
			return result, fmt.Errorf("failed to index record: %w", err)
		}
		result.Embedded++
	}

	return result, nil
}

// SearchText embeds the query text and returns the topK most similar
// records.
func (e *Engine) SearchText(ctx context.Context, table, text string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return e.provider.Search(ctx, table, vec, topK)
}

// SearchByExample finds records similar to an already-indexed entry,
// excluding the entry itself.
func (e *Engine) SearchByExample(ctx context.Context, table, id string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 10
	}

	seed, err := e.provider.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	if len(seed.Vector) == 0 {
		return nil, fmt.Errorf("entry %s has no stored vector", id)
	}

	// Over-fetch by one since the seed ranks first against itself.
	results, err := e.provider.Search(ctx, table, seed.Vector, topK+1)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, topK)
	for _, r := range results {
		if r.ID == id {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// NumericRange summarizes a numeric field across sampled records.
type NumericRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// PatternReport describes what the records matching a query have in
// common.
type PatternReport struct {
	Table          string                    `json:"table"`
	Query          string                    `json:"query"`
	SampleCount    int                       `json:"sample_count"`
	FrequentValues map[string]map[string]int `json:"frequent_values"`
	NumericRanges  map[string]NumericRange   `json:"numeric_ranges"`
}

// Patterns searches for records similar to the query and mines their
// shared traits.
func (e *Engine) Patterns(ctx context.Context, table, query string, sampleSize int) (*PatternReport, error) {
	if sampleSize <= 0 {
		sampleSize = 25
	}

	results, err := e.SearchText(ctx, table, query, sampleSize)
	if err != nil {
		return nil, err
	}
	report := minePatterns(table, results)
	report.Query = query
	return report, nil
}

// PatternsByExample mines the shared traits of specific indexed
// entries.
func (e *Engine) PatternsByExample(ctx context.Context, table string, ids []string) (*PatternReport, error) {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		r, err := e.provider.Get(ctx, table, id)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return minePatterns(table, results), nil
}

// minePatterns extracts value frequencies for categorical fields and
// ranges for numeric ones.
func minePatterns(table string, results []Result) *PatternReport {
	report := &PatternReport{
		Table:          table,
		SampleCount:    len(results),
		FrequentValues: make(map[string]map[string]int),
		NumericRanges:  make(map[string]NumericRange),
	}

	numericSums := make(map[string]float64)
	numericCounts := make(map[string]int)

	for _, r := range results {
		for field, value := range r.Metadata {
			if strings.HasPrefix(field, "_") || value == "" {
				continue
			}

			if n, err := strconv.ParseFloat(value, 64); err == nil {
				rng, seen := report.NumericRanges[field]
				if !seen {
					rng = NumericRange{Min: n, Max: n}
				} else {
					if n < rng.Min {
						rng.Min = n
					}
					if n > rng.Max {
						rng.Max = n
					}
				}
				report.NumericRanges[field] = rng
				numericSums[field] += n
				numericCounts[field]++
				continue
			}

			if report.FrequentValues[field] == nil {
				report.FrequentValues[field] = make(map[string]int)
			}
			report.FrequentValues[field][value]++
		}
	}

	for field, rng := range report.NumericRanges {
		rng.Avg = numericSums[field] / float64(numericCounts[field])
		report.NumericRanges[field] = rng
	}

	return report
}

// CollectionInfo names an indexed table and its entry count.
type CollectionInfo struct {
	Table string `json:"table"`
	Count int    `json:"count"`
}

// Collections lists every indexed table.
func (e *Engine) Collections(ctx context.Context) ([]CollectionInfo, error) {
	names, err := e.provider.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		count, err := e.provider.Count(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, CollectionInfo{Table: name, Count: count})
	}
	return infos, nil
}

// HasCollection reports whether a table has an index.
func (e *Engine) HasCollection(ctx context.Context, table string) bool {
	names, err := e.provider.ListCollections(ctx)
	if err != nil {
		return false
	}
	for _, name := range names {
		if name == table {
			return true
		}
	}
	return false
}

// DeleteTable drops a table's collection. Missing collections are not
// an error.
func (e *Engine) DeleteTable(ctx context.Context, table string) error {
	if !e.HasCollection(ctx, table) {
		return nil
	}
	return e.provider.DeleteCollection(ctx, table)
}

func (e *Engine) Close() error {
	return e.provider.Close()
}

// RenderRecord turns a record into the "Column: value. " prose that
// gets embedded. Columns render in sorted order so identical records
// embed identically; nil values are skipped.
func RenderRecord(record map[string]any) string {
	fields := make([]string, 0, len(record))
	for name := range record {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	var b strings.Builder
	for _, name := range fields {
		value := record[name]
		if value == nil {
			continue
		}
		s := fmt.Sprintf("%v", value)
		if s == "" {
			continue
		}
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(s)
		b.WriteString(". ")
	}
	return strings.TrimSpace(b.String())
}

// entryID derives a stable id from the primary key when one exists,
// otherwise a random UUID.
func entryID(table string, record map[string]any, pkColumn string) string {
	if pkColumn != "" {
		if pk, ok := record[pkColumn]; ok && pk != nil {
			s := fmt.Sprintf("%v", pk)
			if s != "" {
				return uuid.NewSHA1(uuid.NameSpaceOID, []byte(table+"/"+s)).String()
			}
		}
	}
	return uuid.NewString()
}

// flattenRecord converts scalar record fields to the string metadata
// stored beside the vector.
func flattenRecord(record map[string]any) map[string]string {
	out := make(map[string]string, len(record))
	for name, value := range record {
		if value == nil {
			continue
		}
		switch value.(type) {
		case map[string]any, []any:
			continue
		}
		out[name] = fmt.Sprintf("%v", value)
	}
	return out
}
