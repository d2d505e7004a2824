package query

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot-io/datapilot/pkg/llms"
)

func TestClassifyKeywords(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"How many cars sold last month?", TypeSQL},
		{"What makes an ideal deal?", TypeStrategic},
		{"Should we stock more SUVs?", TypeStrategic},
		{"Find deals similar to this one", TypeSemantic},
		{"What patterns do top sales share?", TypeSemantic},
		{"Total revenue by make", TypeSQL},
	}

	for _, tt := range tests {
		got := ClassifyKeywords(tt.question)
		assert.Equal(t, tt.want, got.QueryType, "question: %s", tt.question)
	}
}

func TestClassifyKeywordsFlags(t *testing.T) {
	c := ClassifyKeywords("What makes a perfect deal?")
	assert.True(t, c.NeedsSQL)
	assert.True(t, c.NeedsKnowledge)
	assert.True(t, c.NeedsSemantic)

	c = ClassifyKeywords("count rows")
	assert.True(t, c.NeedsSQL)
	assert.False(t, c.NeedsKnowledge)
}

func TestClassifierUsesModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"` +
			`{\"query_type\":\"hybrid\",\"reasoning\":\"needs rows and knowledge\",` +
			`\"needs_sql\":true,\"needs_knowledge\":true,\"confidence\":0.9}` +
			`"}}]}`))
	}))
	defer server.Close()

	c := NewClassifier(llms.New(server.URL, "test-model", ""))
	got := c.Classify(context.Background(), "question", []string{"cars"})
	assert.Equal(t, TypeHybrid, got.QueryType)
	assert.True(t, got.NeedsKnowledge)
	assert.InDelta(t, 0.9, got.Confidence, 0.001)
}

func TestClassifierFallsBackOnGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"I cannot help with that."}}]}`))
	}))
	defer server.Close()

	c := NewClassifier(llms.New(server.URL, "test-model", ""))
	got := c.Classify(context.Background(), "find similar deals", nil)
	assert.Equal(t, TypeSemantic, got.QueryType)
}

func TestClassifierFallsBackOnTransportError(t *testing.T) {
	c := NewClassifier(llms.New("http://127.0.0.1:1", "test-model", ""))
	got := c.Classify(context.Background(), "count rows", nil)
	assert.Equal(t, TypeSQL, got.QueryType)
}

func TestParseClassificationFenced(t *testing.T) {
	got, err := parseClassification("```json\n{\"query_type\":\"sql\",\"needs_sql\":true}\n```")
	require.NoError(t, err)
	assert.Equal(t, TypeSQL, got.QueryType)

	got, err = parseClassification("Here you go: {\"query_type\":\"semantic\"} hope that helps")
	require.NoError(t, err)
	assert.Equal(t, TypeSemantic, got.QueryType)

	_, err = parseClassification(`{"query_type":"destroy"}`)
	assert.Error(t, err)
}

func TestCleanSQL(t *testing.T) {
	assert.Equal(t, "SELECT * FROM cars", CleanSQL("```sql\nSELECT * FROM cars;\n```"))
	assert.Equal(t, "SELECT 1", CleanSQL("SELECT 1;"))
	assert.Equal(t, `SELECT COUNT(*) FROM "cars"`, CleanSQL(`SELECT COUNT(*) FROM "cars"`))
}

func TestTranslateValidatesOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"DROP TABLE cars"}}]}`))
	}))
	defer server.Close()

	tr := NewTranslator(llms.New(server.URL, "test-model", ""))
	_, err := tr.Translate(context.Background(), "delete everything", "Table cars (0 rows)")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestTranslateCleansAndAccepts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"` + "```sql\\nSELECT make, COUNT(*) FROM cars GROUP BY make;\\n```" + `"}}]}`))
	}))
	defer server.Close()

	tr := NewTranslator(llms.New(server.URL, "test-model", ""))
	sql, err := tr.Translate(context.Background(), "cars by make", "Table cars (2 rows)")
	require.NoError(t, err)
	assert.Equal(t, "SELECT make, COUNT(*) FROM cars GROUP BY make", sql)
}
