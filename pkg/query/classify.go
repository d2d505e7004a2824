// Package query decides how a natural-language question should be
// answered (SQL, similarity search, strategic knowledge, or a blend)
// and translates questions into safe SQL.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/datapilot-io/datapilot/pkg/llms"
)

// Query types.
const (
	TypeSQL       = "sql"
	TypeSemantic  = "semantic"
	TypeStrategic = "strategic"
	TypeHybrid    = "hybrid"
)

// Classification describes how to route a question.
type Classification struct {
	QueryType       string   `json:"query_type"`
	Reasoning       string   `json:"reasoning"`
	NeedsSQL        bool     `json:"needs_sql"`
	NeedsSemantic   bool     `json:"needs_semantic"`
	NeedsKnowledge  bool     `json:"needs_knowledge"`
	SuggestedTables []string `json:"suggested_tables"`
	Confidence      float64  `json:"confidence"`
}

// strategicKeywords signal questions about what the business should do
// rather than what the data says.
var strategicKeywords = []string{
	"ideal", "best", "optimal", "should we", "should i", "recommend",
	"strategy", "what makes", "why do", "perfect",
}

// semanticKeywords signal similarity-style questions.
var semanticKeywords = []string{
	"similar", "like this", "find like", "pattern", "common",
	"resemble", "comparable",
}

// ClassifyKeywords routes a question by keyword rules alone. It is the
// fallback when no model is available, and the safety net when the
// model's answer cannot be parsed.
func ClassifyKeywords(question string) *Classification {
	q := strings.ToLower(question)

	for _, kw := range strategicKeywords {
		if strings.Contains(q, kw) {
			return &Classification{
				QueryType:      TypeStrategic,
				Reasoning:      fmt.Sprintf("matched strategic keyword %q", kw),
				NeedsSQL:       true,
				NeedsKnowledge: true,
				NeedsSemantic:  true,
				Confidence:     0.6,
			}
		}
	}

	for _, kw := range semanticKeywords {
		if strings.Contains(q, kw) {
			return &Classification{
				QueryType:     TypeSemantic,
				Reasoning:     fmt.Sprintf("matched similarity keyword %q", kw),
				NeedsSemantic: true,
				Confidence:    0.6,
			}
		}
	}

	return &Classification{
		QueryType:  TypeSQL,
		Reasoning:  "no strategic or similarity signals, treating as a data question",
		NeedsSQL:   true,
		Confidence: 0.5,
	}
}

// Classifier routes questions with a model, degrading to keyword rules.
type Classifier struct {
	llm *llms.Client
}

// NewClassifier builds a classifier. A nil client means keyword-only
// routing.
func NewClassifier(llm *llms.Client) *Classifier {
	return &Classifier{llm: llm}
}

const classifySystemPrompt = `You route questions about business data. Respond with only a JSON object:
{"query_type": "sql" | "semantic" | "strategic" | "hybrid",
 "reasoning": "one sentence",
 "needs_sql": bool, "needs_semantic": bool, "needs_knowledge": bool,
 "suggested_tables": ["table", ...], "confidence": 0.0-1.0}

sql: answerable by querying rows (counts, sums, filters, rankings).
semantic: asks for records similar to something or shared patterns.
strategic: asks what the business should do, or what makes something good.
hybrid: needs both row data and similarity or knowledge.`

// Classify routes a question, consulting the model when available.
func (c *Classifier) Classify(ctx context.Context, question string, tables []string) *Classification {
	if c.llm == nil {
		return ClassifyKeywords(question)
	}

	user := fmt.Sprintf("Available tables: %s\n\nQuestion: %s",
		strings.Join(tables, ", "), question)

	raw, err := c.llm.Complete(ctx, classifySystemPrompt, user, llms.StructuredOptions())
	if err != nil {
		slog.Warn("Query classification call failed, using keyword routing", "error", err)
		return ClassifyKeywords(question)
	}

	parsed, err := parseClassification(raw)
	if err != nil {
		slog.Warn("Query classification response unparseable, using keyword routing",
			"error", err)
		return ClassifyKeywords(question)
	}
	return parsed
}

// parseClassification decodes the model's JSON, tolerating code fences
// and surrounding prose.
func parseClassification(raw string) (*Classification, error) {
	raw = stripFences(raw)

	// Some models wrap the object in prose. Take the outermost braces.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var c Classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &c); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}

	switch c.QueryType {
	case TypeSQL, TypeSemantic, TypeStrategic, TypeHybrid:
	default:
		return nil, fmt.Errorf("unknown query type %q", c.QueryType)
	}
	return &c, nil
}

// stripFences removes a markdown code fence wrapper, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line (```json etc).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
