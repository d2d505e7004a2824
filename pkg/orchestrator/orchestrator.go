// Package orchestrator answers natural-language questions by routing
// them across the relational store, the vector index, and the business
// knowledge base, then synthesizing a single response.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/datapilot-io/datapilot/pkg/knowledge"
	"github.com/datapilot-io/datapilot/pkg/llms"
	"github.com/datapilot-io/datapilot/pkg/query"
	"github.com/datapilot-io/datapilot/pkg/scoring"
	"github.com/datapilot-io/datapilot/pkg/store"
	"github.com/datapilot-io/datapilot/pkg/vector"
)

// maxSQLContextRows bounds how many rows of SQL results reach the
// synthesis prompt.
const maxSQLContextRows = 50

// maxSemanticResults bounds the similarity hits per question.
const maxSemanticResults = 5

// Answer is the orchestrator's response to one question.
type Answer struct {
	Question   string                `json:"question"`
	Answer     string                `json:"answer"`
	QueryType  string                `json:"query_type"`
	SQL        string                `json:"sql,omitempty"`
	Rows       []map[string]any      `json:"rows,omitempty"`
	Similar    []vector.Result       `json:"similar,omitempty"`
	Notes      []string              `json:"notes,omitempty"`
	Routing    *query.Classification `json:"routing,omitempty"`
	Confidence float64               `json:"confidence"`
}

// Orchestrator wires the engines together. Any engine may be nil; its
// absence becomes a note rather than a failure.
type Orchestrator struct {
	store      *store.Store
	engine     *vector.Engine
	knowledge  *knowledge.Store
	llm        *llms.Client
	classifier *query.Classifier
	translator *query.Translator
	scorer     *scoring.Engine
}

func New(st *store.Store, engine *vector.Engine, ks *knowledge.Store, llm *llms.Client) *Orchestrator {
	return &Orchestrator{
		store:      st,
		engine:     engine,
		knowledge:  ks,
		llm:        llm,
		classifier: query.NewClassifier(llm),
		translator: query.NewTranslator(llm),
		scorer:     scoring.NewEngine(ks),
	}
}

// gathered holds what the concurrent engines produced for one question.
type gathered struct {
	sql       string
	rows      []map[string]any
	rowCount  int
	similar   []vector.Result
	knowledge string
	notes     []string
}

// Ask classifies the question, gathers context from each engine the
// classification asks for, and synthesizes an answer. Individual engine
// failures degrade to notes; only a question with zero usable context
// fails.
func (o *Orchestrator) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is empty")
	}

	tables, err := o.store.ListTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("no data has been uploaded yet")
	}
	tableNames := make([]string, len(tables))
	for i, t := range tables {
		tableNames[i] = t.Name
	}

	routing := o.classifier.Classify(ctx, question, tableNames)

	g := newGatherer(o, question, tableNames)
	g.run(ctx, routing)

	answer := &Answer{
		Question:   question,
		QueryType:  routing.QueryType,
		Routing:    routing,
		Confidence: routing.Confidence,
		SQL:        g.result.sql,
		Rows:       g.result.rows,
		Similar:    g.result.similar,
		Notes:      g.result.notes,
	}

	if !g.hasContext() {
		return nil, fmt.Errorf("no usable context for question: %s", strings.Join(g.result.notes, "; "))
	}

	text, err := o.synthesize(ctx, question, routing, &g.result)
	if err != nil {
		// The gathered context is still useful on its own, so a failed
		// synthesis degrades instead of erroring out.
		slog.Warn("Answer synthesis failed", "question", question, "error", err)
		answer.Answer = "The language model was unavailable to summarize these findings. The supporting data gathered for your question is included below."
		answer.Notes = append(answer.Notes, fmt.Sprintf("synthesis unavailable: %v", err))
		return answer, nil
	}
	answer.Answer = text

	return answer, nil
}

// AskWithScoring answers a question and folds the score distribution
// for a category into the synthesis context. Used for questions like
// "how is my inventory doing against the perfect deal profile".
func (o *Orchestrator) AskWithScoring(ctx context.Context, question, table, category string) (*Answer, error) {
	records, err := o.store.FetchRecords(ctx, table)
	if err != nil {
		return nil, err
	}

	scores := o.scorer.ScoreTable(category, records, true, 0)
	dist := scoring.Distribute(scores)

	answer, err := o.Ask(ctx, fmt.Sprintf(
		"%s\n\nScore distribution for %q over table %q: %d records, mean %.1f%%, buckets %v.",
		question, category, table, dist.Count, dist.Mean, dist.Buckets))
	if err != nil {
		return nil, err
	}
	return answer, nil
}

type gatherer struct {
	o        *Orchestrator
	question string
	tables   []string
	result   gathered
}

func newGatherer(o *Orchestrator, question string, tables []string) *gatherer {
	return &gatherer{o: o, question: question, tables: tables}
}

// run fans the needed engines out concurrently. Notes are collected
// per engine; errgroup is used for the join, not for cancellation,
// since one engine failing must not cancel its siblings.
func (g *gatherer) run(ctx context.Context, routing *query.Classification) {
	var eg errgroup.Group
	var sqlNote, semNote, knowNote string

	if routing.NeedsSQL {
		eg.Go(func() error {
			sqlNote = g.gatherSQL(ctx)
			return nil
		})
	}
	if routing.NeedsSemantic {
		eg.Go(func() error {
			semNote = g.gatherSemantic(ctx)
			return nil
		})
	}
	if routing.NeedsKnowledge {
		eg.Go(func() error {
			knowNote = g.gatherKnowledge()
			return nil
		})
	}
	_ = eg.Wait()

	for _, note := range []string{sqlNote, semNote, knowNote} {
		if note != "" {
			g.result.notes = append(g.result.notes, note)
		}
	}
}

func (g *gatherer) gatherSQL(ctx context.Context) string {
	card, err := g.o.store.SchemaCard(ctx)
	if err != nil {
		return fmt.Sprintf("schema unavailable: %v", err)
	}

	sql, err := g.o.translator.Translate(ctx, g.question, card)
	if err != nil {
		slog.Warn("SQL generation failed", "question", g.question, "error", err)
		return fmt.Sprintf("sql unavailable: %v", err)
	}

	result, err := g.o.store.Query(ctx, sql)
	if err != nil {
		slog.Warn("Generated SQL failed to execute", "sql", sql, "error", err)
		return fmt.Sprintf("sql execution failed: %v", err)
	}

	g.result.sql = sql
	g.result.rowCount = result.RowCount
	rows := result.Records()
	if len(rows) > maxSQLContextRows {
		rows = rows[:maxSQLContextRows]
	}
	g.result.rows = rows
	return ""
}

func (g *gatherer) gatherSemantic(ctx context.Context) string {
	if g.o.engine == nil {
		return "similarity search unavailable: no vector index configured"
	}

	table := g.pickSemanticTable(ctx)
	if table == "" {
		return "similarity search unavailable: no indexed tables"
	}

	results, err := g.o.engine.SearchText(ctx, table, g.question, maxSemanticResults)
	if err != nil {
		slog.Warn("Similarity search failed", "table", table, "error", err)
		return fmt.Sprintf("similarity search failed: %v", err)
	}
	g.result.similar = results
	return ""
}

// pickSemanticTable prefers an indexed table whose name (or singular
// form) appears in the question, then falls back to the only indexed
// table, then to the first one.
func (g *gatherer) pickSemanticTable(ctx context.Context) string {
	infos, err := g.o.engine.Collections(ctx)
	if err != nil || len(infos) == 0 {
		return ""
	}

	q := strings.ToLower(g.question)
	for _, info := range infos {
		name := strings.ToLower(info.Table)
		if strings.Contains(q, name) || strings.Contains(q, strings.TrimSuffix(name, "s")) {
			return info.Table
		}
	}
	return infos[0].Table
}

func (g *gatherer) gatherKnowledge() string {
	if g.o.knowledge == nil {
		return "business knowledge unavailable: no template configured"
	}
	g.result.knowledge = g.o.knowledge.Card()
	return ""
}

func (g *gatherer) hasContext() bool {
	r := &g.result
	return r.sql != "" || len(r.similar) > 0 || r.knowledge != ""
}

const strategicSystemPrompt = `You are a business data advisor. Ground every claim in the
provided context: query results, similar records, and the business
knowledge profile. Recommend concrete actions where the data supports
them. Say so plainly when the data is insufficient.`

const genericSystemPrompt = `You answer questions about uploaded business data. Use only
the provided context. Be concise and factual; do not speculate beyond
the data.`

func (o *Orchestrator) synthesize(ctx context.Context, question string, routing *query.Classification, g *gathered) (string, error) {
	if o.llm == nil {
		return "", fmt.Errorf("no language model configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", question)

	if g.sql != "" {
		fmt.Fprintf(&b, "\nSQL executed: %s\nRows returned: %d\n", g.sql, g.rowCount)
		for _, row := range g.rows {
			fmt.Fprintf(&b, "%v\n", row)
		}
	}
	if len(g.similar) > 0 {
		b.WriteString("\nSimilar records:\n")
		for _, r := range g.similar {
			fmt.Fprintf(&b, "- (%.2f) %s\n", r.Similarity, r.Content)
		}
	}
	if g.knowledge != "" {
		b.WriteString("\nBusiness knowledge:\n")
		b.WriteString(g.knowledge)
		b.WriteString("\n")
	}
	for _, note := range g.notes {
		fmt.Fprintf(&b, "\nNote: %s\n", note)
	}

	system := genericSystemPrompt
	if routing.QueryType == query.TypeStrategic || routing.NeedsKnowledge {
		system = strategicSystemPrompt
	}

	return o.llm.Complete(ctx, system, b.String(), llms.SynthesisOptions())
}
