package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/datapilot-io/datapilot/pkg/llms"
	"github.com/datapilot-io/datapilot/pkg/security"
)

// Translator turns natural-language questions into validated SELECT
// statements and explains their results.
type Translator struct {
	llm *llms.Client
}

func NewTranslator(llm *llms.Client) *Translator {
	return &Translator{llm: llm}
}

const translateSystemPrompt = `You translate questions into SQLite SELECT statements.
Rules:
- Output only the SQL statement, no prose, no code fences.
- SELECT statements only. Never modify data.
- Use only the tables and columns in the provided schema.
- Quote identifiers with double quotes when they need it.
- Add a LIMIT clause when the question does not bound the result.`

// Translate generates SQL for a question against the given schema card
// and validates it before returning. A statement that fails validation
// is an error, never a passthrough.
func (t *Translator) Translate(ctx context.Context, question, schemaCard string) (string, error) {
	if t.llm == nil {
		return "", fmt.Errorf("no language model configured for SQL translation")
	}

	user := fmt.Sprintf("Schema:\n%s\n\nQuestion: %s", schemaCard, question)
	raw, err := t.llm.Complete(ctx, translateSystemPrompt, user, llms.StructuredOptions())
	if err != nil {
		return "", fmt.Errorf("sql generation failed: %w", err)
	}

	sql := CleanSQL(raw)
	if sql == "" {
		return "", fmt.Errorf("model returned no SQL")
	}
	if err := security.ValidateQuery(sql); err != nil {
		return "", fmt.Errorf("generated SQL rejected: %w", err)
	}
	return sql, nil
}

// Explain summarizes result rows in two or three sentences. At most
// ten rows go to the model.
func (t *Translator) Explain(ctx context.Context, question, sql string, rows []map[string]any) (string, error) {
	if t.llm == nil {
		return "", fmt.Errorf("no language model configured")
	}

	sample := rows
	if len(sample) > 10 {
		sample = sample[:10]
	}
	data, err := json.Marshal(sample)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result sample: %w", err)
	}

	user := fmt.Sprintf("Question: %s\nSQL: %s\nResults (%d rows total, showing %d): %s\n\nAnswer the question from these results in 2-3 sentences.",
		question, sql, len(rows), len(sample), string(data))

	return t.llm.Complete(ctx, "You explain query results plainly and concisely.", user, llms.SynthesisOptions())
}

// CleanSQL strips code fences, a leading language tag, and trailing
// semicolons from model output.
func CleanSQL(raw string) string {
	s := stripFences(raw)
	s = strings.TrimSpace(s)
	// Models sometimes prefix the bare word "sql".
	if strings.HasPrefix(strings.ToLower(s), "sql\n") {
		s = s[4:]
	}
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	return s
}
