package scoring

import (
	"path/filepath"
	"testing"

	"github.com/datapilot-io/datapilot/pkg/knowledge"
	"github.com/datapilot-io/datapilot/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	tmpl := &templates.Template{
		Name: "dealership",
		Scoring: map[string][]templates.ScoringFactor{
			"perfect_deal": {
				{Name: "trade_in", Weight: 20, Calculation: "trade_in_vin IS NOT NULL"},
				{Name: "quick", Weight: 10, Calculation: "days_to_sale <= 30"},
			},
			"broken": {
				{Name: "bad", Weight: 10, Calculation: "not a predicate"},
			},
		},
	}
	ks, err := knowledge.NewStore(tmpl, filepath.Join(t.TempDir(), "knowledge.json"))
	require.NoError(t, err)
	return NewEngine(ks)
}

func TestScoreRecordAllPass(t *testing.T) {
	e := newTestEngine(t)
	factors := e.Compile("perfect_deal")

	score := ScoreRecord(factors, map[string]any{
		"trade_in_vin": "T1",
		"days_to_sale": 20,
	})

	assert.Equal(t, 30, score.Score)
	assert.Equal(t, 30, score.MaxScore)
	assert.Equal(t, 100.0, score.Percentage)
	assert.ElementsMatch(t, []string{"trade_in", "quick"}, score.Passed)
	assert.Empty(t, score.Failed)
}

func TestScoreRecordAllFail(t *testing.T) {
	e := newTestEngine(t)
	factors := e.Compile("perfect_deal")

	score := ScoreRecord(factors, map[string]any{
		"trade_in_vin": nil,
		"days_to_sale": 40,
	})

	assert.Equal(t, 0, score.Score)
	assert.Equal(t, 0.0, score.Percentage)
	assert.Len(t, score.Failed, 2)
}

func TestScoreRecordUnparsableFactor(t *testing.T) {
	e := newTestEngine(t)
	factors := e.Compile("broken")

	score := ScoreRecord(factors, map[string]any{"anything": 1})

	assert.Equal(t, 0, score.Score)
	assert.Equal(t, 10, score.MaxScore)
	require.Len(t, score.Notes, 1)
	assert.Contains(t, score.Notes[0], "bad")
}

func TestScoreRecordZeroWeights(t *testing.T) {
	factors := []CompiledFactor{}
	score := ScoreRecord(factors, map[string]any{})
	assert.Equal(t, 0.0, score.Percentage)
}

func TestScoreTableSortedAndLimited(t *testing.T) {
	e := newTestEngine(t)
	records := []map[string]any{
		{"trade_in_vin": nil, "days_to_sale": 40},
		{"trade_in_vin": "T1", "days_to_sale": 20},
		{"trade_in_vin": "T2", "days_to_sale": 99},
	}

	scores := e.ScoreTable("perfect_deal", records, true, 2)
	require.Len(t, scores, 2)
	assert.Equal(t, 100.0, scores[0].Percentage)
	assert.InDelta(t, 66.67, scores[1].Percentage, 0.01)
}

func TestScoreTableUnknownCategory(t *testing.T) {
	e := newTestEngine(t)
	scores := e.ScoreTable("nope", []map[string]any{{"a": 1}}, false, 0)
	require.Len(t, scores, 1)
	assert.Equal(t, 0.0, scores[0].Percentage)
	assert.Equal(t, 0, scores[0].MaxScore)
}

func TestDistribute(t *testing.T) {
	scores := []RecordScore{
		{Percentage: 100},
		{Percentage: 85},
		{Percentage: 50},
		{Percentage: 10},
	}

	dist := Distribute(scores)
	assert.Equal(t, 4, dist.Count)
	assert.Equal(t, 10.0, dist.Min)
	assert.Equal(t, 100.0, dist.Max)
	assert.InDelta(t, 61.25, dist.Mean, 0.001)
	assert.Equal(t, 2, dist.Buckets["excellent"])
	assert.Equal(t, 1, dist.Buckets["average"])
	assert.Equal(t, 1, dist.Buckets["poor"])
	assert.Equal(t, 0, dist.Buckets["good"])
}

func TestDistributeEmpty(t *testing.T) {
	dist := Distribute(nil)
	assert.Equal(t, 0, dist.Count)
	assert.Contains(t, dist.Buckets, "excellent")
}

func TestFactorPerformances(t *testing.T) {
	e := newTestEngine(t)
	factors := e.Compile("perfect_deal")
	records := []map[string]any{
		{"trade_in_vin": "T1", "days_to_sale": 10},
		{"trade_in_vin": nil, "days_to_sale": 20},
		{"trade_in_vin": nil, "days_to_sale": 90},
	}

	perfs := FactorPerformances(factors, records)
	require.Len(t, perfs, 2)

	assert.Equal(t, "trade_in", perfs[0].Name)
	assert.Equal(t, 1, perfs[0].Achieved)
	assert.Equal(t, 3, perfs[0].Total)
	assert.InDelta(t, 0.333, perfs[0].AchievedRate, 0.001)

	assert.Equal(t, "quick", perfs[1].Name)
	assert.Equal(t, 2, perfs[1].Achieved)
}
