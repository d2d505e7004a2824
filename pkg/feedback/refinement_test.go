package feedback

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datapilot-io/datapilot/pkg/knowledge"
	"github.com/datapilot-io/datapilot/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *Store, *knowledge.Store) {
	t.Helper()
	store := newTestStore(t)
	tmpl := &templates.Template{
		Name: "dealership",
		Scoring: map[string][]templates.ScoringFactor{
			"perfect_deal": {
				{Name: "quick", Weight: 10, Calculation: "days_to_sale <= 30"},
			},
		},
	}
	ks, err := knowledge.NewStore(tmpl, filepath.Join(t.TempDir(), "knowledge.json"))
	require.NoError(t, err)
	return NewAnalyzer(store, ks), store, ks
}

func submitScoring(t *testing.T, s *Store, rating, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		_, err := s.Submit(context.Background(), Entry{
			Type: TypeScoring, Rating: rating,
			Context: map[string]any{"category": "perfect_deal", "factor": "quick"},
		})
		require.NoError(t, err)
	}
}

func TestAnalyzeInsufficientData(t *testing.T) {
	a, s, _ := newTestAnalyzer(t)
	submitScoring(t, s, -1, 5)

	analysis, err := a.Analyze(context.Background(), 30)
	require.NoError(t, err)
	assert.Empty(t, analysis.Proposals)
	require.Len(t, analysis.Notes, 1)
	assert.Contains(t, analysis.Notes[0], "insufficient data")
}

func TestAnalyzeProposesWeightReduction(t *testing.T) {
	a, s, _ := newTestAnalyzer(t)
	// 6 negative + 6 positive scoring ratings: 50% negative rate
	submitScoring(t, s, -1, 6)
	submitScoring(t, s, 1, 6)

	analysis, err := a.Analyze(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, analysis.Proposals, 1)

	p := analysis.Proposals[0]
	assert.Equal(t, "perfect_deal", p.Category)
	assert.Equal(t, "quick", p.Factor)
	assert.Equal(t, 10, p.CurrentWeight)
	// floor(10 * (1 - 0.5*0.5)) = 7
	assert.Equal(t, 7, p.NewWeight)
	assert.Equal(t, 0.5, p.NegativeRate)
	// 12 ratings / 20 = 0.6
	assert.InDelta(t, 0.6, p.Confidence, 0.001)
}

func TestAnalyzeLowSatisfactionNote(t *testing.T) {
	a, s, _ := newTestAnalyzer(t)
	for i := 0; i < 12; i++ {
		_, err := s.Submit(context.Background(), Entry{Type: TypeQueryResult, Rating: -1})
		require.NoError(t, err)
	}

	analysis, err := a.Analyze(context.Background(), 30)
	require.NoError(t, err)

	found := false
	for _, note := range analysis.Notes {
		if strings.Contains(note, "satisfaction") {
			found = true
		}
	}
	assert.True(t, found, "expected a low-satisfaction note, got %v", analysis.Notes)
}

func TestApplyRespectsConfidenceFloor(t *testing.T) {
	a, _, ks := newTestAnalyzer(t)

	proposals := []Proposal{
		{Category: "perfect_deal", Factor: "quick", NewWeight: 6, Confidence: 0.9},
		{Category: "perfect_deal", Factor: "quick", NewWeight: 3, Confidence: 0.2},
		{Category: "perfect_deal", Factor: "ghost", NewWeight: 1, Confidence: 0.95},
	}

	results := a.Apply(context.Background(), proposals[:1], 0.7)
	assert.True(t, results["perfect_deal/quick"])
	assert.Equal(t, 6, ks.ScoringFactors("perfect_deal")[0].Weight)

	results = a.Apply(context.Background(), proposals[1:2], 0.7)
	assert.False(t, results["perfect_deal/quick"])
	assert.Equal(t, 6, ks.ScoringFactors("perfect_deal")[0].Weight)

	results = a.Apply(context.Background(), proposals[2:], 0.7)
	assert.False(t, results["perfect_deal/ghost"])
}

func TestOutcomeSucceeded(t *testing.T) {
	assert.True(t, outcomeSucceeded("Worked great, sold in a week"))
	assert.True(t, outcomeSucceeded("improved margins"))
	assert.False(t, outcomeSucceeded("no change at all"))
	assert.False(t, outcomeSucceeded("failed"))
	assert.False(t, outcomeSucceeded("unclear"))
}

