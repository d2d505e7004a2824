package feedback

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datapilot-io/datapilot/pkg/security"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubmitAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Submit(ctx, Entry{
		Type:    TypeQueryResult,
		Rating:  2,
		Query:   "best sellers",
		Comment: "spot on",
		User:    "alice",
	})
	require.NoError(t, err)

	entries, err := s.History(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)
	assert.Equal(t, 2, entries[0].Rating)
	assert.Equal(t, "best sellers", entries[0].Query)
}

func TestSubmitValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Submit(ctx, Entry{Type: "vibes", Rating: 1})
	var verr *security.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = s.Submit(ctx, Entry{Type: TypeScoring, Rating: 3})
	assert.ErrorAs(t, err, &verr)
}

func TestRecordOutcome(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Submit(ctx, Entry{Type: TypeRecommendation, Rating: 1})
	require.NoError(t, err)

	require.NoError(t, s.RecordOutcome(ctx, id, "worked: sold in 12 days"))

	entries, err := s.History(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "worked: sold in 12 days", entries[0].Outcome)
	assert.NotNil(t, entries[0].OutcomeTimestamp)

	err = s.RecordOutcome(ctx, "no-such-id", "worked")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSummarize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ratings := []int{2, 1, 0, -1, -2}
	for _, r := range ratings {
		_, err := s.Submit(ctx, Entry{Type: TypeQueryResult, Rating: r, Comment: "c"})
		require.NoError(t, err)
	}
	_, err := s.Submit(ctx, Entry{Type: TypeScoring, Rating: 1})
	require.NoError(t, err)

	summary, err := s.Summarize(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 3, summary.Positive)
	assert.Equal(t, 2, summary.Negative)
	assert.Equal(t, 1, summary.Neutral)
	assert.Equal(t, 5, summary.ByType[TypeQueryResult])
	assert.Equal(t, 1, summary.ByType[TypeScoring])
	assert.Len(t, summary.RecentComments, 5)
}

func TestNegativePatterns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Submit(ctx, Entry{
			Type: TypeQueryResult, Rating: -2,
			Query: "aging report", Comment: "wrong numbers",
		})
		require.NoError(t, err)
	}
	_, err := s.Submit(ctx, Entry{Type: TypeQueryResult, Rating: 2, Query: "aging report"})
	require.NoError(t, err)

	patterns, err := s.NegativePatterns(ctx)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "aging report", patterns[0].Query)
	assert.Equal(t, 3, patterns[0].Count)
	assert.Equal(t, -2.0, patterns[0].AvgRating)
	assert.Contains(t, patterns[0].Comments, "wrong numbers")
}

func TestRefinementData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Submit(ctx, Entry{
		Type: TypeScoring, Rating: -1,
		Context: map[string]any{"category": "perfect_deal", "factor": "quick"},
	})
	require.NoError(t, err)
	id, err := s.Submit(ctx, Entry{Type: TypeRecommendation, Rating: 1})
	require.NoError(t, err)
	require.NoError(t, s.RecordOutcome(ctx, id, "success"))

	data, err := s.Refinement(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, data.Total)
	assert.Equal(t, 0.5, data.SatisfactionRate)
	assert.Equal(t, 1, data.ScoringByCategory["perfect_deal"])
	assert.Equal(t, 1.0, data.OutcomeSuccessRate)
}

func TestExportJSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Submit(ctx, Entry{Type: TypeInsight, Rating: 1})
	require.NoError(t, err)

	data, err := s.ExportJSON(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), TypeInsight)
}
