package knowledge

import (
	"path/filepath"
	"testing"

	"github.com/datapilot-io/datapilot/pkg/security"
	"github.com/datapilot-io/datapilot/pkg/templates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTemplate() *templates.Template {
	return &templates.Template{
		Name:        "dealership",
		DisplayName: "Auto Dealership",
		Scoring: map[string][]templates.ScoringFactor{
			"perfect_deal": {
				{Name: "trade_in", Description: "Has trade-in", Weight: 20, Calculation: "trade_in_vin IS NOT NULL"},
				{Name: "quick_sale", Description: "Sold fast", Weight: 10, Calculation: "days_to_sale <= 30"},
			},
		},
		Rules: []templates.BusinessRule{
			{Name: "aging", Description: "old stock", Condition: "days_on_lot > 90", Severity: "warning"},
		},
		Metrics: map[string]templates.Metric{
			"avg_days_to_sale": {Description: "avg days", Target: 30, Warning: 45, Critical: 60, LowerIsBetter: true},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(testTemplate(), filepath.Join(t.TempDir(), "knowledge.json"))
	require.NoError(t, err)
	return s
}

func TestScoringFactorsDefaults(t *testing.T) {
	s := newTestStore(t)

	factors := s.ScoringFactors("perfect_deal")
	require.Len(t, factors, 2)
	assert.Equal(t, 20, factors[0].Weight)

	assert.Empty(t, s.ScoringFactors("no_such_category"))
}

func TestUpdateFactorPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")

	s, err := NewStore(testTemplate(), path)
	require.NoError(t, err)

	weight := 15
	require.NoError(t, s.UpdateFactor("perfect_deal", "trade_in", &weight, nil))
	assert.Equal(t, 15, s.ScoringFactors("perfect_deal")[0].Weight)

	// simulated restart: reload from the same overlay file
	s2, err := NewStore(testTemplate(), path)
	require.NoError(t, err)
	factors := s2.ScoringFactors("perfect_deal")
	assert.Equal(t, 15, factors[0].Weight)
	// calculation never comes from the overlay
	assert.Equal(t, "trade_in_vin IS NOT NULL", factors[0].Calculation)
}

func TestUpdateFactorRejections(t *testing.T) {
	s := newTestStore(t)

	negative := -5
	err := s.UpdateFactor("perfect_deal", "trade_in", &negative, nil)
	var verr *security.ValidationError
	assert.ErrorAs(t, err, &verr)

	weight := 10
	err = s.UpdateFactor("perfect_deal", "no_such_factor", &weight, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateFactor("perfect_deal", "trade_in", nil, nil)
	assert.ErrorAs(t, err, &verr)
}

func TestAddRule(t *testing.T) {
	s := newTestStore(t)

	err := s.AddRule(templates.BusinessRule{
		Name: "stale", Condition: "days_on_lot > 120", Severity: "error",
	})
	require.NoError(t, err)

	rules := s.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "stale", rules[1].Name)

	err = s.AddRule(templates.BusinessRule{Name: "bad", Condition: "x > 1", Severity: "fatal"})
	var verr *security.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestMetrics(t *testing.T) {
	s := newTestStore(t)

	m, err := s.Metric("avg_days_to_sale")
	require.NoError(t, err)
	assert.Equal(t, 30.0, m.Target)

	_, err = s.Metric("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCustomEntries(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetCustom("note", "we prefer trucks"))
	v, err := s.Custom("note")
	require.NoError(t, err)
	assert.Equal(t, "we prefer trucks", v)

	_, err = s.Custom("absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCard(t *testing.T) {
	s := newTestStore(t)

	card := s.Card()
	assert.Contains(t, card, "Auto Dealership")
	assert.Contains(t, card, "trade_in (weight 20)")
	assert.Contains(t, card, "days_on_lot > 90")
	assert.Contains(t, card, "avg_days_to_sale")
}

func TestToMap(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SetCustom("k", "v"))

	m := s.ToMap()
	assert.Equal(t, "dealership", m["template"])
	assert.Contains(t, m, "scoring")
	assert.Contains(t, m, "rules")
	assert.Equal(t, map[string]any{"k": "v"}, m["custom"])
}
