package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseForms(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"trade_in_vin IS NOT NULL", "trade_in_vin IS NOT NULL"},
		{"days_to_sale <= 30", "days_to_sale <= 30"},
		{"front_gross > 2000", "front_gross > 2000"},
		{"year >= 2020", "year >= 2020"},
		{"price < 10000", "price < 10000"},
		{"finance_source = dealership", "finance_source = dealership"},
		{"total_gross / sale_price > 0.05", "total_gross / sale_price > 0.05"},
	}
	for _, tt := range tests {
		pred, err := Parse(tt.expr)
		require.NoError(t, err, tt.expr)
		assert.Equal(t, tt.want, pred.String(), tt.expr)
	}
}

func TestParseRejectsUnknownForms(t *testing.T) {
	bad := []string{
		"",
		"days_to_sale",
		"a / b < 3",
		"col != 5",
		"1col > 2",
		"col > abc",
	}
	for _, expr := range bad {
		_, err := Parse(expr)
		assert.Error(t, err, expr)
	}
}

func TestEvalNotNull(t *testing.T) {
	pred, err := Parse("trade_in_vin IS NOT NULL")
	require.NoError(t, err)

	assert.True(t, pred.Eval(map[string]any{"trade_in_vin": "T1"}))
	assert.False(t, pred.Eval(map[string]any{"trade_in_vin": nil}))
	assert.False(t, pred.Eval(map[string]any{"trade_in_vin": ""}))
	assert.False(t, pred.Eval(map[string]any{"trade_in_vin": "null"}))
	assert.False(t, pred.Eval(map[string]any{}))
}

func TestEvalComparisons(t *testing.T) {
	pred, err := Parse("days_to_sale <= 30")
	require.NoError(t, err)

	assert.True(t, pred.Eval(map[string]any{"days_to_sale": 20}))
	assert.True(t, pred.Eval(map[string]any{"days_to_sale": int64(30)}))
	assert.True(t, pred.Eval(map[string]any{"days_to_sale": "15"}))
	assert.False(t, pred.Eval(map[string]any{"days_to_sale": 40}))
	assert.False(t, pred.Eval(map[string]any{"days_to_sale": "n/a"}))
	assert.False(t, pred.Eval(map[string]any{}))
}

func TestEvalEquality(t *testing.T) {
	pred, err := Parse("finance_source = dealership")
	require.NoError(t, err)
	assert.True(t, pred.Eval(map[string]any{"finance_source": "Dealership"}))
	assert.False(t, pred.Eval(map[string]any{"finance_source": "bank"}))

	boolPred, err := Parse("chart_complete = true")
	require.NoError(t, err)
	assert.True(t, boolPred.Eval(map[string]any{"chart_complete": true}))
	assert.True(t, boolPred.Eval(map[string]any{"chart_complete": "true"}))
	assert.False(t, boolPred.Eval(map[string]any{"chart_complete": false}))

	numPred, err := Parse("balance = 0")
	require.NoError(t, err)
	assert.True(t, numPred.Eval(map[string]any{"balance": int64(0)}))
	assert.False(t, numPred.Eval(map[string]any{"balance": 12.5}))
}

func TestEvalRatio(t *testing.T) {
	pred, err := Parse("total_gross / sale_price > 0.05")
	require.NoError(t, err)

	assert.True(t, pred.Eval(map[string]any{"total_gross": 2000, "sale_price": 30000}))
	assert.False(t, pred.Eval(map[string]any{"total_gross": 1000, "sale_price": 30000}))
	// zero denominator fails, never errors
	assert.False(t, pred.Eval(map[string]any{"total_gross": 2000, "sale_price": 0}))
	assert.False(t, pred.Eval(map[string]any{"total_gross": 2000}))
}
