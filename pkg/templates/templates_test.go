package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	names := List()
	assert.Equal(t, []string{"dealership", "generic", "legal", "medical"}, names)
}

func TestLoadDealership(t *testing.T) {
	tmpl, err := Load("dealership")
	require.NoError(t, err)

	assert.Equal(t, "dealership", tmpl.Name)
	assert.Contains(t, tmpl.PrimaryKeyHints, "vin")

	factors := tmpl.Scoring["perfect_deal"]
	require.NotEmpty(t, factors)
	assert.Equal(t, "trade_in", factors[0].Name)
	assert.Equal(t, 20, factors[0].Weight)
	assert.Equal(t, "trade_in_vin IS NOT NULL", factors[0].Calculation)
}

func TestLoadUnknown(t *testing.T) {
	_, err := Load("florist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "florist")
	assert.Contains(t, err.Error(), "dealership")
}

func TestLoadAllBundlesParse(t *testing.T) {
	for _, name := range List() {
		tmpl, err := Load(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, tmpl.Name)
		assert.NotEmpty(t, tmpl.PrimaryKeyHints, name)

		for category, factors := range tmpl.Scoring {
			for _, f := range factors {
				assert.NotEmpty(t, f.Calculation, "%s/%s/%s", name, category, f.Name)
				assert.GreaterOrEqual(t, f.Weight, 0)
			}
		}
	}
}

func TestValidateColumns(t *testing.T) {
	tmpl := &Template{
		RequiredColumns: []string{"vin"},
		OptionalColumns: []string{"make", "model"},
	}

	missing, notes := tmpl.ValidateColumns([]string{"VIN", "make"})
	assert.Empty(t, missing)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "model")

	missing, _ = tmpl.ValidateColumns([]string{"make"})
	assert.Equal(t, []string{"vin"}, missing)
}
