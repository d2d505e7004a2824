package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"inventory", "sales_2024", "_hidden", "A", "t_1"}
	for _, name := range valid {
		assert.NoError(t, ValidateIdentifier(name), name)
	}

	invalid := []string{"", "1table", "my-table", "my table", "select", "DROP", strings.Repeat("a", 129)}
	for _, name := range invalid {
		err := ValidateIdentifier(name)
		require.Error(t, err, name)

		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), name)
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Table!", "My_Table"},
		{"2024 sales", "t_2024_sales"},
		{"select", "select_table"},
		{"___", "table_data"},
		{"", "table_data"},
		{"días-on-lot", "d_as_on_lot"},
		{"inventory", "inventory"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeIdentifier(tt.in), tt.in)
	}
}

func TestSanitizeIdentifierAlwaysValid(t *testing.T) {
	inputs := []string{"", "123", ";;drop;;", "order", "a b c", "--"}
	for _, in := range inputs {
		out := SanitizeIdentifier(in)
		assert.NoError(t, ValidateIdentifier(out), "input %q produced %q", in, out)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"inventory"`, QuoteIdentifier("inventory"))
	assert.Equal(t, `"we""ird"`, QuoteIdentifier(`we"ird`))
}

func TestValidateQuery(t *testing.T) {
	ok := []string{
		"SELECT * FROM inventory",
		"select count(*) from sales where year >= 2020;",
		"SELECT make, model FROM cars ORDER BY year DESC LIMIT 10",
	}
	for _, q := range ok {
		assert.NoError(t, ValidateQuery(q), q)
	}
}

func TestValidateQueryRejections(t *testing.T) {
	tests := []struct {
		sql    string
		reason string
	}{
		{"", "empty"},
		{"DROP TABLE inventory", "SELECT"},
		{"UPDATE cars SET year = 2020", "SELECT"},
		{"SELECT * FROM t; DELETE FROM t", "single statement"},
		{"SELECT * FROM t -- sneaky", "comment"},
		{"SELECT /* hidden */ * FROM t", "comment"},
		{"SELECT * FROM t WHERE 1=1 UNION SELECT * FROM pragma_table_info('t')", "PRAGMA"},
		{"SELECT * FROM t; drop table t;", "single statement"},
	}
	for _, tt := range tests {
		err := ValidateQuery(tt.sql)
		require.Error(t, err, tt.sql)
		assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tt.reason), tt.sql)
	}
}

func TestValidateQueryForbiddenKeywordNotSubstring(t *testing.T) {
	// "created_at" contains "create" but is not the keyword itself
	assert.NoError(t, ValidateQuery("SELECT created_at FROM events"))
	assert.NoError(t, ValidateQuery("SELECT updates_count FROM stats"))
}

func TestValidateLimit(t *testing.T) {
	n, err := ValidateLimit(10)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = ValidateLimit(5000)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, n)

	_, err = ValidateLimit(-1)
	assert.Error(t, err)
}
