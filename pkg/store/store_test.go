package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/datapilot-io/datapilot/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "main.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func loadCars(t *testing.T, s *Store) {
	t.Helper()
	columns := []Column{
		{Name: "vin", Type: "TEXT", PrimaryKey: true},
		{Name: "make", Type: "TEXT"},
		{Name: "year", Type: "INTEGER"},
	}
	rows := [][]any{
		{"ABC", "Honda", 2020},
		{"DEF", "Ford", 2021},
	}
	require.NoError(t, s.ReplaceTable(context.Background(), "cars", columns, rows))
}

func TestReplaceTableAndQuery(t *testing.T) {
	s := newTestStore(t)
	loadCars(t, s)

	result, err := s.Query(context.Background(), "SELECT vin, make, year FROM cars ORDER BY vin")
	require.NoError(t, err)

	assert.Equal(t, []string{"vin", "make", "year"}, result.Columns)
	assert.Equal(t, 2, result.RowCount)
	assert.Equal(t, "ABC", result.Rows[0][0])
	assert.Equal(t, int64(2020), result.Rows[0][2])
}

func TestReplaceTableIsWholesale(t *testing.T) {
	s := newTestStore(t)
	loadCars(t, s)

	columns := []Column{{Name: "vin", Type: "TEXT"}}
	require.NoError(t, s.ReplaceTable(context.Background(), "cars", columns, [][]any{{"XYZ"}}))

	infos, err := s.ListTables(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].RowCount)
	assert.Equal(t, []string{"vin"}, infos[0].Columns)
}

func TestQueryRejectsNonSelect(t *testing.T) {
	s := newTestStore(t)
	loadCars(t, s)

	_, err := s.Query(context.Background(), "DROP TABLE cars")
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrUnsafeQuery)
	var verr *security.ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Contains(t, err.Error(), "SELECT")

	// table survives
	infos, err := s.ListTables(context.Background())
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestTableSchema(t *testing.T) {
	s := newTestStore(t)
	loadCars(t, s)

	schema, err := s.TableSchema(context.Background(), "cars")
	require.NoError(t, err)

	assert.Equal(t, "cars", schema.Name)
	assert.Equal(t, 2, schema.RowCount)
	require.Len(t, schema.Columns, 3)
	assert.Equal(t, "vin", schema.Columns[0].Name)
	assert.True(t, schema.Columns[0].PrimaryKey)
	assert.Equal(t, "INTEGER", schema.Columns[2].Type)
	assert.Len(t, schema.Samples, 2)
}

func TestSchemaCard(t *testing.T) {
	s := newTestStore(t)

	card, err := s.SchemaCard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "No tables loaded.", card)

	loadCars(t, s)
	card, err = s.SchemaCard(context.Background())
	require.NoError(t, err)
	assert.Contains(t, card, "Table cars (2 rows)")
	assert.Contains(t, card, "vin TEXT [primary key]")
}

func TestPreviewLimit(t *testing.T) {
	s := newTestStore(t)
	loadCars(t, s)

	records, err := s.Preview(context.Background(), "cars", 1)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDropTable(t *testing.T) {
	s := newTestStore(t)
	loadCars(t, s)

	require.NoError(t, s.DropTable(context.Background(), "cars"))

	err := s.DropTable(context.Background(), "cars")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.TableSchema(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Preview(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FetchRecords(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchRecords(t *testing.T) {
	s := newTestStore(t)
	loadCars(t, s)

	records, err := s.FetchRecords(context.Background(), "cars")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Honda", recordByVIN(records, "ABC")["make"])
}

func recordByVIN(records []map[string]any, vin string) map[string]any {
	for _, r := range records {
		if r["vin"] == vin {
			return r
		}
	}
	return nil
}
