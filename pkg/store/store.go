// Package store wraps the embedded SQLite engine that holds ingested
// tables. All identifier interpolation goes through the quoter; raw
// query execution is gated by the security validator.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/datapilot-io/datapilot/pkg/security"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound indicates the named table does not exist.
	ErrNotFound = errors.New("table not found")

	// ErrUnsafeQuery indicates a query passed parsing but failed the
	// read-only check.
	ErrUnsafeQuery = errors.New("unsafe query")
)

// Column describes one column of an ingested table.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
}

// TableInfo is the listing entry for one table.
type TableInfo struct {
	Name     string   `json:"name"`
	RowCount int      `json:"row_count"`
	Columns  []string `json:"columns"`
}

// TableSchema is the full introspection result for one table.
type TableSchema struct {
	Name     string           `json:"name"`
	Columns  []Column         `json:"columns"`
	RowCount int              `json:"row_count"`
	Samples  []map[string]any `json:"samples"`
}

// QueryResult carries a fully materialized SELECT result.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
	SQL      string   `json:"sql"`
}

// Store owns one SQLite handle per process.
// Writers are serialized by the engine; table replacement runs in a
// single transaction so readers never observe a partial table.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the relational store at path.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceTable atomically drops and recreates the named table with the
// given columns and bulk-loads rows. Row values are positional per the
// column order.
func (s *Store) ReplaceTable(ctx context.Context, name string, columns []Column, rows [][]any) error {
	if err := security.ValidateIdentifier(name); err != nil {
		return err
	}
	if len(columns) == 0 {
		return &security.ValidationError{Reason: "table must have at least one column"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	quoted := security.QuoteIdentifier(name)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoted); err != nil {
		return fmt.Errorf("failed to drop existing table: %w", err)
	}

	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		def := security.QuoteIdentifier(col.Name) + " " + columnType(col.Type)
		if col.PrimaryKey {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quoted, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	if len(rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",")
		insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoted, placeholders)
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, row := range rows {
			if len(row) != len(columns) {
				return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("failed to insert row %d: %w", i, err)
			}
		}
	}

	return tx.Commit()
}

// DropTable removes the named table.
func (s *Store) DropTable(ctx context.Context, name string) error {
	if err := security.ValidateIdentifier(name); err != nil {
		return err
	}
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	_, err = s.db.ExecContext(ctx, "DROP TABLE "+security.QuoteIdentifier(name))
	if err != nil {
		return fmt.Errorf("failed to drop table %s: %w", name, err)
	}
	return nil
}

// ListTables returns every user table with its row count and columns.
func (s *Store) ListTables(ctx context.Context) ([]TableInfo, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]TableInfo, 0, len(names))
	for _, name := range names {
		count, err := s.rowCount(ctx, name)
		if err != nil {
			return nil, err
		}
		cols, err := s.columnNames(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, TableInfo{Name: name, RowCount: count, Columns: cols})
	}
	return infos, nil
}

// Schema introspects every table: columns with types, row counts, and
// up to 3 sample rows per table.
func (s *Store) Schema(ctx context.Context) ([]TableSchema, error) {
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	schemas := make([]TableSchema, 0, len(names))
	for _, name := range names {
		schema, err := s.TableSchema(ctx, name)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, *schema)
	}
	return schemas, nil
}

// TableSchema introspects a single table.
func (s *Store) TableSchema(ctx context.Context, name string) (*TableSchema, error) {
	if err := security.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", security.QuoteIdentifier(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", name, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column info: %w", err)
		}
		columns = append(columns, Column{
			Name:       colName,
			Type:       colType,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	count, err := s.rowCount(ctx, name)
	if err != nil {
		return nil, err
	}

	samples, err := s.Preview(ctx, name, 3)
	if err != nil {
		return nil, err
	}

	return &TableSchema{
		Name:     name,
		Columns:  columns,
		RowCount: count,
		Samples:  samples,
	}, nil
}

// SchemaCard renders a compact human-readable schema summary for LLM
// prompts.
func (s *Store) SchemaCard(ctx context.Context) (string, error) {
	schemas, err := s.Schema(ctx)
	if err != nil {
		return "", err
	}
	if len(schemas) == 0 {
		return "No tables loaded.", nil
	}

	var b strings.Builder
	for _, schema := range schemas {
		fmt.Fprintf(&b, "Table %s (%d rows):\n", schema.Name, schema.RowCount)
		for _, col := range schema.Columns {
			marker := ""
			if col.PrimaryKey {
				marker = " [primary key]"
			}
			fmt.Fprintf(&b, "  - %s %s%s\n", col.Name, col.Type, marker)
		}
	}
	return b.String(), nil
}

// Preview returns up to limit rows of the named table as records.
func (s *Store) Preview(ctx context.Context, name string, limit int) ([]map[string]any, error) {
	if err := security.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	limit, err := security.ValidateLimit(limit)
	if err != nil {
		return nil, err
	}
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", security.QuoteIdentifier(name), limit)
	result, err := s.execSelect(ctx, query)
	if err != nil {
		return nil, err
	}
	return result.Records(), nil
}

// FetchRecords returns every row of the named table as records. Used by
// the scoring and insight engines.
func (s *Store) FetchRecords(ctx context.Context, name string) ([]map[string]any, error) {
	if err := security.ValidateIdentifier(name); err != nil {
		return nil, err
	}
	exists, err := s.tableExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	result, err := s.execSelect(ctx, "SELECT * FROM "+security.QuoteIdentifier(name))
	if err != nil {
		return nil, err
	}
	return result.Records(), nil
}

// Query validates and executes a read-only SELECT. Rejected queries
// wrap ErrUnsafeQuery alongside the validator's reason.
func (s *Store) Query(ctx context.Context, rawSQL string) (*QueryResult, error) {
	if err := security.ValidateQuery(rawSQL); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsafeQuery, err)
	}
	return s.execSelect(ctx, rawSQL)
}

// Records converts positional rows to column-keyed records.
func (r *QueryResult) Records() []map[string]any {
	records := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		record := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			record[col] = row[i]
		}
		records = append(records, record)
	}
	return records
}

func (s *Store) execSelect(ctx context.Context, query string) (*QueryResult, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &QueryResult{Columns: columns, SQL: query}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

func (s *Store) tableExists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return count > 0, nil
}

func (s *Store) tableNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) rowCount(ctx context.Context, name string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+security.QuoteIdentifier(name)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", name, err)
	}
	return count, nil
}

// columnNames returns the ordered column names of a table.
func (s *Store) columnNames(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("PRAGMA table_info(%s)", security.QuoteIdentifier(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect table %s: %w", name, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid     int
			colName string
			colType string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		names = append(names, colName)
	}
	return names, rows.Err()
}

// columnType maps a declared column type to its SQLite affinity.
func columnType(t string) string {
	switch strings.ToUpper(t) {
	case "INTEGER":
		return "INTEGER"
	case "REAL":
		return "REAL"
	case "BOOLEAN":
		return "BOOLEAN"
	case "DATETIME":
		return "DATETIME"
	default:
		return "TEXT"
	}
}
