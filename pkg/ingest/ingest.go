// Package ingest loads CSV uploads into the relational store: column
// canonicalization, type inference, primary key detection, PII
// scanning, and optional vector indexing.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/datapilot-io/datapilot/pkg/pii"
	"github.com/datapilot-io/datapilot/pkg/security"
	"github.com/datapilot-io/datapilot/pkg/store"
	"github.com/datapilot-io/datapilot/pkg/templates"
	"github.com/datapilot-io/datapilot/pkg/vector"
)

// Result reports one completed ingestion.
type Result struct {
	TableName       string            `json:"table_name"`
	RowsImported    int               `json:"rows_imported"`
	Columns         []string          `json:"columns"`
	ColumnTypes     map[string]string `json:"column_types"`
	PrimaryKey      string            `json:"primary_key,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	RecordsEmbedded int               `json:"records_embedded"`
	PII             *pii.Report       `json:"pii,omitempty"`
}

// Options tune one ingestion.
type Options struct {
	// TableName is the requested table name; it gets sanitized.
	TableName string

	// PrimaryKey names the key column explicitly, overriding template
	// hints.
	PrimaryKey string

	// SkipEmbedding leaves the upload out of the vector index.
	SkipEmbedding bool
}

// Ingestor coordinates an upload across the store, the PII scanner,
// and the vector index.
type Ingestor struct {
	store    *store.Store
	engine   *vector.Engine
	template *templates.Template
}

// New builds an ingestor. The vector engine may be nil; embedding is
// then skipped with a warning.
func New(st *store.Store, engine *vector.Engine, tmpl *templates.Template) *Ingestor {
	return &Ingestor{store: st, engine: engine, template: tmpl}
}

// IngestCSV parses, types, stores, scans, and indexes one CSV upload.
func (ing *Ingestor) IngestCSV(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	header, rows, err := parseCSV(r)
	if err != nil {
		return nil, err
	}

	result := &Result{ColumnTypes: make(map[string]string)}

	columns, renames := CanonicalizeColumns(header)
	result.Warnings = append(result.Warnings, renames...)
	result.Columns = columns

	tableName := security.SanitizeIdentifier(opts.TableName)
	if tableName != opts.TableName {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("table name %q sanitized to %q", opts.TableName, tableName))
	}
	result.TableName = tableName

	types := inferColumnTypes(columns, rows)
	for i, col := range columns {
		result.ColumnTypes[col] = types[i]
	}

	pk, pkUnique, pkWarnings := ing.detectPrimaryKey(columns, rows, opts.PrimaryKey)
	result.PrimaryKey = pk
	result.Warnings = append(result.Warnings, pkWarnings...)

	if ing.template != nil {
		missing, notes := ing.template.ValidateColumns(columns)
		for _, m := range missing {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("column %q required by the %s template is missing", m, ing.template.Name))
		}
		result.Warnings = append(result.Warnings, notes...)
	}

	storeCols := make([]store.Column, len(columns))
	for i, col := range columns {
		// A key with duplicate values keeps its designation for joins
		// and stable vector ids, but the constraint is not enforced.
		storeCols[i] = store.Column{
			Name:       col,
			Type:       types[i],
			Nullable:   col != pk || !pkUnique,
			PrimaryKey: col == pk && pkUnique,
		}
	}

	typedRows := make([][]any, len(rows))
	for i, row := range rows {
		typed := make([]any, len(columns))
		for j := range columns {
			typed[j] = convertValue(row[j], types[j])
		}
		typedRows[i] = typed
	}

	if err := ing.store.ReplaceTable(ctx, tableName, storeCols, typedRows); err != nil {
		return nil, err
	}
	result.RowsImported = len(typedRows)

	records := make([]map[string]any, len(typedRows))
	for i, row := range typedRows {
		rec := make(map[string]any, len(columns))
		for j, col := range columns {
			rec[col] = row[j]
		}
		records[i] = rec
	}

	result.PII = pii.Scan(records)

	if !opts.SkipEmbedding {
		if ing.engine == nil {
			result.Warnings = append(result.Warnings, "vector index unavailable, records not embedded")
		} else {
			upsert, err := ing.engine.UpsertRecords(ctx, tableName, records, pk)
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("embedding failed after %d records: %v", upsert.Embedded, err))
				result.RecordsEmbedded = upsert.Embedded
			} else {
				result.RecordsEmbedded = upsert.Embedded
			}
		}
	}

	return result, nil
}

// parseCSV reads the whole file, pads or rejects ragged rows, and
// rejects empty and non-UTF-8 input.
func parseCSV(r io.Reader) ([]string, [][]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, nil, &security.ValidationError{Reason: "upload is empty"}
	}
	if !utf8.Valid(data) {
		return nil, nil, &security.ValidationError{Reason: "upload is not valid UTF-8"}
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, &security.ValidationError{Reason: fmt.Sprintf("malformed CSV: %v", err)}
	}
	if len(all) == 0 {
		return nil, nil, &security.ValidationError{Reason: "upload has no header row"}
	}

	header := all[0]
	if len(header) == 0 {
		return nil, nil, &security.ValidationError{Reason: "upload has no columns"}
	}

	rows := make([][]string, 0, len(all)-1)
	for _, row := range all[1:] {
		// Pad short rows; truncate long ones to the header width.
		if len(row) < len(header) {
			padded := make([]string, len(header))
			copy(padded, row)
			row = padded
		} else if len(row) > len(header) {
			row = row[:len(header)]
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, nil, &security.ValidationError{Reason: "upload has no data rows"}
	}

	return header, rows, nil
}

// CanonicalizeColumns lowercases headers, replaces runs of non-word
// characters with underscores, and deduplicates. It returns the
// canonical names and a warning per changed header.
func CanonicalizeColumns(header []string) ([]string, []string) {
	columns := make([]string, len(header))
	var warnings []string
	used := make(map[string]bool, len(header))

	for i, raw := range header {
		name := canonicalName(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if used[name] {
			base := name
			for n := 2; ; n++ {
				name = fmt.Sprintf("%s_%d", base, n)
				if !used[name] {
					break
				}
			}
		}
		used[name] = true

		if name != raw {
			warnings = append(warnings, fmt.Sprintf("column %q renamed to %q", raw, name))
		}
		columns[i] = name
	}
	return columns, warnings
}

func canonicalName(raw string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	name := strings.Trim(b.String(), "_")
	if name == "" {
		return ""
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	if security.IsReservedKeyword(name) {
		name += "_col"
	}
	return name
}

// datetimeLayouts are the accepted date formats, most specific first.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
}

// inferColumnTypes walks the ladder INTEGER, REAL, BOOLEAN, DATETIME,
// TEXT per column. Empty cells are ignored; a column of only empty
// cells is TEXT.
func inferColumnTypes(columns []string, rows [][]string) []string {
	types := make([]string, len(columns))
	for i := range columns {
		types[i] = inferType(rows, i)
	}
	return types
}

func inferType(rows [][]string, col int) string {
	isInt, isReal, isBool, isDate := true, true, true, true
	sawValue := false

	for _, row := range rows {
		v := strings.TrimSpace(row[col])
		if v == "" {
			continue
		}
		sawValue = true

		if isInt {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				isInt = false
			}
		}
		if isReal {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				isReal = false
			}
		}
		if isBool && !isBoolLiteral(v) {
			isBool = false
		}
		if isDate && !isDateLiteral(v) {
			isDate = false
		}
		if !isInt && !isReal && !isBool && !isDate {
			return "TEXT"
		}
	}

	switch {
	case !sawValue:
		return "TEXT"
	case isInt:
		return "INTEGER"
	case isReal:
		return "REAL"
	case isBool:
		return "BOOLEAN"
	case isDate:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func isBoolLiteral(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func isDateLiteral(v string) bool {
	for _, layout := range datetimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

// convertValue types a raw cell for storage. Empty cells become NULL.
func convertValue(raw, colType string) any {
	v := strings.TrimSpace(raw)
	if v == "" {
		return nil
	}

	switch colType {
	case "INTEGER":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case "BOOLEAN":
		switch strings.ToLower(v) {
		case "true", "yes":
			return true
		case "false", "no":
			return false
		}
	}
	return v
}

// detectPrimaryKey picks the key column: an explicit choice wins, then
// the first template hint present in the columns. Duplicate or empty
// key values keep the designation but are surfaced as a warning; the
// uniqueness flag tells the caller not to enforce a constraint.
func (ing *Ingestor) detectPrimaryKey(columns []string, rows [][]string, explicit string) (string, bool, []string) {
	var warnings []string

	candidate := ""
	if explicit != "" {
		if !containsColumn(columns, explicit) {
			warnings = append(warnings,
				fmt.Sprintf("requested primary key %q not found in columns", explicit))
		} else {
			candidate = explicit
		}
	}

	if candidate == "" && ing.template != nil {
		for _, hint := range ing.template.PrimaryKeyHints {
			if containsColumn(columns, hint) {
				candidate = hint
				break
			}
		}
	}
	if candidate == "" {
		return "", false, warnings
	}

	idx := columnIndex(columns, candidate)
	unique := true
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		v := strings.TrimSpace(row[idx])
		if v == "" || seen[v] {
			warnings = append(warnings,
				fmt.Sprintf("primary key %q has duplicate or empty values - may cause issues with joins", candidate))
			unique = false
			break
		}
		seen[v] = true
	}
	return candidate, unique, warnings
}

func containsColumn(columns []string, name string) bool {
	return columnIndex(columns, name) >= 0
}

func columnIndex(columns []string, name string) int {
	for i, col := range columns {
		if col == name {
			return i
		}
	}
	return -1
}
