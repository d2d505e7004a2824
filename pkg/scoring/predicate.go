// Package scoring evaluates the declarative rubric against records:
// predicates are parsed once per factor, then evaluated row by row.
package scoring

import (
	"fmt"
	"strconv"
	"strings"
)

type predicateKind int

const (
	predNotNull predicateKind = iota
	predEquals
	predCompare
	predRatio
)

type compareOp int

const (
	opLT compareOp = iota
	opLE
	opGT
	opGE
)

// Predicate is one parsed calculation from the grammar:
//
//	col IS NOT NULL
//	col = value
//	col < v | col <= v | col > v | col >= v
//	a / b > v
type Predicate struct {
	kind      predicateKind
	column    string
	denom     string
	op        compareOp
	threshold float64
	equals    string
}

// Parse compiles a calculation string. Unknown forms return an error;
// the engine treats a factor with a parse error as always failing.
func Parse(expr string) (*Predicate, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("empty predicate")
	}

	if upper := strings.ToUpper(trimmed); strings.HasSuffix(upper, " IS NOT NULL") {
		column := strings.TrimSpace(trimmed[:len(trimmed)-len(" IS NOT NULL")])
		if !isColumnName(column) {
			return nil, fmt.Errorf("invalid column in predicate %q", expr)
		}
		return &Predicate{kind: predNotNull, column: column}, nil
	}

	// Ratio form: a / b > v
	if slash := strings.Index(trimmed, "/"); slash >= 0 {
		numer := strings.TrimSpace(trimmed[:slash])
		rest := strings.TrimSpace(trimmed[slash+1:])
		gt := strings.Index(rest, ">")
		if gt < 0 {
			return nil, fmt.Errorf("ratio predicate %q must use >", expr)
		}
		denom := strings.TrimSpace(rest[:gt])
		threshold, err := strconv.ParseFloat(strings.TrimSpace(rest[gt+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold in predicate %q", expr)
		}
		if !isColumnName(numer) || !isColumnName(denom) {
			return nil, fmt.Errorf("invalid column in predicate %q", expr)
		}
		return &Predicate{kind: predRatio, column: numer, denom: denom, threshold: threshold}, nil
	}

	// Comparison operators, longest first so <= is not read as <.
	for _, cand := range []struct {
		token string
		op    compareOp
	}{
		{"<=", opLE}, {">=", opGE}, {"<", opLT}, {">", opGT},
	} {
		if idx := strings.Index(trimmed, cand.token); idx >= 0 {
			column := strings.TrimSpace(trimmed[:idx])
			threshold, err := strconv.ParseFloat(strings.TrimSpace(trimmed[idx+len(cand.token):]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid threshold in predicate %q", expr)
			}
			if !isColumnName(column) {
				return nil, fmt.Errorf("invalid column in predicate %q", expr)
			}
			return &Predicate{kind: predCompare, column: column, op: cand.op, threshold: threshold}, nil
		}
	}

	if idx := strings.Index(trimmed, "="); idx >= 0 {
		column := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		value = strings.Trim(value, `'"`)
		if !isColumnName(column) || value == "" {
			return nil, fmt.Errorf("invalid equality predicate %q", expr)
		}
		return &Predicate{kind: predEquals, column: column, equals: value}, nil
	}

	return nil, fmt.Errorf("unrecognized predicate %q", expr)
}

// Eval applies the predicate to a record. Missing columns, unparsable
// numbers, and zero denominators all fail the predicate; they are never
// errors.
func (p *Predicate) Eval(record map[string]any) bool {
	switch p.kind {
	case predNotNull:
		value, ok := record[p.column]
		if !ok || value == nil {
			return false
		}
		if s, isStr := value.(string); isStr {
			trimmed := strings.TrimSpace(s)
			return trimmed != "" && !strings.EqualFold(trimmed, "null") && !strings.EqualFold(trimmed, "none")
		}
		return true

	case predEquals:
		value, ok := record[p.column]
		if !ok || value == nil {
			return false
		}
		if want, err := strconv.ParseBool(p.equals); err == nil {
			if got, ok := boolValue(value); ok {
				return got == want
			}
		}
		if want, err := strconv.ParseFloat(p.equals, 64); err == nil {
			if got, ok := numericValue(value); ok {
				return got == want
			}
		}
		return strings.EqualFold(fmt.Sprintf("%v", value), p.equals)

	case predCompare:
		got, ok := numericValue(record[p.column])
		if !ok {
			return false
		}
		switch p.op {
		case opLT:
			return got < p.threshold
		case opLE:
			return got <= p.threshold
		case opGT:
			return got > p.threshold
		case opGE:
			return got >= p.threshold
		}
		return false

	case predRatio:
		numer, ok := numericValue(record[p.column])
		if !ok {
			return false
		}
		denom, ok := numericValue(record[p.denom])
		if !ok || denom == 0 {
			return false
		}
		return numer/denom > p.threshold
	}
	return false
}

// String renders the predicate back in grammar form.
func (p *Predicate) String() string {
	switch p.kind {
	case predNotNull:
		return p.column + " IS NOT NULL"
	case predEquals:
		return fmt.Sprintf("%s = %s", p.column, p.equals)
	case predCompare:
		ops := map[compareOp]string{opLT: "<", opLE: "<=", opGT: ">", opGE: ">="}
		return fmt.Sprintf("%s %s %g", p.column, ops[p.op], p.threshold)
	case predRatio:
		return fmt.Sprintf("%s / %s > %g", p.column, p.denom, p.threshold)
	}
	return ""
}

func isColumnName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case nil:
		return 0, false
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func boolValue(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	case int, int64:
		f, _ := numericValue(v)
		return f != 0, true
	default:
		return false, false
	}
}
