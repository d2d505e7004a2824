// Package pii scans ingested records for personally identifiable
// information and masks matched values.
package pii

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PII types reported by the scanner.
const (
	TypeSSN        = "ssn"
	TypePhone      = "phone"
	TypeEmail      = "email"
	TypeCreditCard = "credit_card"
	TypeIP         = "ip_address"
	TypeMRN        = "medical_record"
	TypeDOB        = "date_of_birth"
)

// maxSamples bounds the sample matches retained in a report.
const maxSamples = 5

type pattern struct {
	piiType string
	re      *regexp.Regexp
}

// Ordered so that more specific patterns win over general ones; an SSN
// also matches the phone pattern, so SSN is checked first.
var patterns = []pattern{
	{TypeSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{TypeCreditCard, regexp.MustCompile(`\b(?:4\d{3}|5[1-5]\d{2}|3[47]\d{2}|6(?:011|5\d{2}))[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{3,4}\b`)},
	{TypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{TypePhone, regexp.MustCompile(`(?:\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{TypeIP, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{TypeMRN, regexp.MustCompile(`\b(?i:mrn)[:#\s-]{0,2}\d{6,10}\b`)},
	{TypeDOB, regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])/(?:0?[1-9]|[12]\d|3[01])/(?:19|20)\d{2}\b`)},
}

// columnHints maps column-name substrings to the PII type they suggest.
// A hint fires even when no value matches a pattern.
var columnHints = map[string]string{
	"ssn":       TypeSSN,
	"social":    TypeSSN,
	"phone":     TypePhone,
	"mobile":    TypePhone,
	"telephone": TypePhone,
	"email":     TypeEmail,
	"e_mail":    TypeEmail,
	"dob":       TypeDOB,
	"birth":     TypeDOB,
	"mrn":       TypeMRN,
	"patient":   TypeMRN,
	"credit":    TypeCreditCard,
	"card_num":  TypeCreditCard,
	"ip_addr":   TypeIP,
}

// SampleMatch is one redacted example retained in a report.
type SampleMatch struct {
	Type   string `json:"type"`
	Column string `json:"column"`
	Masked string `json:"masked"`
}

// Report summarizes one scan over a batch of records.
type Report struct {
	Total          int            `json:"total"`
	RecordsWithPII int            `json:"records_with_pii"`
	CountsByType   map[string]int `json:"counts_by_type"`
	ColumnsWithPII []string       `json:"columns_with_pii"`
	SampleMatches  []SampleMatch  `json:"sample_matches"`
	Warnings       []string       `json:"warnings"`
}

// HasPII reports whether the scan found any matches or hints.
func (r *Report) HasPII() bool {
	return r.RecordsWithPII > 0 || len(r.Warnings) > 0
}

// Summary renders a one-line human-readable digest for upload responses.
func (r *Report) Summary() string {
	if !r.HasPII() {
		return fmt.Sprintf("No PII detected in %d records", r.Total)
	}
	types := make([]string, 0, len(r.CountsByType))
	for t := range r.CountsByType {
		types = append(types, t)
	}
	sort.Strings(types)
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s: %d", t, r.CountsByType[t]))
	}
	return fmt.Sprintf("PII detected in %d of %d records (%s); %d column warnings",
		r.RecordsWithPII, r.Total, strings.Join(parts, ", "), len(r.Warnings))
}

// Scan inspects every scalar string in records, plus the column names
// themselves, and produces a report.
func Scan(records []map[string]any) *Report {
	report := &Report{
		Total:        len(records),
		CountsByType: make(map[string]int),
	}

	columnsSeen := make(map[string]struct{})
	hintedColumns := make(map[string]struct{})

	for _, record := range records {
		recordHasPII := false
		for col, value := range record {
			if _, seen := columnsSeen[col]; !seen {
				columnsSeen[col] = struct{}{}
				if piiType, ok := hintForColumn(col); ok {
					hintedColumns[col] = struct{}{}
					report.Warnings = append(report.Warnings,
						fmt.Sprintf("column %q suggests %s data", col, piiType))
				}
			}

			str, ok := value.(string)
			if !ok || str == "" {
				continue
			}

			piiType, ok := detect(str)
			if !ok {
				continue
			}

			recordHasPII = true
			report.CountsByType[piiType]++
			if !containsString(report.ColumnsWithPII, col) {
				report.ColumnsWithPII = append(report.ColumnsWithPII, col)
			}
			if len(report.SampleMatches) < maxSamples {
				report.SampleMatches = append(report.SampleMatches, SampleMatch{
					Type:   piiType,
					Column: col,
					Masked: Mask(piiType, str),
				})
			}
		}
		if recordHasPII {
			report.RecordsWithPII++
		}
	}

	sort.Strings(report.ColumnsWithPII)
	sort.Strings(report.Warnings)
	return report
}

// Detect returns the PII type of a scalar string, if any.
func Detect(value string) (string, bool) {
	return detect(value)
}

func detect(value string) (string, bool) {
	for _, p := range patterns {
		if p.re.MatchString(value) {
			return p.piiType, true
		}
	}
	return "", false
}

// Mask rewrites the matched spans of value according to the masking rule
// for piiType. Unmatched text is left untouched.
func Mask(piiType, value string) string {
	for _, p := range patterns {
		if p.piiType != piiType {
			continue
		}
		return p.re.ReplaceAllStringFunc(value, func(m string) string {
			return maskMatch(piiType, m)
		})
	}
	return maskGeneric(value)
}

// MaskRecord returns a copy of record with every detected value masked.
func MaskRecord(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for col, value := range record {
		str, ok := value.(string)
		if !ok {
			out[col] = value
			continue
		}
		if piiType, found := detect(str); found {
			out[col] = Mask(piiType, str)
		} else {
			out[col] = value
		}
	}
	return out
}

func maskMatch(piiType, m string) string {
	switch piiType {
	case TypeSSN, TypePhone, TypeCreditCard, TypeMRN:
		return maskKeepLastDigits(m, 4)
	case TypeEmail:
		return maskEmail(m)
	case TypeIP:
		return maskIP(m)
	default:
		return maskGeneric(m)
	}
}

// maskKeepLastDigits stars out all digits except the trailing keep,
// preserving separators.
func maskKeepLastDigits(s string, keep int) string {
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	toMask := digits - keep
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' && toMask > 0 {
			b.WriteByte('*')
			toMask--
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// maskEmail keeps the local part's first character and the domain:
// "john@x.com" -> "j***@x.com".
func maskEmail(s string) string {
	at := strings.IndexByte(s, '@')
	if at <= 0 {
		return maskGeneric(s)
	}
	return s[:1] + "***" + s[at:]
}

// maskIP keeps the first three octets: "10.0.0.12" -> "10.0.0.xxx".
func maskIP(s string) string {
	idx := strings.LastIndexByte(s, '.')
	if idx < 0 {
		return maskGeneric(s)
	}
	return s[:idx+1] + "xxx"
}

// maskGeneric keeps the first character and stars the rest.
func maskGeneric(s string) string {
	if len(s) <= 1 {
		return "*"
	}
	return s[:1] + strings.Repeat("*", len(s)-1)
}

func hintForColumn(col string) (string, bool) {
	lower := strings.ToLower(col)
	for hint, piiType := range columnHints {
		if strings.Contains(lower, hint) {
			return piiType, true
		}
	}
	return "", false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
