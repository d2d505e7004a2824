// Package insights runs analytical passes over stored tables and emits
// prioritized findings.
package insights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/datapilot-io/datapilot/pkg/store"
)

// Insight types.
const (
	TypeTrend       = "trend"
	TypeAnomaly     = "anomaly"
	TypeOpportunity = "opportunity"
	TypeRisk        = "risk"
	TypeMilestone   = "milestone"
	TypeComparison  = "comparison"
)

// Priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Analysis thresholds.
const (
	outlierSigma        = 3.0
	outlierShareAlert   = 0.01
	agingHighShare      = 0.10
	agingMediumShare    = 0.15
	freshOpportunity    = 0.70
	dominantValueShare  = 0.60
	minRowsForCategoric = 10
	minValuesForStats   = 10
)

// Insight is one emitted finding.
type Insight struct {
	Type            string         `json:"type"`
	Priority        string         `json:"priority"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	DataPoints      map[string]any `json:"data_points,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Table           string         `json:"table,omitempty"`
	Category        string         `json:"category,omitempty"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Report is the full generator output.
type Report struct {
	Insights         []Insight      `json:"insights"`
	CountsByPriority map[string]int `json:"counts_by_priority"`
	CountsByType     map[string]int `json:"counts_by_type"`
	Summary          string         `json:"summary"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// agingColumns are the recognized names for the days-in-inventory
// analysis.
var agingColumns = []string{"days_on_lot", "days_in_stock", "days_on_hand", "age_days", "days_outstanding"}

// Generator analyzes every stored table.
type Generator struct {
	store *store.Store
}

// NewGenerator binds the generator to the relational store.
func NewGenerator(st *store.Store) *Generator {
	return &Generator{store: st}
}

// Generate runs every analyzer over every table and builds the report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	tables, err := g.store.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	var insights []Insight
	for _, table := range tables {
		records, err := g.store.FetchRecords(ctx, table.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s for analysis: %w", table.Name, err)
		}
		insights = append(insights, AnalyzeTable(table.Name, records)...)
	}

	return buildReport(insights), nil
}

// HighPriority returns only high and critical findings.
func (g *Generator) HighPriority(ctx context.Context) ([]Insight, error) {
	report, err := g.Generate(ctx)
	if err != nil {
		return nil, err
	}
	out := []Insight{}
	for _, ins := range report.Insights {
		if ins.Priority == PriorityHigh || ins.Priority == PriorityCritical {
			out = append(out, ins)
		}
	}
	return out, nil
}

// ByCategory returns findings for a single category.
func (g *Generator) ByCategory(ctx context.Context, category string) ([]Insight, error) {
	report, err := g.Generate(ctx)
	if err != nil {
		return nil, err
	}
	out := []Insight{}
	for _, ins := range report.Insights {
		if ins.Category == category {
			out = append(out, ins)
		}
	}
	return out, nil
}

// AnalyzeTable runs the numeric-outlier, aging, and categorical passes
// over one table's records.
func AnalyzeTable(table string, records []map[string]any) []Insight {
	if len(records) == 0 {
		return nil
	}

	now := time.Now().UTC()
	var insights []Insight

	columns := columnNames(records)
	for _, col := range columns {
		if isAgingColumn(col) {
			insights = append(insights, analyzeAging(table, col, records, now)...)
			continue
		}
		if values, ok := numericColumn(col, records); ok {
			if ins, found := analyzeOutliers(table, col, values, now); found {
				insights = append(insights, ins)
			}
			continue
		}
		if ins, found := analyzeCategorical(table, col, records, now); found {
			insights = append(insights, ins)
		}
	}
	return insights
}

// analyzeOutliers computes mean and variance in one pass and flags
// columns whose beyond-3-sigma share exceeds 1%.
func analyzeOutliers(table, col string, values []float64, now time.Time) (Insight, bool) {
	if len(values) < minValuesForStats {
		return Insight{}, false
	}

	var sum, sumSq float64
	for _, v := range values {
		sum += v
		sumSq += v * v
	}
	n := float64(len(values))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return Insight{}, false
	}

	threshold := mean + outlierSigma*stddev
	outliers := 0
	for _, v := range values {
		if v > threshold {
			outliers++
		}
	}
	share := float64(outliers) / n
	if share <= outlierShareAlert {
		return Insight{}, false
	}

	return Insight{
		Type:     TypeAnomaly,
		Priority: PriorityMedium,
		Title:    fmt.Sprintf("Outliers in %s.%s", table, col),
		Description: fmt.Sprintf("%d of %d values (%.1f%%) sit above mean + 3 standard deviations (%.2f)",
			outliers, len(values), share*100, threshold),
		DataPoints: map[string]any{
			"column":        col,
			"mean":          mean,
			"stddev":        stddev,
			"outlier_count": outliers,
			"outlier_share": share,
		},
		Recommendations: []string{
			fmt.Sprintf("Review the extreme values in %q for data quality or exceptional cases", col),
		},
		Table:       table,
		Category:    "data_quality",
		GeneratedAt: now,
	}, true
}

// analyzeAging buckets an aging column and emits inventory-health
// findings.
func analyzeAging(table, col string, records []map[string]any, now time.Time) []Insight {
	var values []float64
	for _, record := range records {
		if v, ok := toFloat(record[col]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}

	buckets := map[string]int{"0-30": 0, "31-60": 0, "61-90": 0, "90+": 0}
	for _, v := range values {
		switch {
		case v <= 30:
			buckets["0-30"]++
		case v <= 60:
			buckets["31-60"]++
		case v <= 90:
			buckets["61-90"]++
		default:
			buckets["90+"]++
		}
	}

	n := float64(len(values))
	var insights []Insight

	if share := float64(buckets["90+"]) / n; share > agingHighShare {
		insights = append(insights, Insight{
			Type:     TypeRisk,
			Priority: PriorityHigh,
			Title:    fmt.Sprintf("Aged inventory in %s", table),
			Description: fmt.Sprintf("%d of %d records (%.0f%%) have %s over 90 days",
				buckets["90+"], len(values), share*100, col),
			DataPoints: map[string]any{
				"column":  col,
				"buckets": buckets,
				"share":   share,
			},
			Recommendations: []string{
				"Prioritize aged units for pricing review or wholesale",
			},
			Table:       table,
			Category:    "inventory_health",
			GeneratedAt: now,
		})
	} else if share := float64(buckets["61-90"]) / n; share > agingMediumShare {
		insights = append(insights, Insight{
			Type:     TypeRisk,
			Priority: PriorityMedium,
			Title:    fmt.Sprintf("Inventory approaching age limit in %s", table),
			Description: fmt.Sprintf("%d of %d records (%.0f%%) have %s between 61 and 90 days",
				buckets["61-90"], len(values), share*100, col),
			DataPoints: map[string]any{
				"column":  col,
				"buckets": buckets,
				"share":   share,
			},
			Recommendations: []string{
				"Act before these units cross the 90-day mark",
			},
			Table:       table,
			Category:    "inventory_health",
			GeneratedAt: now,
		})
	}

	if share := float64(buckets["0-30"]) / n; share > freshOpportunity {
		insights = append(insights, Insight{
			Type:     TypeOpportunity,
			Priority: PriorityLow,
			Title:    fmt.Sprintf("Fresh inventory in %s", table),
			Description: fmt.Sprintf("%.0f%% of records have %s of 30 days or less",
				share*100, col),
			DataPoints: map[string]any{
				"column":  col,
				"buckets": buckets,
				"share":   share,
			},
			Table:       table,
			Category:    "inventory_health",
			GeneratedAt: now,
		})
	}

	return insights
}

// analyzeCategorical flags text columns dominated by a single value.
func analyzeCategorical(table, col string, records []map[string]any, now time.Time) (Insight, bool) {
	if len(records) < minRowsForCategoric {
		return Insight{}, false
	}

	counts := make(map[string]int)
	total := 0
	for _, record := range records {
		s, ok := record[col].(string)
		if !ok || s == "" {
			continue
		}
		counts[s]++
		total++
	}
	if total < minRowsForCategoric {
		return Insight{}, false
	}

	topValue := ""
	topCount := 0
	for value, count := range counts {
		if count > topCount {
			topValue, topCount = value, count
		}
	}
	share := float64(topCount) / float64(total)
	if share <= dominantValueShare {
		return Insight{}, false
	}

	return Insight{
		Type:     TypeComparison,
		Priority: PriorityLow,
		Title:    fmt.Sprintf("Dominant value in %s.%s", table, col),
		Description: fmt.Sprintf("%q accounts for %.0f%% of %d values",
			topValue, share*100, total),
		DataPoints: map[string]any{
			"column":    col,
			"top_value": topValue,
			"count":     topCount,
			"share":     share,
		},
		Table:       table,
		Category:    "distribution",
		GeneratedAt: now,
	}, true
}

func buildReport(insights []Insight) *Report {
	report := &Report{
		Insights:         insights,
		CountsByPriority: make(map[string]int),
		CountsByType:     make(map[string]int),
		GeneratedAt:      time.Now().UTC(),
	}
	if insights == nil {
		report.Insights = []Insight{}
	}
	for _, ins := range insights {
		report.CountsByPriority[ins.Priority]++
		report.CountsByType[ins.Type]++
	}

	switch len(insights) {
	case 0:
		report.Summary = "No notable findings across stored tables."
	default:
		high := report.CountsByPriority[PriorityHigh] + report.CountsByPriority[PriorityCritical]
		report.Summary = fmt.Sprintf(
			"%d findings across stored tables, %d of them high priority. Risks: %d, anomalies: %d, opportunities: %d.",
			len(insights), high, report.CountsByType[TypeRisk],
			report.CountsByType[TypeAnomaly], report.CountsByType[TypeOpportunity])
	}
	return report
}

func columnNames(records []map[string]any) []string {
	seen := make(map[string]struct{})
	var cols []string
	for _, record := range records {
		for col := range record {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func isAgingColumn(col string) bool {
	lower := strings.ToLower(col)
	for _, name := range agingColumns {
		if lower == name {
			return true
		}
	}
	return false
}

// numericColumn extracts a column as floats when every non-null value
// parses numeric.
func numericColumn(col string, records []map[string]any) ([]float64, bool) {
	var values []float64
	for _, record := range records {
		v, present := record[col]
		if !present || v == nil {
			continue
		}
		f, ok := toFloat(v)
		if !ok {
			return nil, false
		}
		values = append(values, f)
	}
	return values, len(values) > 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
