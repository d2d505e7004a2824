package scoring

import (
	"fmt"
	"sort"

	"github.com/datapilot-io/datapilot/pkg/knowledge"
	"github.com/datapilot-io/datapilot/pkg/templates"
)

// Score buckets for the distribution histogram.
var bucketThresholds = []struct {
	name string
	min  float64
}{
	{"excellent", 80},
	{"good", 60},
	{"average", 40},
	{"below_average", 20},
	{"poor", 0},
}

// CompiledFactor pairs a factor with its parsed predicate. A factor
// whose calculation fails to parse always scores zero and carries the
// diagnostic.
type CompiledFactor struct {
	Factor    templates.ScoringFactor
	Predicate *Predicate
	ParseErr  error
}

// RecordScore is the scoring result for one row.
type RecordScore struct {
	Record     map[string]any `json:"record"`
	Score      int            `json:"score"`
	MaxScore   int            `json:"max_score"`
	Percentage float64        `json:"percentage"`
	Passed     []string       `json:"passed_factors"`
	Failed     []string       `json:"failed_factors"`
	Notes      []string       `json:"notes,omitempty"`
}

// Distribution summarizes scores across a table.
type Distribution struct {
	Count   int            `json:"count"`
	Min     float64        `json:"min"`
	Max     float64        `json:"max"`
	Mean    float64        `json:"mean"`
	Buckets map[string]int `json:"buckets"`
}

// FactorPerformance reports how often one factor passed.
type FactorPerformance struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Weight       int     `json:"weight"`
	Achieved     int     `json:"achieved"`
	Total        int     `json:"total"`
	AchievedRate float64 `json:"achieved_rate"`
}

// Engine scores records against the knowledge store's rubric.
type Engine struct {
	knowledge *knowledge.Store
}

// NewEngine returns an engine bound to a knowledge store.
func NewEngine(ks *knowledge.Store) *Engine {
	return &Engine{knowledge: ks}
}

// Compile loads and parses the factors of a category. Unknown
// categories compile to an empty set.
func (e *Engine) Compile(category string) []CompiledFactor {
	factors := e.knowledge.ScoringFactors(category)
	compiled := make([]CompiledFactor, 0, len(factors))
	for _, f := range factors {
		pred, err := Parse(f.Calculation)
		compiled = append(compiled, CompiledFactor{Factor: f, Predicate: pred, ParseErr: err})
	}
	return compiled
}

// ScoreRecord evaluates every factor against one record.
func ScoreRecord(factors []CompiledFactor, record map[string]any) RecordScore {
	result := RecordScore{Record: record}
	for _, cf := range factors {
		result.MaxScore += cf.Factor.Weight
		if cf.ParseErr != nil {
			result.Failed = append(result.Failed, cf.Factor.Name)
			result.Notes = append(result.Notes,
				fmt.Sprintf("factor %s skipped: %v", cf.Factor.Name, cf.ParseErr))
			continue
		}
		if cf.Predicate.Eval(record) {
			result.Score += cf.Factor.Weight
			result.Passed = append(result.Passed, cf.Factor.Name)
		} else {
			result.Failed = append(result.Failed, cf.Factor.Name)
		}
	}
	if result.MaxScore > 0 {
		result.Percentage = float64(result.Score) / float64(result.MaxScore) * 100
	}
	return result
}

// ScoreTable scores every record of a category, optionally sorted by
// percentage descending and truncated to limit (0 means all).
func (e *Engine) ScoreTable(category string, records []map[string]any, sortDesc bool, limit int) []RecordScore {
	factors := e.Compile(category)
	scores := make([]RecordScore, 0, len(records))
	for _, record := range records {
		scores = append(scores, ScoreRecord(factors, record))
	}
	if sortDesc {
		sort.SliceStable(scores, func(i, j int) bool {
			return scores[i].Percentage > scores[j].Percentage
		})
	}
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	return scores
}

// Distribute computes the score distribution over scored records.
func Distribute(scores []RecordScore) Distribution {
	dist := Distribution{
		Count:   len(scores),
		Buckets: make(map[string]int, len(bucketThresholds)),
	}
	for _, b := range bucketThresholds {
		dist.Buckets[b.name] = 0
	}
	if len(scores) == 0 {
		return dist
	}

	dist.Min = scores[0].Percentage
	dist.Max = scores[0].Percentage
	sum := 0.0
	for _, s := range scores {
		if s.Percentage < dist.Min {
			dist.Min = s.Percentage
		}
		if s.Percentage > dist.Max {
			dist.Max = s.Percentage
		}
		sum += s.Percentage
		dist.Buckets[bucketFor(s.Percentage)]++
	}
	dist.Mean = sum / float64(len(scores))
	return dist
}

// FactorPerformances reports pass rates per factor over records.
func FactorPerformances(factors []CompiledFactor, records []map[string]any) []FactorPerformance {
	perfs := make([]FactorPerformance, 0, len(factors))
	for _, cf := range factors {
		perf := FactorPerformance{
			Name:        cf.Factor.Name,
			Description: cf.Factor.Description,
			Weight:      cf.Factor.Weight,
			Total:       len(records),
		}
		if cf.ParseErr == nil {
			for _, record := range records {
				if cf.Predicate.Eval(record) {
					perf.Achieved++
				}
			}
		}
		if perf.Total > 0 {
			perf.AchievedRate = float64(perf.Achieved) / float64(perf.Total)
		}
		perfs = append(perfs, perf)
	}
	return perfs
}

func bucketFor(percentage float64) string {
	for _, b := range bucketThresholds {
		if percentage >= b.min {
			return b.name
		}
	}
	return "poor"
}
