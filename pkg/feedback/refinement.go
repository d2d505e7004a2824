package feedback

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/datapilot-io/datapilot/pkg/knowledge"
)

const (
	// minEntries is the feedback volume below which the analyzer only
	// reports insufficient data.
	minEntries = 10

	// minFactorRatings is the smallest sample for a per-factor proposal.
	minFactorRatings = 3

	// negativeRateThreshold triggers a weight-reduction proposal.
	negativeRateThreshold = 0.3

	// DefaultConfidenceFloor is the minimum confidence Apply accepts
	// when the caller does not set one.
	DefaultConfidenceFloor = 0.7
)

// Proposal suggests lowering one factor's weight.
type Proposal struct {
	Category      string  `json:"category"`
	Factor        string  `json:"factor"`
	CurrentWeight int     `json:"current_weight"`
	NewWeight     int     `json:"new_weight"`
	NegativeRate  float64 `json:"negative_rate"`
	Ratings       int     `json:"ratings"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
}

// Analysis is the full analyzer output.
type Analysis struct {
	Entries   int        `json:"entries_analyzed"`
	Proposals []Proposal `json:"proposals"`
	Notes     []string   `json:"notes"`
}

// Analyzer derives refinement proposals from recent feedback.
type Analyzer struct {
	store     *Store
	knowledge *knowledge.Store
}

// NewAnalyzer binds the analyzer to its stores.
func NewAnalyzer(store *Store, ks *knowledge.Store) *Analyzer {
	return &Analyzer{store: store, knowledge: ks}
}

// Analyze examines the last `days` of feedback. Below minEntries it
// only emits an insufficient-data note.
func (a *Analyzer) Analyze(ctx context.Context, days int) (*Analysis, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	entries, err := a.store.History(ctx, Filter{Since: since})
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{Entries: len(entries), Proposals: []Proposal{}}
	if len(entries) < minEntries {
		analysis.Notes = append(analysis.Notes,
			fmt.Sprintf("insufficient data: %d entries in the last %d days (need %d)",
				len(entries), days, minEntries))
		return analysis, nil
	}

	a.proposeWeightAdjustments(entries, analysis)
	a.mineOutcomes(entries, analysis)

	positive := 0
	for _, e := range entries {
		if e.Rating > 0 {
			positive++
		}
	}
	satisfaction := float64(positive) / float64(len(entries))
	if satisfaction < 0.5 {
		analysis.Notes = append(analysis.Notes,
			fmt.Sprintf("overall satisfaction is low: %.0f%% positive", satisfaction*100))
	}

	return analysis, nil
}

// proposeWeightAdjustments groups scoring feedback per (category,
// factor) and proposes floor(weight * (1 - 0.5*negRate)) when the
// negative rate crosses the threshold.
func (a *Analyzer) proposeWeightAdjustments(entries []Entry, analysis *Analysis) {
	type key struct{ category, factor string }
	ratings := make(map[key][]int)

	for _, e := range entries {
		if e.Type != TypeScoring || e.Context == nil {
			continue
		}
		category, _ := e.Context["category"].(string)
		factor, _ := e.Context["factor"].(string)
		if category == "" || factor == "" {
			continue
		}
		k := key{category, factor}
		ratings[k] = append(ratings[k], e.Rating)
	}

	for k, rs := range ratings {
		if len(rs) < minFactorRatings {
			continue
		}
		negative := 0
		for _, r := range rs {
			if r < 0 {
				negative++
			}
		}
		negRate := float64(negative) / float64(len(rs))
		if negRate <= negativeRateThreshold {
			continue
		}

		current := a.currentWeight(k.category, k.factor)
		if current < 0 {
			continue
		}
		newWeight := int(math.Floor(float64(current) * (1 - 0.5*negRate)))
		if newWeight < 0 {
			newWeight = 0
		}

		analysis.Proposals = append(analysis.Proposals, Proposal{
			Category:      k.category,
			Factor:        k.factor,
			CurrentWeight: current,
			NewWeight:     newWeight,
			NegativeRate:  negRate,
			Ratings:       len(rs),
			Confidence:    math.Min(float64(len(rs))/20.0, 1.0),
			Reason: fmt.Sprintf("%.0f%% of %d ratings were negative",
				negRate*100, len(rs)),
		})
	}
}

// mineOutcomes attaches a success-rate note for recommendations with
// recorded outcomes.
func (a *Analyzer) mineOutcomes(entries []Entry, analysis *Analysis) {
	var withOutcome, successes int
	for _, e := range entries {
		if e.Type != TypeRecommendation || e.Outcome == "" {
			continue
		}
		withOutcome++
		if outcomeSucceeded(e.Outcome) {
			successes++
		}
	}
	if withOutcome == 0 {
		return
	}
	rate := float64(successes) / float64(withOutcome)
	analysis.Notes = append(analysis.Notes,
		fmt.Sprintf("recommendation outcomes: %d tracked, %.0f%% successful", withOutcome, rate*100))
}

var successKeywords = []string{"success", "worked", "improved", "sold", "resolved", "better"}
var failureKeywords = []string{"fail", "worse", "no change", "unsold", "declined"}

func outcomeSucceeded(outcome string) bool {
	lower := strings.ToLower(outcome)
	for _, kw := range failureKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, kw := range successKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (a *Analyzer) currentWeight(category, factor string) int {
	for _, f := range a.knowledge.ScoringFactors(category) {
		if f.Name == factor {
			return f.Weight
		}
	}
	return -1
}

// Apply mutates the knowledge store with every proposal meeting the
// confidence floor. Returns a per-factor success map keyed
// "category/factor".
func (a *Analyzer) Apply(ctx context.Context, proposals []Proposal, confidenceFloor float64) map[string]bool {
	if confidenceFloor <= 0 {
		confidenceFloor = DefaultConfidenceFloor
	}

	results := make(map[string]bool, len(proposals))
	for _, p := range proposals {
		key := p.Category + "/" + p.Factor
		if p.Confidence < confidenceFloor {
			results[key] = false
			continue
		}
		weight := p.NewWeight
		if weight < 0 {
			weight = 0
		}
		err := a.knowledge.UpdateFactor(p.Category, p.Factor, &weight, nil)
		results[key] = err == nil
	}
	return results
}
