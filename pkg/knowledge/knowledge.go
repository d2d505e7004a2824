// Package knowledge manages the scoring rubric, business rules, and
// metrics: template defaults merged with a file-backed overlay that
// records operator changes. Overlay writes always persist.
package knowledge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/datapilot-io/datapilot/pkg/security"
	"github.com/datapilot-io/datapilot/pkg/templates"
)

var (
	// ErrNotFound indicates an unknown factor, metric, or custom key.
	ErrNotFound = errors.New("knowledge entry not found")
)

// factorOverride records the only mutable fields of a factor. The
// calculation and name always come from the template.
type factorOverride struct {
	Weight      *int    `json:"weight,omitempty"`
	Description *string `json:"description,omitempty"`
}

// overlay is the persisted JSON document layered over the template.
type overlay struct {
	Scoring map[string]map[string]factorOverride `json:"scoring,omitempty"`
	Rules   []templates.BusinessRule             `json:"rules,omitempty"`
	Custom  map[string]any                       `json:"custom,omitempty"`
}

// Store merges a vertical template with the overlay document.
// Readers copy under a shared lock; writers persist before releasing
// the exclusive lock.
type Store struct {
	mu          sync.RWMutex
	tmpl        *templates.Template
	overlayPath string
	overlay     overlay
}

// NewStore loads the overlay at overlayPath (absent file means empty
// overlay) on top of tmpl.
func NewStore(tmpl *templates.Template, overlayPath string) (*Store, error) {
	s := &Store{
		tmpl:        tmpl,
		overlayPath: overlayPath,
		overlay: overlay{
			Scoring: make(map[string]map[string]factorOverride),
			Custom:  make(map[string]any),
		},
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read knowledge overlay: %w", err)
	}
	if err := json.Unmarshal(data, &s.overlay); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge overlay: %w", err)
	}
	if s.overlay.Scoring == nil {
		s.overlay.Scoring = make(map[string]map[string]factorOverride)
	}
	if s.overlay.Custom == nil {
		s.overlay.Custom = make(map[string]any)
	}
	return s, nil
}

// Template returns the underlying vertical template.
func (s *Store) Template() *templates.Template {
	return s.tmpl
}

// Categories lists the scoring categories, sorted.
func (s *Store) Categories() []string {
	names := make([]string, 0, len(s.tmpl.Scoring))
	for name := range s.tmpl.Scoring {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScoringFactors returns the merged factors of a category, overlay
// winning on weight and description. A missing category yields an empty
// slice, never an error.
func (s *Store) ScoringFactors(category string) []templates.ScoringFactor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mergedFactors(category)
}

// AllScoring returns every category's merged factors.
func (s *Store) AllScoring() map[string][]templates.ScoringFactor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]templates.ScoringFactor, len(s.tmpl.Scoring))
	for category := range s.tmpl.Scoring {
		out[category] = s.mergedFactors(category)
	}
	return out
}

func (s *Store) mergedFactors(category string) []templates.ScoringFactor {
	base, ok := s.tmpl.Scoring[category]
	if !ok {
		return []templates.ScoringFactor{}
	}

	merged := make([]templates.ScoringFactor, len(base))
	copy(merged, base)

	overrides := s.overlay.Scoring[category]
	for i := range merged {
		if ov, ok := overrides[merged[i].Name]; ok {
			if ov.Weight != nil {
				merged[i].Weight = *ov.Weight
			}
			if ov.Description != nil {
				merged[i].Description = *ov.Description
			}
		}
	}
	return merged
}

// UpdateFactor adjusts the weight and/or description of one factor.
// Weights below zero are rejected. The change persists immediately.
func (s *Store) UpdateFactor(category, factor string, weight *int, description *string) error {
	if weight == nil && description == nil {
		return security.NewValidationError("nothing to update for %s/%s", category, factor)
	}
	if weight != nil && *weight < 0 {
		return security.NewValidationError("weight must be non-negative, got %d", *weight)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.factorExists(category, factor) {
		return fmt.Errorf("%w: factor %s/%s", ErrNotFound, category, factor)
	}

	if s.overlay.Scoring[category] == nil {
		s.overlay.Scoring[category] = make(map[string]factorOverride)
	}
	ov := s.overlay.Scoring[category][factor]
	if weight != nil {
		ov.Weight = weight
	}
	if description != nil {
		ov.Description = description
	}
	s.overlay.Scoring[category][factor] = ov

	return s.persist()
}

func (s *Store) factorExists(category, factor string) bool {
	for _, f := range s.tmpl.Scoring[category] {
		if f.Name == factor {
			return true
		}
	}
	return false
}

// Rules returns template rules plus overlay-added rules.
func (s *Store) Rules() []templates.BusinessRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]templates.BusinessRule, 0, len(s.tmpl.Rules)+len(s.overlay.Rules))
	rules = append(rules, s.tmpl.Rules...)
	rules = append(rules, s.overlay.Rules...)
	return rules
}

// AddRule appends a rule to the overlay and persists.
func (s *Store) AddRule(rule templates.BusinessRule) error {
	if rule.Name == "" || rule.Condition == "" {
		return security.NewValidationError("rule requires a name and a condition")
	}
	switch rule.Severity {
	case "info", "warning", "error":
	default:
		return security.NewValidationError("unknown rule severity %q", rule.Severity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay.Rules = append(s.overlay.Rules, rule)
	return s.persist()
}

// Metrics returns the template's metric definitions.
func (s *Store) Metrics() map[string]templates.Metric {
	out := make(map[string]templates.Metric, len(s.tmpl.Metrics))
	for name, m := range s.tmpl.Metrics {
		out[name] = m
	}
	return out
}

// Metric looks up one metric by name.
func (s *Store) Metric(name string) (templates.Metric, error) {
	m, ok := s.tmpl.Metrics[name]
	if !ok {
		return templates.Metric{}, fmt.Errorf("%w: metric %s", ErrNotFound, name)
	}
	return m, nil
}

// SetCustom stores an opaque custom entry and persists.
func (s *Store) SetCustom(key string, value any) error {
	if key == "" {
		return fmt.Errorf("custom key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay.Custom[key] = value
	return s.persist()
}

// Custom reads one custom entry.
func (s *Store) Custom(key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.overlay.Custom[key]
	if !ok {
		return nil, fmt.Errorf("%w: custom key %s", ErrNotFound, key)
	}
	return value, nil
}

// ToMap exports the full merged knowledge state.
func (s *Store) ToMap() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scoring := make(map[string][]templates.ScoringFactor, len(s.tmpl.Scoring))
	for category := range s.tmpl.Scoring {
		scoring[category] = s.mergedFactors(category)
	}

	custom := make(map[string]any, len(s.overlay.Custom))
	for k, v := range s.overlay.Custom {
		custom[k] = v
	}

	rules := make([]templates.BusinessRule, 0, len(s.tmpl.Rules)+len(s.overlay.Rules))
	rules = append(rules, s.tmpl.Rules...)
	rules = append(rules, s.overlay.Rules...)

	return map[string]any{
		"template": s.tmpl.Name,
		"scoring":  scoring,
		"rules":    rules,
		"metrics":  s.Metrics(),
		"custom":   custom,
	}
}

// Card renders the compact human-readable knowledge card used in LLM
// prompts.
func (s *Store) Card() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Business knowledge (%s):\n", s.tmpl.DisplayName)

	categories := make([]string, 0, len(s.tmpl.Scoring))
	for c := range s.tmpl.Scoring {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		fmt.Fprintf(&b, "\nScoring %q:\n", category)
		for _, f := range s.mergedFactors(category) {
			fmt.Fprintf(&b, "  - %s (weight %d): %s [%s]\n", f.Name, f.Weight, f.Description, f.Calculation)
		}
	}

	rules := make([]templates.BusinessRule, 0, len(s.tmpl.Rules)+len(s.overlay.Rules))
	rules = append(rules, s.tmpl.Rules...)
	rules = append(rules, s.overlay.Rules...)
	if len(rules) > 0 {
		b.WriteString("\nRules:\n")
		for _, r := range rules {
			fmt.Fprintf(&b, "  - [%s] %s: %s\n", r.Severity, r.Name, r.Condition)
		}
	}

	if len(s.tmpl.Metrics) > 0 {
		b.WriteString("\nMetrics:\n")
		names := make([]string, 0, len(s.tmpl.Metrics))
		for n := range s.tmpl.Metrics {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			m := s.tmpl.Metrics[n]
			direction := "higher is better"
			if m.LowerIsBetter {
				direction = "lower is better"
			}
			fmt.Fprintf(&b, "  - %s: target %g, warn %g, critical %g (%s)\n",
				n, m.Target, m.Warning, m.Critical, direction)
		}
	}

	return b.String()
}

// persist writes the overlay document atomically. Callers hold the
// write lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.overlay, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge overlay: %w", err)
	}

	dir := filepath.Dir(s.overlayPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create knowledge directory: %w", err)
	}

	tmp := s.overlayPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write knowledge overlay: %w", err)
	}
	if err := os.Rename(tmp, s.overlayPath); err != nil {
		return fmt.Errorf("failed to replace knowledge overlay: %w", err)
	}
	return nil
}
