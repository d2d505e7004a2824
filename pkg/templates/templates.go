// Package templates holds the embedded vertical template bundles that
// seed the knowledge store: scoring factors, business rules, metrics,
// canned queries, and prompt overrides per business vertical.
package templates

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var bundles embed.FS

// ScoringFactor is one weighted predicate inside a scoring category.
type ScoringFactor struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Weight      int    `yaml:"weight" json:"weight"`
	Calculation string `yaml:"calculation" json:"calculation"`
}

// BusinessRule flags a condition on a record at a given severity.
type BusinessRule struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Condition   string `yaml:"condition" json:"condition"`
	Severity    string `yaml:"severity" json:"severity"`
}

// Metric describes a tracked business number with alert thresholds.
type Metric struct {
	Description   string  `yaml:"description" json:"description"`
	Target        float64 `yaml:"target" json:"target"`
	Warning       float64 `yaml:"warning" json:"warning"`
	Critical      float64 `yaml:"critical" json:"critical"`
	LowerIsBetter bool    `yaml:"lower_is_better" json:"lower_is_better"`
}

// Template is one vertical bundle.
type Template struct {
	Name            string                     `yaml:"name" json:"name"`
	DisplayName     string                     `yaml:"display_name" json:"display_name"`
	Description     string                     `yaml:"description" json:"description"`
	PrimaryKeyHints []string                   `yaml:"primary_key_hints" json:"primary_key_hints"`
	RequiredColumns []string                   `yaml:"required_columns" json:"required_columns"`
	OptionalColumns []string                   `yaml:"optional_columns" json:"optional_columns"`
	Scoring         map[string][]ScoringFactor `yaml:"scoring" json:"scoring"`
	Rules           []BusinessRule             `yaml:"rules" json:"rules"`
	Metrics         map[string]Metric          `yaml:"metrics" json:"metrics"`
	Queries         map[string]string          `yaml:"queries" json:"queries"`
	Prompts         map[string]string          `yaml:"prompts" json:"prompts"`
}

// List returns the names of all embedded templates, sorted.
func List() []string {
	entries, err := bundles.ReadDir("templates")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Load parses the named template bundle.
func Load(name string) (*Template, error) {
	data, err := bundles.ReadFile("templates/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown template %q (available: %s)", name, strings.Join(List(), ", "))
	}

	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template %q: %w", name, err)
	}
	if tmpl.Name == "" {
		tmpl.Name = name
	}
	return &tmpl, nil
}

// ValidateColumns checks an uploaded data source against the template's
// column expectations. Missing required columns are errors; missing
// optional columns are returned as notes.
func (t *Template) ValidateColumns(columns []string) (missing []string, notes []string) {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[strings.ToLower(c)] = struct{}{}
	}
	for _, req := range t.RequiredColumns {
		if _, ok := have[strings.ToLower(req)]; !ok {
			missing = append(missing, req)
		}
	}
	for _, opt := range t.OptionalColumns {
		if _, ok := have[strings.ToLower(opt)]; !ok {
			notes = append(notes, fmt.Sprintf("optional column %q not present", opt))
		}
	}
	return missing, notes
}
