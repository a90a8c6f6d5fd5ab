package domain

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned for malformed glob patterns.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// GlobalSelector is the selector covering every in-scope record.
const GlobalSelector = "global"

// SelectorKind says how a threshold selector picks records.
type SelectorKind string

const (
	SelectorGlobal SelectorKind = "global"
	SelectorGlob   SelectorKind = "glob"
	SelectorPath   SelectorKind = "path"
)

// Status is the outcome of one threshold check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// ThresholdRule holds the per-category requirements of one selector.
type ThresholdRule struct {
	Selector string
	Kind     SelectorKind
	Minimums map[Category]Threshold
}

// NewThresholdRule classifies selector and validates glob syntax.
func NewThresholdRule(selector string, minimums map[Category]Threshold) (ThresholdRule, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return ThresholdRule{}, fmt.Errorf("threshold selector cannot be empty")
	}
	kind := SelectorPath
	switch {
	case selector == GlobalSelector:
		kind = SelectorGlobal
	case strings.ContainsAny(selector, "*?[{"):
		if !doublestar.ValidatePattern(selector) {
			return ThresholdRule{}, fmt.Errorf("%w: threshold selector %q", ErrInvalidPattern, selector)
		}
		kind = SelectorGlob
	default:
		selector = strings.TrimSuffix(path.Clean(strings.ReplaceAll(selector, "\\", "/")), "/")
	}
	return ThresholdRule{Selector: selector, Kind: kind, Minimums: minimums}, nil
}

// matches reports whether key falls under the rule. Relative selectors are
// resolved against root.
func (r ThresholdRule) matches(key FileKey, root string) bool {
	rel := key.Rel(root)
	switch r.Kind {
	case SelectorGlobal:
		return true
	case SelectorGlob:
		pattern := r.Selector
		if caseInsensitiveFS {
			pattern = strings.ToLower(pattern)
		}
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		ok, _ := doublestar.Match(pattern, key.String())
		return ok
	default:
		sel := r.Selector
		if caseInsensitiveFS {
			sel = strings.ToLower(sel)
		}
		for _, candidate := range []string{rel, key.String()} {
			if candidate == sel || strings.HasPrefix(candidate, sel+"/") {
				return true
			}
		}
		return false
	}
}

// ThresholdSpec is the ordered list of configured rules.
type ThresholdSpec struct {
	Rules []ThresholdRule
}

// IsEmpty reports whether no thresholds are configured.
func (s ThresholdSpec) IsEmpty() bool {
	return len(s.Rules) == 0
}

// CategoryResult is the check of one category under one selector.
type CategoryResult struct {
	Category Category  `json:"category"`
	Covered  int       `json:"covered"`
	Total    int       `json:"total"`
	Percent  float64   `json:"percent"`
	Required Threshold `json:"required"`
	Status   Status    `json:"status"`
}

// IsFailing returns true if the category misses its requirement.
func (c CategoryResult) IsFailing() bool {
	return c.Status == StatusFail
}

// Message describes a failing check the way it is printed on stderr.
func (c CategoryResult) Message(selector string) string {
	stat := CategoryStat{Covered: c.Covered, Total: c.Total}
	if c.Required.IsUncoveredLimit() {
		return fmt.Sprintf("coverage threshold for %s (%s) not met: %d uncovered, at most %d allowed",
			c.Category, selector, stat.Uncovered(), int(-c.Required.Value()))
	}
	return fmt.Sprintf("coverage threshold for %s (%s) not met: %.2f%% < %g%%",
		c.Category, selector, c.Percent, c.Required.Value())
}

// SelectorResult groups the category checks of one rule.
type SelectorResult struct {
	Selector   string           `json:"selector"`
	Kind       SelectorKind     `json:"kind"`
	Files      int              `json:"files"`
	Categories []CategoryResult `json:"categories"`
	Status     Status           `json:"status"`
	// NoData is set when a non-global selector matched no in-scope file.
	NoData bool `json:"noData,omitempty"`
}

// ThresholdResult is the full evaluation.
type ThresholdResult struct {
	Selectors []SelectorResult `json:"selectors"`
	Passed    bool             `json:"passed"`
}

// Violations lists human-readable messages for every failure.
func (r ThresholdResult) Violations() []string {
	var out []string
	for _, s := range r.Selectors {
		if s.NoData {
			out = append(out, fmt.Sprintf("coverage data for %s was not found", s.Selector))
			continue
		}
		for _, c := range s.Categories {
			if c.IsFailing() {
				out = append(out, c.Message(s.Selector))
			}
		}
	}
	return out
}

// FailingCount returns the number of failed selectors.
func (r ThresholdResult) FailingCount() int {
	n := 0
	for _, s := range r.Selectors {
		if s.Status == StatusFail {
			n++
		}
	}
	return n
}

// Evaluate checks every rule of spec against the in-scope records of store.
// The store is only read.
func Evaluate(spec ThresholdSpec, store *CoverageStore, root string) ThresholdResult {
	result := ThresholdResult{Passed: true}
	records := store.InScopeRecords()

	for _, rule := range spec.Rules {
		var summary FileSummary
		files := 0
		for _, r := range records {
			if rule.matches(r.Key(), root) {
				summary = summary.Add(r.Summary())
				files++
			}
		}

		sr := SelectorResult{Selector: rule.Selector, Kind: rule.Kind, Files: files, Status: StatusPass}
		if rule.Kind != SelectorGlobal && files == 0 {
			sr.NoData = true
			sr.Status = StatusFail
		}
		for _, c := range sortedCategories(rule.Minimums) {
			required := rule.Minimums[c]
			stat := summary.Stat(c)
			cr := CategoryResult{
				Category: c,
				Covered:  stat.Covered,
				Total:    stat.Total,
				Percent:  stat.Percent(),
				Required: required,
				Status:   StatusPass,
			}
			if !sr.NoData && !required.IsMet(stat) {
				cr.Status = StatusFail
				sr.Status = StatusFail
			}
			sr.Categories = append(sr.Categories, cr)
		}
		if sr.Status == StatusFail {
			result.Passed = false
		}
		result.Selectors = append(result.Selectors, sr)
	}
	return result
}

// sortedCategories returns the categories of m in reporting order.
func sortedCategories(m map[Category]Threshold) []Category {
	out := make([]Category, 0, len(m))
	for _, c := range Categories {
		if _, ok := m[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SortRules orders rules with global first and the rest by selector.
func SortRules(rules []ThresholdRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if (rules[i].Kind == SelectorGlobal) != (rules[j].Kind == SelectorGlobal) {
			return rules[i].Kind == SelectorGlobal
		}
		return rules[i].Selector < rules[j].Selector
	})
}
