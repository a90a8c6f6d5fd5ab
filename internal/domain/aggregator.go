package domain

import (
	"fmt"
	"sort"
)

// InstrumentationSource is a port that provides instrumentation maps.
// The actual implementation (run cache plus instrumenter) lives in the
// infrastructure layer.
type InstrumentationSource interface {
	// Lookup returns the map for key, reusing a cached map when it is still valid.
	Lookup(key FileKey) (InstrumentationMap, error)
	// Fresh instruments key from its current content, bypassing any cache.
	Fresh(key FileKey) (InstrumentationMap, error)
}

// TestCounts carries the test outcome reported by a worker.
type TestCounts struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Add returns the sum of two counts.
func (t TestCounts) Add(other TestCounts) TestCounts {
	return TestCounts{Passed: t.Passed + other.Passed, Failed: t.Failed + other.Failed}
}

// Partial is the coverage produced by one isolated execution context.
type Partial struct {
	Worker string
	Store  *CoverageStore
	Tests  TestCounts
	// Substituted lists declared modules that a test double replaced at load time.
	Substituted []FileKey
}

// AggregationInput contains the input data for coverage aggregation.
type AggregationInput struct {
	Scope    Scope
	Partials []Partial
}

// AggregationResult is the final store plus what happened while building it.
type AggregationResult struct {
	Store        *CoverageStore
	Tests        TestCounts
	Placeholders []FileKey
	Dropped      []FileKey
	Mismatches   []*FingerprintMismatchError
	Warnings     []string
}

// CoverageAggregator is a domain service that merges worker partials and
// zero-coverage placeholders into one final store.
type CoverageAggregator struct {
	Source InstrumentationSource
}

// NewCoverageAggregator creates a new CoverageAggregator with the given source.
func NewCoverageAggregator(source InstrumentationSource) *CoverageAggregator {
	return &CoverageAggregator{Source: source}
}

// Aggregate builds the final store. The order of input.Partials does not
// affect the result.
func (a *CoverageAggregator) Aggregate(input AggregationInput) (AggregationResult, error) {
	result := AggregationResult{}
	scope := input.Scope

	keep, refreshed := a.resolveConflicts(input.Partials, &result)

	covered := make(map[FileKey]bool)
	partials := make([]*CoverageStore, 0, len(input.Partials))
	for _, p := range input.Partials {
		result.Tests = result.Tests.Add(p.Tests)
		store := p.Store
		if store == nil {
			continue
		}
		store = filterConflicts(store, keep)
		for _, key := range store.Keys() {
			covered[key] = true
		}
		partials = append(partials, store)
	}

	base := NewStore()
	for _, key := range a.placeholderKeys(input, covered, refreshed) {
		m, ok := refreshed[key]
		if !ok {
			var err error
			m, err = a.Source.Lookup(key)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: cannot instrument: %v", key, err))
				continue
			}
		}
		if base.InsertPlaceholder(m) {
			result.Placeholders = append(result.Placeholders, key)
		}
	}

	final, err := MergeAll(append([]*CoverageStore{base}, partials...)...)
	if err != nil {
		return AggregationResult{}, fmt.Errorf("merge partials: %w", err)
	}

	for _, key := range final.Keys() {
		record, _ := final.Get(key)
		switch scope.Classify(key) {
		case Excluded:
			final.Remove(key)
			result.Dropped = append(result.Dropped, key)
		case OutOfScope:
			if scope.Mode == ScopeOnly {
				final.Remove(key)
				result.Dropped = append(result.Dropped, key)
				continue
			}
			record.InScope = false
		case InScope:
			record.InScope = true
		}
	}

	result.Store = final
	return result, nil
}

// resolveConflicts finds keys reported with more than one map identity and
// re-instruments them. It returns the identity to keep per conflicting key
// ("" drops every record) and the fresh maps that were computed.
func (a *CoverageAggregator) resolveConflicts(partials []Partial, result *AggregationResult) (map[FileKey]string, map[FileKey]InstrumentationMap) {
	seen := make(map[FileKey]map[string]bool)
	for _, p := range partials {
		if p.Store == nil {
			continue
		}
		for _, r := range p.Store.Records() {
			ids, ok := seen[r.Key()]
			if !ok {
				ids = make(map[string]bool)
				seen[r.Key()] = ids
			}
			ids[r.Map.Identity()] = true
		}
	}

	keep := make(map[FileKey]string)
	refreshed := make(map[FileKey]InstrumentationMap)
	for key, ids := range seen {
		if len(ids) < 2 {
			continue
		}
		fresh, err := a.Source.Fresh(key)
		if err != nil {
			keep[key] = ""
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: dropped, conflicting instrumentation and source unreadable: %v", key, err))
		} else {
			keep[key] = fresh.Identity()
			refreshed[key] = fresh
		}
		for _, id := range sortedIdentities(ids) {
			if id == keep[key] {
				continue
			}
			result.Mismatches = append(result.Mismatches, &FingerprintMismatchError{Key: key, Left: keep[key], Right: id})
		}
	}
	sort.Slice(result.Mismatches, func(i, j int) bool {
		if result.Mismatches[i].Key == result.Mismatches[j].Key {
			return result.Mismatches[i].Right < result.Mismatches[j].Right
		}
		return result.Mismatches[i].Key.Less(result.Mismatches[j].Key)
	})
	return keep, refreshed
}

// placeholderKeys lists the keys that need a zero-coverage placeholder.
// Conflicting keys whose every record was discarded fall back to their fresh map.
func (a *CoverageAggregator) placeholderKeys(input AggregationInput, covered map[FileKey]bool, refreshed map[FileKey]InstrumentationMap) []FileKey {
	want := make(map[FileKey]bool)
	for _, key := range input.Scope.Declared {
		want[key] = true
	}
	for key := range refreshed {
		want[key] = true
	}
	if input.Scope.Mode == ScopeExecution {
		for _, p := range input.Partials {
			for _, key := range p.Substituted {
				want[key] = true
			}
		}
	}
	keys := make([]FileKey, 0, len(want))
	for key := range want {
		if !covered[key] {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// filterConflicts returns store without the records whose identity lost a conflict.
func filterConflicts(store *CoverageStore, keep map[FileKey]string) *CoverageStore {
	var drop []FileKey
	for key, id := range keep {
		if r, ok := store.Get(key); ok && r.Map.Identity() != id {
			drop = append(drop, key)
		}
	}
	if len(drop) == 0 {
		return store
	}
	filtered := store.Clone()
	for _, key := range drop {
		filtered.Remove(key)
	}
	return filtered
}

func sortedIdentities(ids map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
