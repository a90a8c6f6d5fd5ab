package domain

// ScopeMode says how the set of in-scope files is decided.
type ScopeMode string

const (
	// ScopeExecution puts every executed file in scope (no inclusion patterns).
	ScopeExecution ScopeMode = "execution"
	// ScopeDeclared puts exactly the files matched by inclusion patterns in scope.
	ScopeDeclared ScopeMode = "declared"
	// ScopeOnly is ScopeDeclared that also drops every other file from the store.
	ScopeOnly ScopeMode = "only"
)

// ScopeMatcher classifies file keys against the configured patterns.
type ScopeMatcher interface {
	// Includes reports whether key is matched by an inclusion pattern.
	Includes(key FileKey) bool
	// Excludes reports whether key is matched by an exclusion pattern or ignore pragma.
	Excludes(key FileKey) bool
}

// Scope is the declared-scope output of the scope resolver.
type Scope struct {
	Mode     ScopeMode
	Declared []FileKey
	Matcher  ScopeMatcher

	declared map[FileKey]struct{}
}

// NewScope builds a scope from its declared keys.
func NewScope(mode ScopeMode, declared []FileKey, matcher ScopeMatcher) Scope {
	set := make(map[FileKey]struct{}, len(declared))
	for _, k := range declared {
		set[k] = struct{}{}
	}
	return Scope{Mode: mode, Declared: declared, Matcher: matcher, declared: set}
}

// Classification of one key against a scope.
type Classification int

const (
	OutOfScope Classification = iota
	InScope
	Excluded
)

// Classify decides whether key counts for thresholds, is kept only for the
// raw store, or is dropped.
func (s Scope) Classify(key FileKey) Classification {
	if s.Matcher != nil && s.Matcher.Excludes(key) {
		return Excluded
	}
	switch s.Mode {
	case ScopeDeclared, ScopeOnly:
		if s.Matcher != nil && s.Matcher.Includes(key) {
			return InScope
		}
		if _, ok := s.declared[key]; ok {
			return InScope
		}
		return OutOfScope
	default:
		return InScope
	}
}
