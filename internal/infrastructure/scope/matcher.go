package scope

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// Matcher classifies keys against root-relative doublestar patterns and the
// ignore pragma. It implements domain.ScopeMatcher and is safe for concurrent use.
type Matcher struct {
	root    string
	include []string
	exclude []string
	logger  *slog.Logger

	mu      sync.Mutex
	ignored map[domain.FileKey]bool
}

// NewMatcher validates the patterns and builds a matcher rooted at root.
func NewMatcher(root string, include, exclude []string, logger *slog.Logger) (*Matcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Matcher{root: root, logger: logger, ignored: make(map[domain.FileKey]bool)}
	var err error
	if m.include, err = normalizePatterns(include); err != nil {
		return nil, err
	}
	if m.exclude, err = normalizePatterns(exclude); err != nil {
		return nil, err
	}
	return m, nil
}

// Includes reports whether key matches an inclusion pattern.
func (m *Matcher) Includes(key domain.FileKey) bool {
	return matchAny(m.include, key.Rel(m.root), key.String())
}

// Excludes reports whether key matches an exclusion pattern or carries the ignore pragma.
func (m *Matcher) Excludes(key domain.FileKey) bool {
	if matchAny(m.exclude, key.Rel(m.root), key.String()) {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ignored, ok := m.ignored[key]; ok {
		return ignored
	}
	ignored, err := HasIgnorePragma(key.OSPath())
	if err != nil {
		m.logger.Warn("cannot scan for ignore pragma", "file", key.String(), "error", err)
	}
	m.ignored[key] = ignored
	return ignored
}

func matchAny(patterns []string, rel, abs string) bool {
	for _, p := range patterns {
		target := rel
		if strings.HasPrefix(p, "/") {
			target = abs
		}
		if ok, _ := doublestar.Match(p, target); ok {
			return true
		}
	}
	return false
}

// normalizePatterns converts configured patterns to slash-separated
// doublestar patterns. A trailing "/..." means the whole subtree.
func normalizePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "./")
		if strings.HasSuffix(p, "/...") {
			p = strings.TrimSuffix(p, "/...") + "/**"
		}
		if caseInsensitive {
			p = strings.ToLower(p)
		}
		if !doublestar.ValidatePattern(p) {
			return nil, &PatternError{Pattern: p}
		}
		out = append(out, p)
	}
	return out, nil
}
