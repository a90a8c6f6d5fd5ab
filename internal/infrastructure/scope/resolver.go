// Package scope resolves the declared coverage scope from inclusion and exclusion patterns.
package scope

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

var caseInsensitive = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// skippedDirs are never descended into while expanding patterns.
var skippedDirs = map[string]bool{"node_modules": true}

// PatternError reports a malformed glob pattern.
type PatternError struct {
	Pattern string
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid glob pattern %q", e.Pattern)
}

// Is makes errors.Is(err, domain.ErrInvalidPattern) work.
func (e *PatternError) Is(target error) bool {
	return target == domain.ErrInvalidPattern
}

// Resolver expands patterns against the file system.
type Resolver struct {
	Logger *slog.Logger
}

// Resolve computes the declared scope. Without inclusion patterns the scope
// is execution-derived; explicit "only" paths take precedence over patterns.
func (r Resolver) Resolve(ctx context.Context, req application.ScopeRequest) (domain.Scope, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if len(req.Only) > 0 {
		matcher, err := NewMatcher(req.Root, nil, req.Exclude, logger)
		if err != nil {
			return domain.Scope{}, err
		}
		keys, err := onlyKeys(req.Root, req.Only)
		if err != nil {
			return domain.Scope{}, err
		}
		return domain.NewScope(domain.ScopeOnly, keys, matcher), nil
	}

	matcher, err := NewMatcher(req.Root, req.Include, req.Exclude, logger)
	if err != nil {
		return domain.Scope{}, err
	}
	if len(matcher.include) == 0 {
		return domain.NewScope(domain.ScopeExecution, nil, matcher), nil
	}

	seen := make(map[domain.FileKey]bool)
	for _, base := range walkBases(req.Root, matcher.include) {
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if p != base && (strings.HasPrefix(d.Name(), ".") || skippedDirs[d.Name()]) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			key, err := domain.NewFileKey(p)
			if err != nil || seen[key] {
				return nil
			}
			if matcher.Includes(key) && !matcher.Excludes(key) {
				seen[key] = true
			}
			return nil
		})
		if err != nil {
			return domain.Scope{}, fmt.Errorf("walk %s: %w", base, err)
		}
	}

	keys := make([]domain.FileKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	logger.Debug("declared scope expanded", "patterns", len(matcher.include), "files", len(keys))
	return domain.NewScope(domain.ScopeDeclared, keys, matcher), nil
}

// walkBases returns the deepest literal directory of every pattern, without
// directories already covered by another base.
func walkBases(root string, patterns []string) []string {
	var bases []string
	for _, p := range patterns {
		base, _ := doublestar.SplitPattern(p)
		if !strings.HasPrefix(p, "/") {
			base = path.Join(filepath.ToSlash(root), base)
		}
		bases = append(bases, filepath.FromSlash(base))
	}
	sort.Strings(bases)

	var out []string
	for _, b := range bases {
		if len(out) > 0 {
			last := out[len(out)-1]
			if b == last || strings.HasPrefix(b, last+string(filepath.Separator)) {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

func onlyKeys(root string, paths []string) ([]domain.FileKey, error) {
	seen := make(map[domain.FileKey]bool)
	var keys []domain.FileKey
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		key, err := domain.NewFileKey(p)
		if err != nil {
			return nil, err
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys, nil
}
