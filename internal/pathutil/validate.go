// Package pathutil resolves output paths without letting them leave their directory.
package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath   = errors.New("empty path")
	ErrNullBytes   = errors.New("path contains null bytes")
	ErrEscapesBase = errors.New("path escapes its base directory")
)

// Within joins name to base and returns the cleaned path. Absolute names are
// taken as given. A relative name that climbs out of base is rejected, and so
// is an existing symlink that resolves outside base.
func Within(base, name string) (string, error) {
	if name == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(name, "\x00") {
		return "", ErrNullBytes
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}

	cleaned := filepath.Clean(name)
	if climbs(cleaned) {
		return "", ErrEscapesBase
	}
	joined := filepath.Join(base, cleaned)

	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		// not created yet
		return joined, nil
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		realBase = filepath.Clean(base)
	}
	rel, err := filepath.Rel(realBase, real)
	if err != nil || climbs(rel) {
		return "", ErrEscapesBase
	}
	return joined, nil
}

func climbs(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
