// Package instrument declares the countable constructs of source files.
package instrument

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// Version identifies the construct layout produced by this package. Cached
// maps written by another version are discarded.
const Version = "covkit-instrument/1"

// Extractor declares the constructs of one language.
type Extractor interface {
	Name() string
	Extract(key domain.FileKey, content []byte) (Constructs, error)
}

// Constructs is the language-specific part of an InstrumentationMap.
type Constructs struct {
	Statements []domain.Statement
	Branches   []domain.Branch
	Functions  []domain.Function
	Lines      []int
}

// Registry picks an extractor by file extension and falls back to the line
// extractor for everything else.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry returns a registry with the Go extractor registered.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor), fallback: LineExtractor{}}
	r.Register(".go", GoExtractor{})
	return r
}

// Register binds ext (with leading dot) to e, replacing any previous binding.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// For returns the extractor used for key.
func (r *Registry) For(key domain.FileKey) Extractor {
	if e, ok := r.byExt[strings.ToLower(filepath.Ext(key.Base()))]; ok {
		return e
	}
	return r.fallback
}

func (r *Registry) Version() string {
	return Version
}

// Fingerprint is the hex xxhash64 of content.
func (r *Registry) Fingerprint(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// Instrument builds the InstrumentationMap of one file version.
func (r *Registry) Instrument(key domain.FileKey, content []byte) (domain.InstrumentationMap, error) {
	e := r.For(key)
	c, err := e.Extract(key, content)
	if err != nil {
		return domain.InstrumentationMap{}, fmt.Errorf("%s extractor: %w", e.Name(), err)
	}
	m := domain.InstrumentationMap{
		Key:         key,
		Fingerprint: r.Fingerprint(content),
		Version:     Version,
		Statements:  c.Statements,
		Branches:    c.Branches,
		Functions:   c.Functions,
		Lines:       c.Lines,
	}
	if err := m.Validate(); err != nil {
		return domain.InstrumentationMap{}, err
	}
	return m, nil
}
