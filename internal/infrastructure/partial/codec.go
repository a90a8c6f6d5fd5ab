// Package partial reads and writes the documents workers hand to the aggregator.
package partial

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/felixgeelhaar/covkit/internal/domain"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/codec"
)

// discoverPattern matches plain and compressed partial documents and lcov
// tracefiles at any depth.
const discoverPattern = "**/*.{json,json.zst,info,info.zst}"

// Codec encodes partial documents as JSON, compressed when the file name ends in .zst.
// Files ending in .info are read as lcov tracefiles.
type Codec struct{}

type document struct {
	Worker      string                   `json:"worker"`
	Tests       domain.TestCounts        `json:"tests"`
	Substituted []domain.FileKey         `json:"substituted,omitempty"`
	Records     []*domain.CoverageRecord `json:"records"`
}

// Discover lists the partial documents below dir in lexical order. Files
// equal to or below one of the skip paths are left out.
func (Codec) Discover(dir string, skip ...string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), discoverPattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	skipped := make([]string, 0, len(skip))
	for _, s := range skip {
		if s == "" {
			continue
		}
		abs, err := filepath.Abs(s)
		if err != nil {
			return nil, err
		}
		skipped = append(skipped, abs)
	}
	sort.Strings(matches)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		path := filepath.Join(dir, filepath.FromSlash(m))
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		if within(abs, skipped) {
			continue
		}
		out = append(out, path)
	}
	return out, nil
}

func within(path string, dirs []string) bool {
	for _, d := range dirs {
		if path == d || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Read decodes one document. Records for the same file inside one document are summed.
func (Codec) Read(path string) (domain.Partial, error) {
	// #nosec G304 -- partial paths are given by the caller
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Partial{}, err
	}
	data, err := codec.Decode(path, raw)
	if err != nil {
		return domain.Partial{}, fmt.Errorf("decompress: %w", err)
	}
	var doc document
	if strings.HasSuffix(strings.TrimSuffix(path, codec.ZstdExt), LCOVExt) {
		if doc.Records, err = readLCOV(bytes.NewReader(data), filepath.Dir(path)); err != nil {
			return domain.Partial{}, err
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return domain.Partial{}, fmt.Errorf("decode: %w", err)
		}
	}

	store := domain.NewStore()
	for i, r := range doc.Records {
		if r == nil {
			return domain.Partial{}, fmt.Errorf("record %d is empty", i)
		}
		if err := r.Map.Validate(); err != nil {
			return domain.Partial{}, fmt.Errorf("record %d: %w", i, err)
		}
		if err := store.Add(r); err != nil {
			return domain.Partial{}, fmt.Errorf("record %d: %w", i, err)
		}
	}
	worker := doc.Worker
	if worker == "" {
		worker = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return domain.Partial{Worker: worker, Store: store, Tests: doc.Tests, Substituted: doc.Substituted}, nil
}

// Write encodes p to path, creating parent directories.
func (Codec) Write(path string, p domain.Partial) error {
	doc := document{Worker: p.Worker, Tests: p.Tests, Substituted: p.Substituted}
	if p.Store != nil {
		doc.Records = p.Store.Records()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if strings.HasSuffix(path, codec.ZstdExt) {
		if data, err = codec.Compress(data); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
