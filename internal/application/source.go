package application

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// instrumentationSource serves maps from the run cache and falls back to the
// instrumenter. It implements domain.InstrumentationSource.
type instrumentationSource struct {
	cache        RunCache
	instrumenter Instrumenter
	logger       *slog.Logger

	mu   sync.Mutex
	hits int
}

func newInstrumentationSource(cache RunCache, instrumenter Instrumenter, logger *slog.Logger) *instrumentationSource {
	return &instrumentationSource{cache: cache, instrumenter: instrumenter, logger: logger}
}

func (s *instrumentationSource) Lookup(key domain.FileKey) (domain.InstrumentationMap, error) {
	content, err := os.ReadFile(key.OSPath())
	if err != nil {
		return domain.InstrumentationMap{}, fmt.Errorf("read source: %w", err)
	}
	fingerprint := s.instrumenter.Fingerprint(content)
	if s.cache != nil {
		if entry, ok := s.cache.Get(key); ok && entry.Matches(key, fingerprint, s.instrumenter.Version()) {
			s.mu.Lock()
			s.hits++
			s.mu.Unlock()
			s.logger.Debug("cache hit", "file", key.String())
			return entry.Map, nil
		}
	}
	return s.instrument(key, content)
}

func (s *instrumentationSource) Fresh(key domain.FileKey) (domain.InstrumentationMap, error) {
	content, err := os.ReadFile(key.OSPath())
	if err != nil {
		return domain.InstrumentationMap{}, fmt.Errorf("read source: %w", err)
	}
	return s.instrument(key, content)
}

func (s *instrumentationSource) instrument(key domain.FileKey, content []byte) (domain.InstrumentationMap, error) {
	m, err := s.instrumenter.Instrument(key, content)
	if err != nil {
		return domain.InstrumentationMap{}, fmt.Errorf("instrument: %w", err)
	}
	s.logger.Debug("instrumented", "file", key.String(), "statements", len(m.Statements))
	return m, nil
}

// Hits returns the number of maps served from the cache.
func (s *instrumentationSource) Hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}
