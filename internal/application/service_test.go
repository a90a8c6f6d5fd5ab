package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

type fakeConfigLoader struct {
	exists    bool
	cfg       Config
	existsErr error
	loadErr   error
}

func (f fakeConfigLoader) Exists(path string) (bool, error) {
	return f.exists, f.existsErr
}

func (f fakeConfigLoader) Load(path string) (Config, error) {
	return f.cfg, f.loadErr
}

type fakeScopeResolver struct {
	mode     domain.ScopeMode
	declared []domain.FileKey
	err      error
	last     ScopeRequest
}

func (f *fakeScopeResolver) Resolve(_ context.Context, req ScopeRequest) (domain.Scope, error) {
	f.last = req
	if f.err != nil {
		return domain.Scope{}, f.err
	}
	mode := f.mode
	if mode == "" {
		mode = domain.ScopeExecution
	}
	return domain.NewScope(mode, f.declared, nil), nil
}

type fakeCodec struct {
	mu       sync.Mutex
	partials map[string]domain.Partial
	written  map[string]domain.Partial
	skipped  []string
}

func (f *fakeCodec) Discover(dir string, skip ...string) ([]string, error) {
	f.mu.Lock()
	f.skipped = append(f.skipped, skip...)
	f.mu.Unlock()
	var out []string
	for p := range f.partials {
		if filepath.Dir(p) == dir {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeCodec) Read(path string) (domain.Partial, error) {
	p, ok := f.partials[path]
	if !ok {
		return domain.Partial{}, os.ErrNotExist
	}
	return p, nil
}

func (f *fakeCodec) Write(path string, p domain.Partial) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.written == nil {
		f.written = make(map[string]domain.Partial)
	}
	f.written[path] = p
	return nil
}

// lineInstrumenter declares one statement and one line per non-blank line.
type lineInstrumenter struct{}

func (lineInstrumenter) Version() string { return "line/test" }

func (lineInstrumenter) Fingerprint(content []byte) string { return fmt.Sprintf("%x", content) }

func (l lineInstrumenter) Instrument(key domain.FileKey, content []byte) (domain.InstrumentationMap, error) {
	m := domain.InstrumentationMap{Key: key, Fingerprint: l.Fingerprint(content), Version: l.Version()}
	for i, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		m.Statements = append(m.Statements, domain.Statement{ID: len(m.Statements)})
		m.Lines = append(m.Lines, i+1)
	}
	return m, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[domain.FileKey]domain.CachedEntry
	cleared bool
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[domain.FileKey]domain.CachedEntry)}
}

func (c *memCache) Get(key domain.FileKey) (domain.CachedEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *memCache) Put(e domain.CachedEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key] = e
	return nil
}

func (c *memCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[domain.FileKey]domain.CachedEntry)
	c.cleared = true
	return nil
}

type fakePipeline struct {
	store    *domain.CoverageStore
	requests []ReportRequest
	rc       RenderContext
	err      error
}

func (f *fakePipeline) Run(_ context.Context, store *domain.CoverageStore, requests []ReportRequest, rc RenderContext) error {
	f.store, f.requests, f.rc = store, requests, rc
	return f.err
}

type fixture struct {
	root     string
	svc      *Service
	codec    *fakeCodec
	cache    *memCache
	pipeline *fakePipeline
	scope    *fakeScopeResolver
	stderr   *bytes.Buffer
}

func newFixture(t *testing.T, files map[string]string) *fixture {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
	f := &fixture{
		root:     root,
		codec:    &fakeCodec{partials: make(map[string]domain.Partial)},
		cache:    newMemCache(),
		pipeline: &fakePipeline{},
		scope:    &fakeScopeResolver{},
		stderr:   &bytes.Buffer{},
	}
	cfg := DefaultConfig()
	cfg.RootDir = root
	f.svc = &Service{
		ConfigLoader:  fakeConfigLoader{exists: true, cfg: cfg},
		ScopeResolver: f.scope,
		Partials:      f.codec,
		Instrumenter:  lineInstrumenter{},
		Cache:         func(string) RunCache { return f.cache },
		Reporters:     f.pipeline,
		Out:           &bytes.Buffer{},
		Err:           f.stderr,
	}
	return f
}

func (f *fixture) key(name string) domain.FileKey {
	return domain.MustFileKey(filepath.Join(f.root, name))
}

func (f *fixture) mapOf(t *testing.T, name string) domain.InstrumentationMap {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(f.root, name))
	require.NoError(t, err)
	m, err := lineInstrumenter{}.Instrument(f.key(name), content)
	require.NoError(t, err)
	return m
}

func (f *fixture) addPartial(t *testing.T, path string, tests domain.TestCounts, records ...*domain.CoverageRecord) {
	t.Helper()
	store := domain.NewStore()
	for _, r := range records {
		require.NoError(t, store.Add(r))
	}
	f.codec.partials[path] = domain.Partial{Worker: path, Store: store, Tests: tests}
}

func hitAll(m domain.InstrumentationMap, lines ...int) *domain.CoverageRecord {
	r := domain.NewZeroRecord(m)
	for _, l := range lines {
		_ = r.Accumulate(domain.Delta{Category: domain.CategoryLines, ID: l, Count: 1})
	}
	return r
}

func TestReportInsertsPlaceholdersAndPasses(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.go": "one\ntwo\n", "src/b.go": "three\n"})
	f.scope.mode = domain.ScopeDeclared
	f.scope.declared = []domain.FileKey{f.key("src/a.go"), f.key("src/b.go")}
	f.addPartial(t, "/parts/w1.json", domain.TestCounts{Passed: 3}, hitAll(f.mapOf(t, "src/a.go"), 1, 2))

	result, err := f.svc.Report(context.Background(), ReportOptions{PartialsDir: "/parts"})
	require.NoError(t, err)

	assert.Equal(t, []domain.FileKey{f.key("src/b.go")}, result.Aggregation.Placeholders)
	assert.Equal(t, 2, f.pipeline.store.Len())
	assert.Equal(t, f.root, f.pipeline.rc.Root)
	assert.Equal(t, filepath.Join(f.root, "coverage"), f.pipeline.rc.CoverageDir)
	assert.Equal(t, f.root, f.scope.last.Root)
	assert.Empty(t, f.stderr.String())
	assert.Equal(t, []string{filepath.Join(f.root, "coverage"), filepath.Join(f.root, ".covkit", "cache")}, f.codec.skipped,
		"discovery leaves out the run's own output and cache")
}

func TestReportThresholdViolation(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.go": "one\ntwo\n"})
	f.addPartial(t, "/parts/w1.json", domain.TestCounts{Passed: 1}, hitAll(f.mapOf(t, "src/a.go"), 1))

	_, err := f.svc.Report(context.Background(), ReportOptions{
		PartialsDir: "/parts",
		Overrides:   Overrides{Thresholds: map[string]map[string]float64{"global": {"lines": 100}}},
	})

	require.ErrorIs(t, err, ErrThresholdViolation)
	assert.Contains(t, f.stderr.String(), "coverage threshold for lines (global) not met: 50.00% < 100%")
	assert.NotNil(t, f.pipeline.store, "reporters still run on violations")
}

func TestReportFailingTests(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.go": "one\n"})
	f.addPartial(t, "/parts/w1.json", domain.TestCounts{Passed: 1, Failed: 2}, hitAll(f.mapOf(t, "src/a.go"), 1))

	_, err := f.svc.Report(context.Background(), ReportOptions{PartialsDir: "/parts"})
	require.ErrorIs(t, err, ErrTestsFailed)
	assert.NotErrorIs(t, err, ErrThresholdViolation)
}

func TestReportWriteErrorIsReturned(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.go": "one\n"})
	f.pipeline.err = &ReportWriteError{Reporter: ReporterHTML, Err: errors.New("disk full")}

	_, err := f.svc.Report(context.Background(), ReportOptions{})
	require.Error(t, err)
	assert.True(t, IsReportWriteError(err))
	assert.False(t, IsConfigError(err))
}

func TestReportUsesRunCacheAcrossRuns(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a/same.go": "x\ny\n", "src/b/same.go": "x\ny\n"})
	f.scope.mode = domain.ScopeDeclared
	f.scope.declared = []domain.FileKey{f.key("src/a/same.go"), f.key("src/b/same.go")}

	first, err := f.svc.Report(context.Background(), ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, first.CacheHits)
	assert.Len(t, f.cache.entries, 2, "identical content at distinct keys is cached separately")

	second, err := f.svc.Report(context.Background(), ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.CacheHits)

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "src/a/same.go"), []byte("changed\n"), 0o600))
	third, err := f.svc.Report(context.Background(), ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, third.CacheHits)
	r, ok := third.Aggregation.Store.Get(f.key("src/a/same.go"))
	require.True(t, ok)
	assert.Len(t, r.Lines, 1)
}

func TestReportNoCacheOverride(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.go": "x\n"})
	f.scope.mode = domain.ScopeDeclared
	f.scope.declared = []domain.FileKey{f.key("src/a.go")}

	_, err := f.svc.Report(context.Background(), ReportOptions{Overrides: Overrides{NoCache: true}})
	require.NoError(t, err)
	assert.Empty(t, f.cache.entries)
}

func TestReportConfigErrors(t *testing.T) {
	t.Run("explicit config path must exist", func(t *testing.T) {
		f := newFixture(t, nil)
		f.svc.ConfigLoader = fakeConfigLoader{exists: false}
		_, err := f.svc.Report(context.Background(), ReportOptions{ConfigPath: "missing.yaml"})
		assert.True(t, IsConfigError(err))
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		f := newFixture(t, nil)
		f.scope.err = fmt.Errorf("%w: src/[", domain.ErrInvalidPattern)
		_, err := f.svc.Report(context.Background(), ReportOptions{})
		assert.True(t, IsConfigError(err))
		assert.Nil(t, f.pipeline.store, "nothing is reported after a config error")
	})

	t.Run("unknown reporter", func(t *testing.T) {
		f := newFixture(t, nil)
		_, err := f.svc.Report(context.Background(), ReportOptions{Overrides: Overrides{Reporters: []string{"clover"}}})
		assert.True(t, IsConfigError(err))
	})
}

func TestReportUnreadablePartialIsRuntimeError(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Report(context.Background(), ReportOptions{Partials: []string{"/parts/missing.json"}})
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, IsConfigError(err))
}

func TestMergeSumsPartials(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.go": "one\ntwo\n"})
	m := f.mapOf(t, "src/a.go")
	f.addPartial(t, "/parts/w1.json", domain.TestCounts{Passed: 1}, hitAll(m, 1))
	f.addPartial(t, "/parts/w2.json", domain.TestCounts{Passed: 2}, hitAll(m, 1, 2))

	merged, err := f.svc.Merge(context.Background(), MergeOptions{
		Inputs: []string{"/parts/w1.json", "/parts/w2.json"},
		Output: "/out/merged.json",
	})
	require.NoError(t, err)

	r, ok := merged.Store.Get(m.Key)
	require.True(t, ok)
	assert.Equal(t, []uint64{2, 1}, r.Lines)
	assert.Equal(t, domain.TestCounts{Passed: 3}, merged.Tests)
	assert.Contains(t, f.codec.written, "/out/merged.json")
}

func TestMergeWithoutInputs(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Merge(context.Background(), MergeOptions{})
	assert.True(t, IsConfigError(err))
}

func TestInstrumentSeedsCache(t *testing.T) {
	f := newFixture(t, map[string]string{"src/a.go": "one\n", "src/b.go": "two\n"})
	f.scope.mode = domain.ScopeDeclared
	f.scope.declared = []domain.FileKey{f.key("src/a.go"), f.key("src/b.go"), f.key("src/gone.go")}

	maps, err := f.svc.Instrument(context.Background(), InstrumentOptions{})
	require.NoError(t, err)
	assert.Len(t, maps, 2)
	assert.Len(t, f.cache.entries, 2)
}

func TestCacheClear(t *testing.T) {
	f := newFixture(t, nil)
	dir, err := f.svc.CacheClear(context.Background(), CacheClearOptions{Overrides: Overrides{CacheDirectory: "tmp/cache"}})
	require.NoError(t, err)
	assert.True(t, f.cache.cleared)
	assert.Equal(t, filepath.Join(f.root, "tmp/cache"), dir)
}

type recordingLogging struct {
	got LogConfig
	err error
}

func (r *recordingLogging) Configure(cfg LogConfig) error {
	r.got = cfg
	return r.err
}

type pathLoader struct {
	paths []string
}

func (p *pathLoader) Exists(path string) (bool, error) {
	p.paths = append(p.paths, path)
	return false, nil
}

func (p *pathLoader) Load(string) (Config, error) {
	return Config{}, errors.New("not called")
}

func TestLoadConfigConfiguresLogging(t *testing.T) {
	f := newFixture(t, nil)
	logging := &recordingLogging{}
	f.svc.Logging = logging
	cfg := DefaultConfig()
	cfg.RootDir = f.root
	cfg.Log.Filename = "logs/covkit.log"
	f.svc.ConfigLoader = fakeConfigLoader{exists: true, cfg: cfg}

	_, err := f.svc.LoadConfig("", Overrides{LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", logging.got.Level)
	assert.Equal(t, filepath.Join(f.root, "logs", "covkit.log"), logging.got.Filename)

	logging.err = &ConfigError{Field: "log.level", Err: errors.New("bad")}
	_, err = f.svc.LoadConfig("", Overrides{})
	assert.True(t, IsConfigError(err))
}

func TestLoadConfigLooksUpDefaultFileInRoot(t *testing.T) {
	f := newFixture(t, nil)
	loader := &pathLoader{}
	f.svc.ConfigLoader = loader

	cfg, err := f.svc.LoadConfig("", Overrides{RootDir: f.root})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(f.root, DefaultConfigFile)}, loader.paths)
	assert.Equal(t, f.root, cfg.RootDir)
	assert.Equal(t, DefaultConfig().Reporters, cfg.Reporters)
}
