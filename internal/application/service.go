package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

type Service struct {
	ConfigLoader  ConfigLoader
	Logging       LogConfigurer
	ScopeResolver ScopeResolver
	Partials      PartialCodec
	Instrumenter  Instrumenter
	Cache         RunCacheFactory
	Reporters     ReportPipeline
	Logger        *slog.Logger
	Out           io.Writer
	Err           io.Writer
	Now           func() time.Time
}

type ReportOptions struct {
	ConfigPath  string
	Overrides   Overrides
	Partials    []string
	PartialsDir string
}

// ReportResult is everything one report run produced.
type ReportResult struct {
	Config      Config
	Aggregation domain.AggregationResult
	Thresholds  domain.ThresholdResult
	CacheHits   int
}

type MergeOptions struct {
	Inputs []string
	Dir    string
	Output string
	Worker string
}

type InstrumentOptions struct {
	ConfigPath string
	Overrides  Overrides
}

type CacheClearOptions struct {
	ConfigPath string
	Overrides  Overrides
}

// Report aggregates the partials of one run, checks thresholds and renders
// every configured reporter. The returned error joins ErrThresholdViolation,
// ErrTestsFailed and reporter failures so callers can decide the exit status.
func (s *Service) Report(ctx context.Context, opts ReportOptions) (ReportResult, error) {
	cfg, err := s.LoadConfig(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return ReportResult{}, err
	}
	scope, err := s.resolveScope(ctx, cfg)
	if err != nil {
		return ReportResult{}, err
	}
	partials, err := s.readPartials(ctx, opts.Partials, opts.PartialsDir, cfg.CoverageDirectory, cfg.Cache.Directory)
	if err != nil {
		return ReportResult{}, err
	}

	cache := s.openCache(cfg)
	source := newInstrumentationSource(cache, s.Instrumenter, s.logger())
	agg, err := domain.NewCoverageAggregator(source).Aggregate(domain.AggregationInput{Scope: scope, Partials: partials})
	if err != nil {
		return ReportResult{}, err
	}
	events := domain.NewEventCollector()
	s.recordAggregation(events, agg)

	thresholds := domain.Evaluate(cfg.Thresholds, agg.Store, cfg.RootDir)
	events.RecordThresholdResult(thresholds)

	reportErr := s.Reporters.Run(ctx, agg.Store, cfg.Reporters, RenderContext{
		Root:        cfg.RootDir,
		CoverageDir: cfg.CoverageDirectory,
		Stdout:      s.Out,
		Thresholds:  thresholds,
		Tests:       agg.Tests,
		Generated:   s.now(),
	})
	s.writeCache(cache, agg.Store)
	_ = (LogPublisher{Logger: s.logger()}).PublishAll(events.Events())

	result := ReportResult{Config: cfg, Aggregation: agg, Thresholds: thresholds, CacheHits: source.Hits()}
	var errs []error
	if !thresholds.Passed {
		for _, v := range thresholds.Violations() {
			fmt.Fprintf(s.errOut(), "covkit: %s\n", v)
		}
		errs = append(errs, ErrThresholdViolation)
	}
	if agg.Tests.Failed > 0 {
		errs = append(errs, fmt.Errorf("%w: %d failing", ErrTestsFailed, agg.Tests.Failed))
	}
	if reportErr != nil {
		errs = append(errs, reportErr)
	}
	return result, errors.Join(errs...)
}

// Merge combines several partial documents into one. Conflicting
// fingerprints are resolved against the current sources.
func (s *Service) Merge(ctx context.Context, opts MergeOptions) (domain.Partial, error) {
	partials, err := s.readPartials(ctx, opts.Inputs, opts.Dir, opts.Output)
	if err != nil {
		return domain.Partial{}, err
	}
	if len(partials) == 0 {
		return domain.Partial{}, &ConfigError{Field: "inputs", Err: errors.New("no partial documents to merge")}
	}
	source := newInstrumentationSource(nil, s.Instrumenter, s.logger())
	agg, err := domain.NewCoverageAggregator(source).Aggregate(domain.AggregationInput{
		Scope:    domain.NewScope(domain.ScopeExecution, nil, nil),
		Partials: partials,
	})
	if err != nil {
		return domain.Partial{}, err
	}
	s.recordAggregation(domain.NewEventCollector(), agg)

	worker := opts.Worker
	if worker == "" {
		worker = "merged"
	}
	merged := domain.Partial{Worker: worker, Store: agg.Store, Tests: agg.Tests, Substituted: substitutedUnion(partials)}
	if opts.Output != "" {
		if err := s.Partials.Write(opts.Output, merged); err != nil {
			return domain.Partial{}, fmt.Errorf("write merged partial: %w", err)
		}
	}
	return merged, nil
}

// Instrument declares the constructs of every file in the declared scope and
// seeds the run cache with them.
func (s *Service) Instrument(ctx context.Context, opts InstrumentOptions) ([]domain.InstrumentationMap, error) {
	cfg, err := s.LoadConfig(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return nil, err
	}
	scope, err := s.resolveScope(ctx, cfg)
	if err != nil {
		return nil, err
	}
	cache := s.openCache(cfg)
	source := newInstrumentationSource(cache, s.Instrumenter, s.logger())

	maps := make([]domain.InstrumentationMap, 0, len(scope.Declared))
	store := domain.NewStore()
	for _, key := range scope.Declared {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if scope.Classify(key) == domain.Excluded {
			continue
		}
		m, err := source.Lookup(key)
		if err != nil {
			s.logger().Warn("skipping file", "file", key.String(), "error", err)
			continue
		}
		maps = append(maps, m)
		store.InsertPlaceholder(m)
	}
	s.writeCache(cache, store)
	return maps, nil
}

// CacheClear removes every run cache entry.
func (s *Service) CacheClear(_ context.Context, opts CacheClearOptions) (string, error) {
	cfg, err := s.LoadConfig(opts.ConfigPath, opts.Overrides)
	if err != nil {
		return "", err
	}
	if s.Cache == nil {
		return cfg.Cache.Directory, nil
	}
	if err := s.Cache(cfg.Cache.Directory).Clear(); err != nil {
		return "", fmt.Errorf("clear cache: %w", err)
	}
	return cfg.Cache.Directory, nil
}

// LoadConfig reads the config file, applies command-line overrides and
// resolves directories. Without an explicit path .covkit.yaml is looked up in
// the root given on the command line; a missing default file falls back to
// DefaultConfig.
func (s *Service) LoadConfig(path string, overrides Overrides) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = filepath.Join(overrides.RootDir, DefaultConfigFile)
	}
	cfg := DefaultConfig()
	if s.ConfigLoader != nil {
		exists, err := s.ConfigLoader.Exists(path)
		if err != nil {
			return Config{}, err
		}
		switch {
		case exists:
			cfg, err = s.ConfigLoader.Load(path)
			if err != nil {
				return Config{}, err
			}
		case explicit:
			return Config{}, &ConfigError{Field: "config", Err: fmt.Errorf("%w: %s", ErrConfigNotFound, path)}
		}
	}
	cfg, err := cfg.Apply(overrides)
	if err != nil {
		return Config{}, err
	}
	if cfg, err = cfg.Resolve(); err != nil {
		return Config{}, err
	}
	if s.Logging != nil {
		if err := s.Logging.Configure(cfg.Log); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (s *Service) resolveScope(ctx context.Context, cfg Config) (domain.Scope, error) {
	scope, err := s.ScopeResolver.Resolve(ctx, ScopeRequest{
		Root:    cfg.RootDir,
		Include: cfg.CollectFrom,
		Only:    cfg.CollectOnlyFrom,
		Exclude: cfg.Exclude,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPattern) {
			return domain.Scope{}, &ConfigError{Field: "collect_from", Err: err}
		}
		return domain.Scope{}, fmt.Errorf("resolve scope: %w", err)
	}
	s.logger().Debug("scope resolved", "mode", scope.Mode, "declared", len(scope.Declared))
	return scope, nil
}

// readPartials decodes the given documents plus those found in dir outside
// the skip paths (the run's own output and cache)
// concurrently. The result keeps the input order.
func (s *Service) readPartials(ctx context.Context, paths []string, dir string, skip ...string) ([]domain.Partial, error) {
	all := append([]string(nil), paths...)
	if dir != "" {
		found, err := s.Partials.Discover(dir, skip...)
		if err != nil {
			return nil, fmt.Errorf("discover partials: %w", err)
		}
		all = append(all, found...)
	}

	partials := make([]domain.Partial, len(all))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range all {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partial, err := s.Partials.Read(p)
			if err != nil {
				return fmt.Errorf("read partial %s: %w", p, err)
			}
			partials[i] = partial
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.logger().Debug("partials loaded", "count", len(partials))
	return partials, nil
}

func (s *Service) openCache(cfg Config) RunCache {
	if !cfg.Cache.Enabled || s.Cache == nil {
		return nil
	}
	return s.Cache(cfg.Cache.Directory)
}

// writeCache stores one entry per record. Failures only cost the next run
// a cache miss, so they are logged and not returned.
func (s *Service) writeCache(cache RunCache, store *domain.CoverageStore) {
	if cache == nil {
		return
	}
	now := s.now()
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, r := range store.Records() {
		g.Go(func() error {
			if err := cache.Put(domain.NewCachedEntry(r, now)); err != nil {
				s.logger().Warn("cache write failed", "file", r.Key().String(), "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) recordAggregation(events *domain.EventCollector, agg domain.AggregationResult) {
	for _, w := range agg.Warnings {
		s.logger().Warn(w)
	}
	for _, m := range agg.Mismatches {
		s.logger().Warn("discarded coverage from a different file version", "file", m.Key.String(), "kept", m.Left, "discarded", m.Right)
		events.Record(domain.NewFingerprintConflictEvent(m))
	}
	events.Record(domain.NewCoverageAggregatedEvent(agg))
}

func substitutedUnion(partials []domain.Partial) []domain.FileKey {
	seen := make(map[domain.FileKey]bool)
	var out []domain.FileKey
	for _, p := range partials {
		for _, k := range p.Substituted {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Logger
}

func (s *Service) errOut() io.Writer {
	if s.Err == nil {
		return io.Discard
	}
	return s.Err
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
