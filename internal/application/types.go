package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// ReporterName selects one reporter variant.
type ReporterName string

const (
	ReporterText        ReporterName = "text"
	ReporterTextSummary ReporterName = "text-summary"
	ReporterJSON        ReporterName = "json"
	ReporterJSONSummary ReporterName = "json-summary"
	ReporterHTML        ReporterName = "html"
	ReporterLCOV        ReporterName = "lcov"
	ReporterCobertura   ReporterName = "cobertura"
	ReporterBadge       ReporterName = "badge"
)

// KnownReporters is the closed set of reporter variants.
var KnownReporters = []ReporterName{
	ReporterText, ReporterTextSummary, ReporterJSON, ReporterJSONSummary,
	ReporterHTML, ReporterLCOV, ReporterCobertura, ReporterBadge,
}

// ParseReporterName validates a reporter name.
func ParseReporterName(s string) (ReporterName, error) {
	for _, n := range KnownReporters {
		if string(n) == s {
			return n, nil
		}
	}
	return "", &ConfigError{Field: "reporters", Err: fmt.Errorf("unknown reporter %q", s)}
}

var ErrConfigNotFound = errors.New("config not found")

// Config represents validated, application-ready configuration.
type Config struct {
	RootDir           string
	CollectFrom       []string
	CollectOnlyFrom   []string
	Exclude           []string
	Reporters         []ReportRequest
	Thresholds        domain.ThresholdSpec
	CoverageDirectory string
	Cache             CacheConfig
	Log               LogConfig
}

// CacheConfig configures the run cache.
type CacheConfig struct {
	Enabled   bool
	Directory string
}

// LogConfig configures diagnostics logging.
type LogConfig struct {
	Level      string
	Filename   string // rotate into this file instead of stderr
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ReportRequest is one entry of the ordered reporter list.
type ReportRequest struct {
	Name    ReporterName
	Options ReporterOptions
}

// ReporterOptions are the per-reporter settings.
type ReporterOptions struct {
	File      string // output file name inside the coverage directory
	Stdout    bool   // json: write to stdout instead of a file
	Summary   bool   // json: also print a one-line summary to stdout
	SkipFull  bool   // text: hide fully covered rows
	SkipEmpty bool   // text: hide files without constructs
}

// WritesStdout reports whether the request produces stdout output.
func (r ReportRequest) WritesStdout() bool {
	switch r.Name {
	case ReporterText, ReporterTextSummary:
		return true
	case ReporterJSON:
		return r.Options.Stdout || r.Options.Summary
	}
	return false
}

// LogConfigurer applies the logging section of the loaded config.
type LogConfigurer interface {
	Configure(cfg LogConfig) error
}

type ConfigLoader interface {
	Load(path string) (Config, error)
	Exists(path string) (bool, error)
}

// ScopeRequest carries the patterns that define the declared scope.
type ScopeRequest struct {
	Root    string
	Include []string
	Only    []string
	Exclude []string
}

// ScopeResolver computes the declared scope independently of execution.
type ScopeResolver interface {
	Resolve(ctx context.Context, req ScopeRequest) (domain.Scope, error)
}

// PartialCodec reads and writes worker partial documents.
type PartialCodec interface {
	// Discover lists the partial documents stored in dir, leaving out files
	// equal to or below any of the skip paths.
	Discover(dir string, skip ...string) ([]string, error)
	Read(path string) (domain.Partial, error)
	Write(path string, p domain.Partial) error
}

// Instrumenter declares the countable constructs of one source file.
type Instrumenter interface {
	Version() string
	Fingerprint(content []byte) string
	Instrument(key domain.FileKey, content []byte) (domain.InstrumentationMap, error)
}

// RunCache persists instrumentation results between runs.
type RunCache interface {
	// Get returns the entry for key. Corrupt or foreign entries are misses.
	Get(key domain.FileKey) (domain.CachedEntry, bool)
	Put(entry domain.CachedEntry) error
	Clear() error
}

// RunCacheFactory opens the run cache stored in dir.
type RunCacheFactory func(dir string) RunCache

// RenderContext is the read-only input shared by every reporter of one run.
type RenderContext struct {
	Root        string
	CoverageDir string
	Stdout      io.Writer
	Thresholds  domain.ThresholdResult
	Tests       domain.TestCounts
	Generated   time.Time
	// Color enables ANSI colours in stdout reporters.
	Color bool
}

// ReportPipeline renders the final store through the requested reporters.
type ReportPipeline interface {
	Run(ctx context.Context, store *domain.CoverageStore, requests []ReportRequest, rc RenderContext) error
}
