package application

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

const (
	DefaultConfigFile        = ".covkit.yaml"
	DefaultCoverageDirectory = "coverage"
	DefaultCacheDirectory    = ".covkit/cache"
)

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		RootDir: ".",
		Reporters: []ReportRequest{
			{Name: ReporterJSON},
			{Name: ReporterText},
			{Name: ReporterLCOV},
		},
		CoverageDirectory: DefaultCoverageDirectory,
		Cache:             CacheConfig{Enabled: true, Directory: DefaultCacheDirectory},
		Log:               LogConfig{Level: "warn"},
	}
}

// Overrides holds the options given on the command line. A nil slice or
// empty string means the option was not given; a given option replaces the
// configured value entirely.
type Overrides struct {
	RootDir           string
	CollectFrom       []string
	CollectOnlyFrom   []string
	Exclude           []string
	Reporters         []string
	Thresholds        map[string]map[string]float64
	CoverageDirectory string
	CacheDirectory    string
	NoCache           bool
	LogLevel          string
}

// Apply returns cfg with o layered on top.
func (c Config) Apply(o Overrides) (Config, error) {
	out := c
	if o.RootDir != "" {
		out.RootDir = o.RootDir
	}
	if o.CollectFrom != nil {
		out.CollectFrom = dedupe(o.CollectFrom)
	}
	if o.CollectOnlyFrom != nil {
		out.CollectOnlyFrom = dedupe(o.CollectOnlyFrom)
	}
	if o.Exclude != nil {
		out.Exclude = dedupe(o.Exclude)
	}
	if o.Reporters != nil {
		reporters, err := ParseReporters(o.Reporters)
		if err != nil {
			return Config{}, err
		}
		out.Reporters = reporters
	}
	if o.Thresholds != nil {
		spec, err := ParseThresholds(o.Thresholds)
		if err != nil {
			return Config{}, err
		}
		out.Thresholds = spec
	}
	if o.CoverageDirectory != "" {
		out.CoverageDirectory = o.CoverageDirectory
	}
	if o.CacheDirectory != "" {
		out.Cache.Directory = o.CacheDirectory
	}
	if o.NoCache {
		out.Cache.Enabled = false
	}
	if o.LogLevel != "" {
		out.Log.Level = o.LogLevel
	}
	return out, nil
}

// Resolve makes every directory of cfg absolute. Relative directories are
// taken from the root, and the root from the working directory.
func (c Config) Resolve() (Config, error) {
	out := c
	root, err := filepath.Abs(c.RootDir)
	if err != nil {
		return Config{}, &ConfigError{Field: "root_dir", Err: err}
	}
	out.RootDir = root
	out.CoverageDirectory = underRoot(root, c.CoverageDirectory)
	out.Cache.Directory = underRoot(root, c.Cache.Directory)
	out.Log.Filename = underRoot(root, c.Log.Filename)
	return out, nil
}

func underRoot(root, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// ParseReporters turns plain reporter names into requests with default options.
func ParseReporters(names []string) ([]ReportRequest, error) {
	out := make([]ReportRequest, 0, len(names))
	for _, n := range names {
		name, err := ParseReporterName(n)
		if err != nil {
			return nil, err
		}
		out = append(out, ReportRequest{Name: name})
	}
	return out, nil
}

// ParseThresholds validates a selector -> category -> value mapping.
func ParseThresholds(raw map[string]map[string]float64) (domain.ThresholdSpec, error) {
	selectors := make([]string, 0, len(raw))
	for s := range raw {
		selectors = append(selectors, s)
	}
	sort.Strings(selectors)

	var spec domain.ThresholdSpec
	for _, s := range selectors {
		minimums := make(map[domain.Category]domain.Threshold, len(raw[s]))
		for name, value := range raw[s] {
			category, err := domain.ParseCategory(name)
			if err != nil {
				return domain.ThresholdSpec{}, &ConfigError{Field: "coverage_threshold." + s, Err: err}
			}
			th, err := domain.NewThreshold(value)
			if err != nil {
				return domain.ThresholdSpec{}, &ConfigError{Field: fmt.Sprintf("coverage_threshold.%s.%s", s, name), Err: err}
			}
			minimums[category] = th
		}
		rule, err := domain.NewThresholdRule(s, minimums)
		if err != nil {
			return domain.ThresholdSpec{}, &ConfigError{Field: "coverage_threshold", Err: err}
		}
		spec.Rules = append(spec.Rules, rule)
	}
	domain.SortRules(spec.Rules)
	return spec, nil
}

// dedupe keeps the first occurrence of every value.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
