// Package config loads .covkit.yaml files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

type Loader struct{}

type fileConfig struct {
	RootDir           string                        `yaml:"root_dir,omitempty"`
	CollectFrom       []string                      `yaml:"collect_from,omitempty"`
	CollectOnlyFrom   []string                      `yaml:"collect_only_from,omitempty"`
	Exclude           []string                      `yaml:"exclude,omitempty"`
	Reporters         []fileReporter                `yaml:"reporters,omitempty"`
	CoverageThreshold map[string]map[string]float64 `yaml:"coverage_threshold,omitempty"`
	CoverageDirectory string                        `yaml:"coverage_directory,omitempty"`
	Cache             *fileCache                    `yaml:"cache,omitempty"`
	Log               *fileLog                      `yaml:"log,omitempty"`
}

type fileCache struct {
	Enabled   *bool  `yaml:"enabled,omitempty"`
	Directory string `yaml:"directory,omitempty"`
}

type fileLog struct {
	Level      string `yaml:"level,omitempty"`
	Filename   string `yaml:"filename,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// fileReporter is either a plain name or a {name, options} mapping.
type fileReporter struct {
	Name    string             `yaml:"name"`
	Options fileReporterOption `yaml:"options,omitempty"`
}

type fileReporterOption struct {
	File      string `yaml:"file,omitempty"`
	Stdout    bool   `yaml:"stdout,omitempty"`
	Summary   bool   `yaml:"summary,omitempty"`
	SkipFull  bool   `yaml:"skip_full,omitempty"`
	SkipEmpty bool   `yaml:"skip_empty,omitempty"`
}

func (r *fileReporter) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.Name = node.Value
		return nil
	}
	type plain fileReporter
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = fileReporter(p)
	return nil
}

func (r fileReporter) MarshalYAML() (any, error) {
	if r.Options == (fileReporterOption{}) {
		return r.Name, nil
	}
	type plain fileReporter
	return plain(r), nil
}

func (l Loader) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Load reads path on top of application.DefaultConfig. A relative root_dir
// is taken from the directory of the file.
func (l Loader) Load(path string) (application.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return application.Config{}, &application.ConfigError{Field: "config", Err: err}
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return application.Config{}, &application.ConfigError{Field: "config", Err: fmt.Errorf("%s: %w", path, err)}
	}

	cfg := application.DefaultConfig()
	cfg.RootDir = filepath.Dir(path)
	if fc.RootDir != "" {
		cfg.RootDir = fc.RootDir
		if !filepath.IsAbs(fc.RootDir) {
			cfg.RootDir = filepath.Join(filepath.Dir(path), fc.RootDir)
		}
	}
	cfg.CollectFrom = fc.CollectFrom
	cfg.CollectOnlyFrom = fc.CollectOnlyFrom
	cfg.Exclude = fc.Exclude
	if fc.Reporters != nil {
		cfg.Reporters = make([]application.ReportRequest, 0, len(fc.Reporters))
		for _, r := range fc.Reporters {
			name, err := application.ParseReporterName(r.Name)
			if err != nil {
				return application.Config{}, err
			}
			cfg.Reporters = append(cfg.Reporters, application.ReportRequest{
				Name:    name,
				Options: application.ReporterOptions(r.Options),
			})
		}
	}
	if fc.CoverageThreshold != nil {
		if cfg.Thresholds, err = application.ParseThresholds(fc.CoverageThreshold); err != nil {
			return application.Config{}, err
		}
	}
	if fc.CoverageDirectory != "" {
		cfg.CoverageDirectory = fc.CoverageDirectory
	}
	if fc.Cache != nil {
		if fc.Cache.Enabled != nil {
			cfg.Cache.Enabled = *fc.Cache.Enabled
		}
		if fc.Cache.Directory != "" {
			cfg.Cache.Directory = fc.Cache.Directory
		}
	}
	if fc.Log != nil {
		if fc.Log.Level != "" {
			cfg.Log.Level = fc.Log.Level
		}
		cfg.Log.Filename = fc.Log.Filename
		cfg.Log.MaxSizeMB = fc.Log.MaxSizeMB
		cfg.Log.MaxBackups = fc.Log.MaxBackups
		cfg.Log.MaxAgeDays = fc.Log.MaxAgeDays
		cfg.Log.Compress = fc.Log.Compress
	}
	return cfg, nil
}

// Write encodes cfg in the file format read by Load.
func Write(w io.Writer, cfg application.Config) error {
	enabled := cfg.Cache.Enabled
	out := fileConfig{
		RootDir:           cfg.RootDir,
		CollectFrom:       cfg.CollectFrom,
		CollectOnlyFrom:   cfg.CollectOnlyFrom,
		Exclude:           cfg.Exclude,
		CoverageThreshold: thresholdMap(cfg.Thresholds),
		CoverageDirectory: cfg.CoverageDirectory,
		Cache:             &fileCache{Enabled: &enabled, Directory: cfg.Cache.Directory},
		Log: &fileLog{
			Level:      cfg.Log.Level,
			Filename:   cfg.Log.Filename,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	}
	for _, r := range cfg.Reporters {
		out.Reporters = append(out.Reporters, fileReporter{Name: string(r.Name), Options: fileReporterOption(r.Options)})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

func thresholdMap(spec domain.ThresholdSpec) map[string]map[string]float64 {
	if spec.IsEmpty() {
		return nil
	}
	out := make(map[string]map[string]float64, len(spec.Rules))
	for _, rule := range spec.Rules {
		values := make(map[string]float64, len(rule.Minimums))
		for c, th := range rule.Minimums {
			values[string(c)] = th.Value()
		}
		out[rule.Selector] = values
	}
	return out
}
