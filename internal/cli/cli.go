// Package cli wires the covkit command tree.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/cache"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/config"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/instrument"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/logging"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/partial"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/report"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/scope"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitViolation = 1
	ExitConfig    = 2
	ExitRuntime   = 3
)

type Service interface {
	Report(ctx context.Context, opts application.ReportOptions) (application.ReportResult, error)
	Merge(ctx context.Context, opts application.MergeOptions) (domain.Partial, error)
	Instrument(ctx context.Context, opts application.InstrumentOptions) ([]domain.InstrumentationMap, error)
	CacheClear(ctx context.Context, opts application.CacheClearOptions) (string, error)
	LoadConfig(path string, overrides application.Overrides) (application.Config, error)
}

// BuildService assembles the production adapters.
func BuildService(stdout, stderr io.Writer, logs *logging.Logging) *application.Service {
	logger := logs.Logger()
	return &application.Service{
		ConfigLoader:  config.Loader{},
		Logging:       logs,
		ScopeResolver: scope.Resolver{Logger: logger},
		Partials:      partial.Codec{},
		Instrumenter:  instrument.NewRegistry(),
		Cache: func(dir string) application.RunCache {
			return cache.New(dir, logger)
		},
		Reporters: report.Pipeline{Logger: logger},
		Logger:    logger,
		Out:       stdout,
		Err:       stderr,
	}
}

// Run executes args (including the program name) and returns the exit code.
func Run(args []string, stdout, stderr io.Writer, svc Service) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{svc: svc, stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	if len(args) > 0 {
		args = args[1:]
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.err != nil {
		return exitCode(a.err, stderr)
	}
	if err != nil {
		fmt.Fprintf(stderr, "covkit: %v\n", err)
		fmt.Fprintln(stderr, "Run 'covkit --help' for usage.")
		return ExitConfig
	}
	return ExitOK
}

type app struct {
	svc    Service
	stdout io.Writer
	stderr io.Writer

	configPath string
	global     globalFlags
	err        error
}

type globalFlags struct {
	root     string
	cacheDir string
	noCache  bool
	logLevel string
	verbose  bool
}

// fail records err as the outcome of the command.
func (a *app) fail(err error) error {
	a.err = err
	return err
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "covkit",
		Short:         "Coverage collection and reporting engine",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default .covkit.yaml in the root directory)")
	flags.StringVar(&a.global.root, "root", "", "project root directory")
	flags.StringVar(&a.global.cacheDir, "cache-dir", "", "run cache directory")
	flags.BoolVar(&a.global.noCache, "no-cache", false, "disable the run cache")
	flags.StringVar(&a.global.logLevel, "log-level", "", "log level: debug|info|warn|error")
	flags.BoolVarP(&a.global.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		a.reportCmd(),
		a.mergeCmd(),
		a.instrumentCmd(),
		a.cacheCmd(),
		a.configCmd(),
		newVersionCmd(),
	)
	return cmd
}

const rootLong = `covkit merges per-worker coverage into one store, checks coverage
thresholds and renders text, json, html, lcov, cobertura and badge reports.

Exit codes: 0 ok, 1 threshold violation or failing tests, 2 invalid
configuration or report write failure, 3 runtime error.`

// overrides collects the global flags that were given.
func (a *app) overrides() application.Overrides {
	o := application.Overrides{
		RootDir:        a.global.root,
		CacheDirectory: a.global.cacheDir,
		NoCache:        a.global.noCache,
		LogLevel:       a.global.logLevel,
	}
	if a.global.verbose {
		o.LogLevel = "debug"
	}
	return o
}

// scopeFlags are shared by commands that resolve the declared scope.
type scopeFlags struct {
	collectFrom     []string
	collectOnlyFrom []string
	exclude         []string
}

func (s *scopeFlags) register(flags *pflag.FlagSet) {
	flags.StringArrayVar(&s.collectFrom, "collect-from", nil, "glob of files to collect coverage from (repeatable, replaces the configured list)")
	flags.StringArrayVar(&s.collectOnlyFrom, "collect-only-from", nil, "collect coverage only from these files (repeatable)")
	flags.StringArrayVar(&s.exclude, "exclude", nil, "glob of files to leave out of coverage (repeatable)")
}

// apply copies the given scope flags into o. Flags that were not given keep
// the configured value.
func (s *scopeFlags) apply(flags *pflag.FlagSet, o *application.Overrides) {
	if flags.Changed("collect-from") {
		o.CollectFrom = s.collectFrom
	}
	if flags.Changed("collect-only-from") {
		o.CollectOnlyFrom = s.collectOnlyFrom
	}
	if flags.Changed("exclude") {
		o.Exclude = s.exclude
	}
}

func (a *app) reportCmd() *cobra.Command {
	var (
		scopes      scopeFlags
		reporters   []string
		thresholds  string
		coverageDir string
		partialsDir string
	)
	cmd := &cobra.Command{
		Use:   "report [partial ...]",
		Short: "Aggregate partial coverage, check thresholds and write reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			o := a.overrides()
			flags := cmd.Flags()
			scopes.apply(flags, &o)
			if flags.Changed("reporter") {
				o.Reporters = reporters
			}
			if flags.Changed("coverage-threshold") {
				raw, err := parseThresholdFlag(thresholds)
				if err != nil {
					return a.fail(err)
				}
				o.Thresholds = raw
			}
			o.CoverageDirectory = coverageDir
			_, err := a.svc.Report(cmd.Context(), application.ReportOptions{
				ConfigPath:  a.configPath,
				Overrides:   o,
				Partials:    args,
				PartialsDir: partialsDir,
			})
			if err != nil {
				return a.fail(err)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	scopes.register(flags)
	flags.StringSliceVarP(&reporters, "reporter", "r", nil, "reporter to run (repeatable or comma separated)")
	flags.StringVar(&thresholds, "coverage-threshold", "", `thresholds as JSON, e.g. '{"global":{"lines":80}}'`)
	flags.StringVar(&coverageDir, "coverage-dir", "", "directory for report files")
	flags.StringVarP(&partialsDir, "partials-dir", "d", "", "directory searched for partial documents")
	return cmd
}

func parseThresholdFlag(raw string) (map[string]map[string]float64, error) {
	var out map[string]map[string]float64
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &application.ConfigError{Field: "coverage-threshold", Err: err}
	}
	if out == nil {
		out = map[string]map[string]float64{}
	}
	return out, nil
}

func (a *app) mergeCmd() *cobra.Command {
	var dir, output, worker string
	cmd := &cobra.Command{
		Use:   "merge [partial ...]",
		Short: "Merge partial documents into one",
		RunE: func(cmd *cobra.Command, args []string) error {
			merged, err := a.svc.Merge(cmd.Context(), application.MergeOptions{
				Inputs: args,
				Dir:    dir,
				Output: output,
				Worker: worker,
			})
			if err != nil {
				return a.fail(err)
			}
			fmt.Fprintf(a.stdout, "merged %d files into %s\n", merged.Store.Len(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "directory searched for partial documents")
	cmd.Flags().StringVarP(&output, "output", "o", "", "merged partial document (.json or .json.zst)")
	cmd.Flags().StringVar(&worker, "worker", "", "worker id recorded in the merged document")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) instrumentCmd() *cobra.Command {
	var (
		scopes scopeFlags
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "instrument",
		Short: "Declare the constructs of every in-scope file and seed the run cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := a.overrides()
			scopes.apply(cmd.Flags(), &o)
			maps, err := a.svc.Instrument(cmd.Context(), application.InstrumentOptions{ConfigPath: a.configPath, Overrides: o})
			if err != nil {
				return a.fail(err)
			}
			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(maps); err != nil {
					return a.fail(err)
				}
				return nil
			}
			fmt.Fprintf(a.stdout, "instrumented %d files\n", len(maps))
			return nil
		},
	}
	scopes.register(cmd.Flags())
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the instrumentation maps as JSON")
	return cmd
}

func (a *app) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the run cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every run cache entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := a.svc.CacheClear(cmd.Context(), application.CacheClearOptions{ConfigPath: a.configPath, Overrides: a.overrides()})
			if err != nil {
				return a.fail(err)
			}
			fmt.Fprintf(a.stdout, "cleared %s\n", dir)
			return nil
		},
	})
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	var (
		scopes scopeFlags
		write  bool
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or save it with --write",
		RunE: func(cmd *cobra.Command, _ []string) error {
			o := a.overrides()
			scopes.apply(cmd.Flags(), &o)
			path := a.configPath
			if write && path == "" {
				path = filepath.Join(o.RootDir, application.DefaultConfigFile)
			}
			if write && !force {
				if _, err := os.Stat(path); err == nil {
					return a.fail(&application.ConfigError{Field: "config", Err: fmt.Errorf("%s already exists (use --force)", path)})
				}
			}
			cfg, err := a.svc.LoadConfig(a.configPath, o)
			if err != nil {
				return a.fail(err)
			}
			if !write {
				if err := config.Write(a.stdout, cfg); err != nil {
					return a.fail(err)
				}
				return nil
			}
			if err := writeConfigFile(path, cfg); err != nil {
				return a.fail(err)
			}
			fmt.Fprintf(a.stdout, "wrote %s\n", path)
			return nil
		},
	}
	scopes.register(cmd.Flags())
	cmd.Flags().BoolVar(&write, "write", false, "write the configuration to the config file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func writeConfigFile(path string, cfg application.Config) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := config.Write(file, cfg); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// exitCode maps a command error to the process exit status and prints it.
// Threshold messages were already printed by the service.
func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitOK
	}
	for _, e := range flatten(err) {
		if !errors.Is(e, application.ErrThresholdViolation) {
			fmt.Fprintf(stderr, "covkit: %v\n", e)
		}
	}
	switch {
	case application.IsConfigError(err):
		return ExitConfig
	case errors.Is(err, application.ErrThresholdViolation), errors.Is(err, application.ErrTestsFailed):
		return ExitViolation
	case application.IsReportWriteError(err):
		return ExitConfig
	default:
		return ExitRuntime
	}
}

// flatten splits errors.Join results into their parts.
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
