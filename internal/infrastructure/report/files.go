package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/pathutil"
)

// outputPath places name (or the option override) inside the coverage directory.
func outputPath(rc application.RenderContext, opts application.ReporterOptions, name string) (string, error) {
	if opts.File != "" {
		name = opts.File
	}
	path, err := pathutil.Within(rc.CoverageDir, name)
	if err != nil {
		return "", fmt.Errorf("output file %q: %w", name, err)
	}
	return path, nil
}

// writeFile creates path and its parents and streams render into it.
func writeFile(path string, render func(w *bufio.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	// #nosec G304 -- path is validated by outputPath
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	w := bufio.NewWriter(f)
	if err := render(w); err != nil {
		return err
	}
	return w.Flush()
}
