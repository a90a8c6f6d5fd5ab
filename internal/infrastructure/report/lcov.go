package report

import (
	"bufio"
	"context"
	"fmt"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

const lcovFile = "lcov.info"

type lcovReporter struct {
	opts application.ReporterOptions
}

// Render writes one lcov tracefile record per in-scope file.
func (r lcovReporter) Render(ctx context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	path, err := outputPath(rc, r.opts, lcovFile)
	if err != nil {
		return err
	}
	return writeFile(path, func(w *bufio.Writer) error {
		for _, rec := range store.InScopeRecords() {
			if err := ctx.Err(); err != nil {
				return err
			}
			writeLCOVRecord(w, rec)
		}
		return nil
	})
}

func writeLCOVRecord(w *bufio.Writer, rec *domain.CoverageRecord) {
	m := rec.Map
	s := rec.Summary()
	fmt.Fprintln(w, "TN:")
	fmt.Fprintf(w, "SF:%s\n", rec.Key().OSPath())
	for _, f := range m.Functions {
		fmt.Fprintf(w, "FN:%d,%s\n", f.Span.Start.Line, f.Name)
	}
	for i, f := range m.Functions {
		fmt.Fprintf(w, "FNDA:%d,%s\n", rec.Functions[i], f.Name)
	}
	fmt.Fprintf(w, "FNF:%d\nFNH:%d\n", s.Functions.Total, s.Functions.Covered)
	for i, b := range m.Branches {
		for arm, hits := range rec.Branches[i] {
			fmt.Fprintf(w, "BRDA:%d,%d,%d,%d\n", b.Line, b.ID, arm, hits)
		}
	}
	fmt.Fprintf(w, "BRF:%d\nBRH:%d\n", s.Branches.Total, s.Branches.Covered)
	for i, line := range m.Lines {
		fmt.Fprintf(w, "DA:%d,%d\n", line, rec.Lines[i])
	}
	fmt.Fprintf(w, "LF:%d\nLH:%d\n", s.Lines.Total, s.Lines.Covered)
	fmt.Fprintln(w, "end_of_record")
}
