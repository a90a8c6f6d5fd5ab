// Package report renders a final coverage store through the reporter variants.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

// Reporter renders one output format. Stdout output goes to rc.Stdout.
type Reporter interface {
	Render(ctx context.Context, store *domain.CoverageStore, rc application.RenderContext) error
}

// New returns the reporter for req.
func New(req application.ReportRequest) (Reporter, error) {
	opts := req.Options
	switch req.Name {
	case application.ReporterText:
		return textReporter{opts: opts}, nil
	case application.ReporterTextSummary:
		return textSummaryReporter{}, nil
	case application.ReporterJSON:
		return jsonReporter{opts: opts}, nil
	case application.ReporterJSONSummary:
		return jsonSummaryReporter{opts: opts}, nil
	case application.ReporterHTML:
		return htmlReporter{opts: opts}, nil
	case application.ReporterLCOV:
		return lcovReporter{opts: opts}, nil
	case application.ReporterCobertura:
		return coberturaReporter{opts: opts}, nil
	case application.ReporterBadge:
		return badgeReporter{opts: opts}, nil
	}
	return nil, &application.ConfigError{Field: "reporters", Err: fmt.Errorf("unknown reporter %q", req.Name)}
}

// Pipeline runs every requested reporter concurrently. Each reporter writes
// stdout into its own buffer; buffers are flushed in request order.
type Pipeline struct {
	Logger *slog.Logger
}

func (p Pipeline) Run(ctx context.Context, store *domain.CoverageStore, requests []application.ReportRequest, rc application.RenderContext) error {
	stdout := rc.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	rc.Color = rc.Color || colorEnabled(stdout)

	buffers := make([]bytes.Buffer, len(requests))
	errs := make([]error, len(requests))
	var g errgroup.Group
	for i, req := range requests {
		g.Go(func() error {
			r, err := New(req)
			if err != nil {
				errs[i] = err
				return nil
			}
			local := rc
			local.Stdout = &buffers[i]
			if err := r.Render(ctx, store, local); err != nil {
				errs[i] = &application.ReportWriteError{Reporter: req.Name, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, req := range requests {
		if buffers[i].Len() == 0 {
			continue
		}
		if _, err := stdout.Write(buffers[i].Bytes()); err != nil && errs[i] == nil {
			errs[i] = &application.ReportWriteError{Reporter: req.Name, Err: err}
		}
	}
	for i, err := range errs {
		if err != nil {
			p.logger().Debug("reporter failed", "reporter", requests[i].Name, "error", err)
		}
	}
	return errors.Join(errs...)
}

func (p Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}
