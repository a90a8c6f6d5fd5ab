package report

import (
	"bufio"
	"context"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/badge"
)

const badgeFile = "coverage.svg"

type badgeReporter struct {
	opts application.ReporterOptions
}

// Render writes an SVG badge for global line coverage.
func (r badgeReporter) Render(_ context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	target, err := outputPath(rc, r.opts, badgeFile)
	if err != nil {
		return err
	}
	pct := store.Summary().Lines.Percent()
	return writeFile(target, func(w *bufio.Writer) error {
		return badge.Generate(w, badge.Options{
			Label:      "coverage",
			Percent:    pct,
			Watermarks: badge.Watermarks{Low: lowWatermark, High: highWatermark},
		})
	})
}
