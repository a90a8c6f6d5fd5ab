package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

type textReporter struct {
	opts application.ReporterOptions
}

func (r textReporter) Render(_ context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	all := rows(store, rc.Root)

	table := tablewriter.NewWriter(rc.Stdout)
	table.SetHeader([]string{"File", "% Stmts", "% Branch", "% Funcs", "% Lines", "Uncovered Line #s"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_LEFT,
	})

	table.Append(summaryCells("All files", total(all), "", rc.Color))
	for _, row := range all {
		if r.opts.SkipFull && isFull(row.Summary) {
			continue
		}
		if r.opts.SkipEmpty && row.Summary.Statements.Total == 0 && row.Summary.Lines.Total == 0 {
			continue
		}
		table.Append(summaryCells(row.Path, row.Summary, lineRanges(row.Record.UncoveredLines()), rc.Color))
	}
	table.Render()
	return nil
}

func summaryCells(name string, s domain.FileSummary, uncovered string, color bool) []string {
	cells := []string{name}
	for _, c := range domain.Categories {
		pct := s.Stat(c).Percent()
		cells = append(cells, colorize(formatPct(pct), pct, color))
	}
	return append(cells, uncovered)
}

type textSummaryReporter struct{}

const summaryRule = "================================================================================"

func (textSummaryReporter) Render(_ context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	s := total(rows(store, rc.Root))
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("=============================== Coverage summary ===============================\n")
	for _, c := range domain.Categories {
		st := s.Stat(c)
		label := strings.ToUpper(string(c[:1])) + string(c[1:])
		line := fmt.Sprintf("%-12s : %s%% ( %d/%d )", label, formatPct(st.Percent()), st.Covered, st.Total)
		b.WriteString(colorize(line, st.Percent(), rc.Color))
		b.WriteString("\n")
	}
	b.WriteString(summaryRule + "\n")
	_, err := fmt.Fprint(rc.Stdout, b.String())
	return err
}
