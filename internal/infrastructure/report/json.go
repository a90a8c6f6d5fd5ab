package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

const (
	jsonFile        = "coverage-final.json"
	jsonSummaryFile = "coverage-summary.json"
)

// jsonDocument is the complete serialization of one run.
type jsonDocument struct {
	Generated  string                 `json:"generated"`
	Root       string                 `json:"root"`
	Total      domain.FileSummary     `json:"total"`
	Tests      domain.TestCounts      `json:"tests"`
	Thresholds domain.ThresholdResult `json:"thresholds"`
	Files      []jsonRecord           `json:"files"`
}

type jsonRecord struct {
	Path    domain.FileKey         `json:"path"`
	InScope bool                   `json:"inScope"`
	Summary domain.FileSummary     `json:"summary"`
	Record  *domain.CoverageRecord `json:"coverage"`
}

type jsonReporter struct {
	opts application.ReporterOptions
}

func (r jsonReporter) Render(_ context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	doc := jsonDocument{
		Generated:  rc.Generated.UTC().Format("2006-01-02T15:04:05Z"),
		Root:       rc.Root,
		Total:      store.Summary(),
		Tests:      rc.Tests,
		Thresholds: rc.Thresholds,
		Files:      make([]jsonRecord, 0, store.Len()),
	}
	for _, rec := range store.Records() {
		doc.Files = append(doc.Files, jsonRecord{Path: rec.Key(), InScope: rec.InScope, Summary: rec.Summary(), Record: rec})
	}

	if r.opts.Stdout {
		if err := encodeJSON(rc.Stdout, doc); err != nil {
			return err
		}
	} else {
		path, err := outputPath(rc, r.opts, jsonFile)
		if err != nil {
			return err
		}
		if err := writeFile(path, func(w *bufio.Writer) error { return encodeJSON(w, doc) }); err != nil {
			return err
		}
	}
	if r.opts.Summary {
		return writeBrief(rc.Stdout, doc.Total, rc.Thresholds)
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeBrief prints a single-line summary.
// Format: STATUS | XX.XX% statements | XX.XX% branches | XX.XX% functions | XX.XX% lines
func writeBrief(w io.Writer, s domain.FileSummary, thresholds domain.ThresholdResult) error {
	status := "PASS"
	if !thresholds.Passed {
		status = "FAIL"
	}
	var sb strings.Builder
	sb.WriteString(status)
	for _, c := range domain.Categories {
		fmt.Fprintf(&sb, " | %s%% %s", formatPct(s.Stat(c).Percent()), c)
	}
	if n := thresholds.FailingCount(); n > 0 {
		fmt.Fprintf(&sb, " | %d failing thresholds", n)
	}
	sb.WriteString("\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// summaryStat is a category stat with its percentage spelled out.
type summaryStat struct {
	Total   int     `json:"total"`
	Covered int     `json:"covered"`
	Skipped int     `json:"skipped"`
	Pct     float64 `json:"pct"`
}

type summaryEntry struct {
	Statements summaryStat `json:"statements"`
	Branches   summaryStat `json:"branches"`
	Functions  summaryStat `json:"functions"`
	Lines      summaryStat `json:"lines"`
}

func newSummaryEntry(s domain.FileSummary) summaryEntry {
	conv := func(c domain.CategoryStat) summaryStat {
		return summaryStat{Total: c.Total, Covered: c.Covered, Pct: domain.Round2(c.Percent())}
	}
	return summaryEntry{
		Statements: conv(s.Statements),
		Branches:   conv(s.Branches),
		Functions:  conv(s.Functions),
		Lines:      conv(s.Lines),
	}
}

type jsonSummaryReporter struct {
	opts application.ReporterOptions
}

// Render writes {"total": ..., "<path>": ...} for every in-scope file.
func (r jsonSummaryReporter) Render(_ context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	all := rows(store, "")
	summary := make(map[string]summaryEntry, len(all)+1)
	summary["total"] = newSummaryEntry(total(all))
	for _, row := range all {
		summary[row.Path] = newSummaryEntry(row.Summary)
	}
	path, err := outputPath(rc, r.opts, jsonSummaryFile)
	if err != nil {
		return err
	}
	return writeFile(path, func(w *bufio.Writer) error { return encodeJSON(w, summary) })
}
