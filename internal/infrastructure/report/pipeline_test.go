package report

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

type fixture struct {
	root  string
	store *domain.CoverageStore
	rc    application.RenderContext
	out   *bytes.Buffer
}

// newFixture builds a store with a half covered src/a.go, a fully covered
// main.go and an executed out-of-scope vendor file.
func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	write := func(rel, content string) domain.FileKey {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return domain.MustFileKey(p)
	}

	store := domain.NewStore()
	add := func(key domain.FileKey, m domain.InstrumentationMap, inScope bool, deltas ...domain.Delta) {
		m.Key = key
		m.Fingerprint = "fp-" + key.Base()
		m.Version = "test"
		r := domain.NewZeroRecord(m)
		for _, d := range deltas {
			require.NoError(t, r.Accumulate(d))
		}
		r.InScope = inScope
		require.NoError(t, store.Add(r))
	}

	add(write("src/a.go", "func f() {\n\tif x {\n\t\ty()\n\t}\n"), domain.InstrumentationMap{
		Statements: []domain.Statement{{ID: 0}, {ID: 1}, {ID: 2}, {ID: 3}},
		Branches:   []domain.Branch{{ID: 0, Kind: "if", Line: 2, Arms: 2}},
		Functions:  []domain.Function{{ID: 0, Name: "f", Span: domain.Span{Start: domain.Position{Line: 1, Column: 1}}}},
		Lines:      []int{1, 2, 3, 4},
	}, true,
		domain.Delta{Category: domain.CategoryStatements, ID: 0, Count: 1},
		domain.Delta{Category: domain.CategoryStatements, ID: 1, Count: 1},
		domain.Delta{Category: domain.CategoryBranches, ID: 0, Arm: 0, Count: 2},
		domain.Delta{Category: domain.CategoryFunctions, ID: 0, Count: 1},
		domain.Delta{Category: domain.CategoryLines, ID: 1, Count: 1},
		domain.Delta{Category: domain.CategoryLines, ID: 2, Count: 3},
	)
	add(write("main.go", "main()\n"), domain.InstrumentationMap{
		Statements: []domain.Statement{{ID: 0}},
		Functions:  []domain.Function{{ID: 0, Name: "main"}},
		Lines:      []int{1},
	}, true,
		domain.Delta{Category: domain.CategoryStatements, ID: 0, Count: 1},
		domain.Delta{Category: domain.CategoryFunctions, ID: 0, Count: 1},
		domain.Delta{Category: domain.CategoryLines, ID: 1, Count: 1},
	)
	add(write("vendor/x.go", "x()\n"), domain.InstrumentationMap{
		Statements: []domain.Statement{{ID: 0}},
		Lines:      []int{1},
	}, false, domain.Delta{Category: domain.CategoryStatements, ID: 0, Count: 1})

	out := new(bytes.Buffer)
	return fixture{
		root:  root,
		store: store,
		out:   out,
		rc: application.RenderContext{
			Root:        root,
			CoverageDir: filepath.Join(root, "coverage"),
			Stdout:      out,
			Thresholds:  domain.ThresholdResult{Passed: true},
			Generated:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
}

func (f fixture) run(t *testing.T, requests ...application.ReportRequest) error {
	t.Helper()
	return Pipeline{}.Run(context.Background(), f.store, requests, f.rc)
}

func req(name application.ReporterName) application.ReportRequest {
	return application.ReportRequest{Name: name}
}

func TestHTMLOnlyWritesNothingToStdout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, req(application.ReporterHTML)))

	assert.Empty(t, f.out.String())
	site := filepath.Join(f.root, "coverage", "html")
	for _, p := range []string{"index.html", "src/index.html", "src/a.go.html", "main.go.html"} {
		assert.FileExists(t, filepath.Join(site, filepath.FromSlash(p)))
	}
	assert.NoFileExists(t, filepath.Join(site, "vendor", "index.html"), "out-of-scope files are not rendered")

	page, err := os.ReadFile(filepath.Join(site, "src", "a.go.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), `class="line uncovered"`)
	assert.Contains(t, string(page), "3x", "line 2 was hit three times")

	index, err := os.ReadFile(filepath.Join(site, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(index), `href="src/index.html"`)
	assert.Contains(t, string(index), `href="main.go.html"`)
}

func TestTextReportersKeepRequestOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, req(application.ReporterText), req(application.ReporterTextSummary)))

	out := f.out.String()
	table := strings.Index(out, "% Stmts | % Branch")
	summary := strings.Index(out, "Coverage summary")
	require.GreaterOrEqual(t, table, 0, out)
	require.GreaterOrEqual(t, summary, 0, out)
	assert.Less(t, table, summary)

	assert.Contains(t, out, "All files")
	assert.Contains(t, out, "src/a.go")
	assert.Contains(t, out, "3-4")
	assert.NotContains(t, out, "vendor")
	assert.Contains(t, out, "Statements   : 60% ( 3/5 )")
	assert.Contains(t, out, "Branches     : 50% ( 1/2 )")

	f.out.Reset()
	require.NoError(t, f.run(t, req(application.ReporterTextSummary), req(application.ReporterText)))
	assert.Less(t, strings.Index(f.out.String(), "Coverage summary"), strings.Index(f.out.String(), "% Stmts"))
}

func TestTextSkipFull(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, application.ReportRequest{
		Name:    application.ReporterText,
		Options: application.ReporterOptions{SkipFull: true},
	}))
	assert.NotContains(t, f.out.String(), "main.go")
	assert.Contains(t, f.out.String(), "src/a.go")
}

func TestJSONIsCompleteAndParsable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, application.ReportRequest{
		Name:    application.ReporterJSON,
		Options: application.ReporterOptions{Stdout: true},
	}))

	var doc jsonDocument
	require.NoError(t, json.Unmarshal(f.out.Bytes(), &doc))
	require.Len(t, doc.Files, 3, "every key of the final store is serialized")
	keys := map[string]bool{}
	for _, rec := range doc.Files {
		keys[rec.Path.String()] = rec.InScope
		require.NotNil(t, rec.Record)
		assert.NoError(t, rec.Record.CheckShape())
	}
	assert.False(t, keys[domain.MustFileKey(filepath.Join(f.root, "vendor", "x.go")).String()])
	assert.Equal(t, domain.CategoryStat{Covered: 3, Total: 5}, doc.Total.Statements)
	assert.True(t, doc.Thresholds.Passed)
}

func TestJSONFileAndSummaryLine(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, application.ReportRequest{
		Name:    application.ReporterJSON,
		Options: application.ReporterOptions{Summary: true},
	}))

	assert.FileExists(t, filepath.Join(f.root, "coverage", jsonFile))
	assert.Equal(t, "PASS | 60% statements | 50% branches | 100% functions | 60% lines\n", f.out.String())
}

func TestJSONSummary(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, req(application.ReporterJSONSummary)))

	data, err := os.ReadFile(filepath.Join(f.root, "coverage", jsonSummaryFile))
	require.NoError(t, err)
	var summary map[string]summaryEntry
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Len(t, summary, 3)
	assert.Equal(t, 60.0, summary["total"].Lines.Pct)
	assert.Equal(t, 50.0, summary[domain.MustFileKey(filepath.Join(f.root, "src", "a.go")).String()].Branches.Pct)
}

func TestLCOV(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, req(application.ReporterLCOV)))

	data, err := os.ReadFile(filepath.Join(f.root, "coverage", lcovFile))
	require.NoError(t, err)
	out := string(data)
	assert.Equal(t, 2, strings.Count(out, "end_of_record"))
	assert.Contains(t, out, "SF:"+filepath.Join(f.root, "src", "a.go")+"\n")
	assert.Contains(t, out, "FN:1,f\nFNDA:1,f\nFNF:1\nFNH:1\n")
	assert.Contains(t, out, "BRDA:2,0,0,2\nBRDA:2,0,1,0\nBRF:2\nBRH:1\n")
	assert.Contains(t, out, "DA:1,1\nDA:2,3\nDA:3,0\nDA:4,0\nLF:4\nLH:2\n")
}

func TestCobertura(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, req(application.ReporterCobertura)))

	data, err := os.ReadFile(filepath.Join(f.root, "coverage", coberturaFile))
	require.NoError(t, err)
	var doc coberturaCoverage
	require.NoError(t, xml.Unmarshal(data, &doc))
	assert.Equal(t, 3, doc.LinesCovered)
	assert.Equal(t, 5, doc.LinesValid)
	assert.Equal(t, "0.6", doc.LineRate)
	require.Len(t, doc.Packages, 2)
	assert.Equal(t, ".", doc.Packages[0].Name)
	assert.Equal(t, "src", doc.Packages[1].Name)

	line2 := doc.Packages[1].Classes[0].Lines[1]
	assert.True(t, line2.Branch)
	assert.Equal(t, "50% (1/2)", line2.ConditionCoverage)
}

func TestBadge(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(t, req(application.ReporterBadge)))

	data, err := os.ReadFile(filepath.Join(f.root, "coverage", badgeFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "coverage: 60%")
	assert.Contains(t, string(data), "#dfb317")
}

func TestFailingReporterDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	blocker := filepath.Join(f.root, "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not a directory"), 0o644))
	f.rc.CoverageDir = blocker

	err := f.run(t, req(application.ReporterLCOV), req(application.ReporterTextSummary))
	require.Error(t, err)
	var rw *application.ReportWriteError
	require.True(t, errors.As(err, &rw))
	assert.Equal(t, application.ReporterLCOV, rw.Reporter)
	assert.Contains(t, f.out.String(), "Coverage summary")
}

func TestUnknownReporter(t *testing.T) {
	f := newFixture(t)
	err := f.run(t, req("clover"))
	assert.True(t, application.IsConfigError(err))
}

func TestOutputFileMustStayInCoverageDir(t *testing.T) {
	f := newFixture(t)
	err := f.run(t, application.ReportRequest{
		Name:    application.ReporterLCOV,
		Options: application.ReporterOptions{File: "../escape.info"},
	})
	assert.True(t, application.IsReportWriteError(err))
	assert.NoFileExists(t, filepath.Join(f.root, "escape.info"))
}

func TestStoreIsNotMutated(t *testing.T) {
	f := newFixture(t)
	before := f.store.Clone()
	require.NoError(t, f.run(t,
		req(application.ReporterText), req(application.ReporterJSON), req(application.ReporterHTML),
		req(application.ReporterLCOV), req(application.ReporterCobertura), req(application.ReporterBadge),
	))
	assert.Equal(t, before.Records(), f.store.Records())
}

func TestLineRanges(t *testing.T) {
	assert.Equal(t, "", lineRanges(nil))
	assert.Equal(t, "3", lineRanges([]int{3}))
	assert.Equal(t, "1-3,5,7-8", lineRanges([]int{1, 2, 3, 5, 7, 8}))
}

func TestHTMLFileNamedIndexKeepsDirectoryPage(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(f.root, "src", "index")
	require.NoError(t, os.WriteFile(p, []byte("hello()\n"), 0o644))
	r := domain.NewZeroRecord(domain.InstrumentationMap{
		Key:         domain.MustFileKey(p),
		Fingerprint: "fp-index",
		Version:     "test",
		Statements:  []domain.Statement{{ID: 0}},
		Lines:       []int{1},
	})
	r.InScope = true
	require.NoError(t, f.store.Add(r))

	require.NoError(t, f.run(t, req(application.ReporterHTML)))

	site := filepath.Join(f.root, "coverage", "html", "src")
	dirPage, err := os.ReadFile(filepath.Join(site, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(dirPage), `href="_index.html"`)
	assert.Contains(t, string(dirPage), `href="a.go.html"`)

	filePage, err := os.ReadFile(filepath.Join(site, "_index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(filePage), "hello()")
}

func TestPageName(t *testing.T) {
	assert.Equal(t, "a.go.html", pageName("src/a.go"))
	assert.Equal(t, "_index.html", pageName("src/index"))
	assert.Equal(t, "__index.html", pageName("src/_index"))
	assert.Equal(t, "index.go.html", pageName("index.go"))
}
