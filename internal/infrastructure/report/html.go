package report

import (
	"bufio"
	"bytes"
	"context"
	"html/template"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

const htmlDir = "html"

const htmlStyle = `
    <style>
        :root {
            --pass: #16A34A;
            --fail: #DC2626;
            --warn: #CA8A04;
            --bg: #0f172a;
            --card: #1e293b;
            --text: #f8fafc;
            --muted: #94a3b8;
            --border: #334155;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.6;
            padding: 2rem;
        }
        a { color: var(--text); }
        .container { max-width: 1200px; margin: 0 auto; }
        h1 { font-size: 2rem; margin-bottom: 0.5rem; font-weight: 600; }
        .timestamp { color: var(--muted); font-size: 0.875rem; margin-bottom: 2rem; }
        .summary { display: flex; gap: 1rem; margin-bottom: 2rem; }
        .summary-card {
            background: var(--card);
            border-radius: 0.5rem;
            padding: 1rem 1.5rem;
            border: 1px solid var(--border);
        }
        .summary-card.high { border-left: 4px solid var(--pass); }
        .summary-card.medium { border-left: 4px solid var(--warn); }
        .summary-card.low { border-left: 4px solid var(--fail); }
        .summary-label {
            font-size: 0.75rem;
            text-transform: uppercase;
            color: var(--muted);
            letter-spacing: 0.05em;
        }
        .summary-value { font-size: 1.5rem; font-weight: 600; }
        table {
            width: 100%;
            border-collapse: collapse;
            background: var(--card);
            border-radius: 0.5rem;
            overflow: hidden;
            margin-bottom: 2rem;
        }
        th, td { padding: 0.75rem 1rem; text-align: left; border-bottom: 1px solid var(--border); }
        th {
            background: rgba(0,0,0,0.2);
            font-weight: 600;
            font-size: 0.75rem;
            text-transform: uppercase;
            letter-spacing: 0.05em;
            color: var(--muted);
        }
        tr:last-child td { border-bottom: none; }
        .pct.high { color: var(--pass); }
        .pct.medium { color: var(--warn); }
        .pct.low { color: var(--fail); }
        .status { display: inline-block; padding: 0.25rem 0.5rem; border-radius: 0.25rem; font-size: 0.75rem; font-weight: 600; }
        .status.pass { background: rgba(22, 163, 74, 0.2); color: var(--pass); }
        .status.fail { background: rgba(220, 38, 38, 0.2); color: var(--fail); }
        .section-title { font-size: 1.25rem; margin-bottom: 1rem; font-weight: 600; }
        pre.source { background: var(--card); border-radius: 0.5rem; padding: 1rem 0; overflow-x: auto; }
        .line { display: flex; font-family: ui-monospace, SFMono-Regular, Menlo, monospace; font-size: 0.8125rem; }
        .line .no { min-width: 4rem; text-align: right; padding-right: 1rem; color: var(--muted); }
        .line .hits { min-width: 4rem; text-align: right; padding-right: 1rem; color: var(--muted); }
        .line.covered { background: rgba(22, 163, 74, 0.12); }
        .line.uncovered { background: rgba(220, 38, 38, 0.18); }
        .missing { color: var(--muted); }
    </style>`

var htmlTemplates = template.Must(template.New("html").Funcs(template.FuncMap{
	"pct":  formatPct,
	"band": band,
}).Parse(`
{{define "summary"}}
        <div class="summary">
            {{range .}}
            <div class="summary-card {{band .Percent}}">
                <div class="summary-label">{{.Name}}</div>
                <div class="summary-value">{{pct .Percent}}%</div>
                <div class="summary-label">{{.Covered}}/{{.Total}}</div>
            </div>
            {{end}}
        </div>
{{end}}

{{define "rows"}}
        <table>
            <thead>
                <tr><th>{{.Title}}</th><th>Statements</th><th>Branches</th><th>Functions</th><th>Lines</th></tr>
            </thead>
            <tbody>
                {{range .Entries}}
                <tr>
                    <td><a href="{{.Href}}">{{.Name}}</a></td>
                    {{range .Cells}}<td class="pct {{band .Percent}}">{{pct .Percent}}% <span class="summary-label">({{.Covered}}/{{.Total}})</span></td>{{end}}
                </tr>
                {{end}}
            </tbody>
        </table>
{{end}}

{{define "index"}}<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Coverage Report: {{.Title}}</title>` + htmlStyle + `
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p class="timestamp">{{if .Up}}<a href="{{.Up}}">All files</a> &middot; {{end}}Generated {{.Timestamp}}</p>
        {{template "summary" .Summary}}
        {{if .Thresholds}}
        <h2 class="section-title">Thresholds</h2>
        <table>
            <thead><tr><th>Selector</th><th>Category</th><th>Coverage</th><th>Required</th><th>Status</th></tr></thead>
            <tbody>
                {{range .Thresholds}}
                <tr>
                    <td>{{.Selector}}</td><td>{{.Category}}</td><td>{{.Actual}}</td><td>{{.Required}}</td>
                    <td><span class="status {{if eq .Status "PASS"}}pass{{else}}fail{{end}}">{{.Status}}</span></td>
                </tr>
                {{end}}
            </tbody>
        </table>
        {{end}}
        {{if .Dirs.Entries}}{{template "rows" .Dirs}}{{end}}
        {{if .Files.Entries}}{{template "rows" .Files}}{{end}}
    </div>
</body>
</html>
{{end}}

{{define "file"}}<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Coverage Report: {{.Title}}</title>` + htmlStyle + `
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <p class="timestamp"><a href="{{.Up}}">All files</a> &middot; <a href="index.html">{{.Dir}}</a> &middot; Generated {{.Timestamp}}</p>
        {{template "summary" .Summary}}
        {{if .Lines}}
        <pre class="source">{{range .Lines}}<div class="line {{.Class}}"><span class="no">{{.No}}</span><span class="hits">{{.Hits}}</span><span>{{.Text}}</span></div>{{end}}</pre>
        {{else}}
        <p class="missing">Source is not available.</p>
        {{end}}
    </div>
</body>
</html>
{{end}}
`))

type htmlStat struct {
	Name    string
	Covered int
	Total   int
	Percent float64
}

type htmlEntry struct {
	Name  string
	Href  string
	Cells []htmlStat
}

type htmlTable struct {
	Title   string
	Entries []htmlEntry
}

type htmlThreshold struct {
	Selector string
	Category domain.Category
	Actual   string
	Required string
	Status   domain.Status
}

type htmlIndex struct {
	Title      string
	Up         string
	Timestamp  string
	Summary    []htmlStat
	Thresholds []htmlThreshold
	Dirs       htmlTable
	Files      htmlTable
}

type htmlLine struct {
	No    int
	Hits  string
	Class string
	Text  string
}

type htmlFile struct {
	Title     string
	Dir       string
	Up        string
	Timestamp string
	Summary   []htmlStat
	Lines     []htmlLine
}

type htmlReporter struct {
	opts application.ReporterOptions
}

// Render writes <coverage dir>/html: index.html for the project, one
// index.html per directory and one page per file.
func (r htmlReporter) Render(ctx context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	base, err := outputPath(rc, r.opts, htmlDir)
	if err != nil {
		return err
	}
	timestamp := rc.Generated.Format("2006-01-02 15:04:05")

	byDir := make(map[string][]fileRow)
	for _, row := range rows(store, rc.Root) {
		dir := path.Dir(sitePath(row.Path))
		byDir[dir] = append(byDir[dir], row)
	}
	dirs := make([]string, 0, len(byDir))
	for d := range byDir {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	root := htmlIndex{
		Title:      "All files",
		Timestamp:  timestamp,
		Thresholds: thresholdRows(rc.Thresholds),
		Dirs:       htmlTable{Title: "Directory"},
		Files:      htmlTable{Title: "File"},
	}
	var all domain.FileSummary
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		files := byDir[dir]
		sum := total(files)
		all = all.Add(sum)
		if dir == "." {
			root.Files.Entries = fileEntries(files)
		} else {
			root.Dirs.Entries = append(root.Dirs.Entries, htmlEntry{Name: dir, Href: dir + "/index.html", Cells: stats(sum)})
			up := upLink(dir)
			page := htmlIndex{Title: dir, Up: up, Timestamp: timestamp, Summary: stats(sum), Files: htmlTable{Title: "File", Entries: fileEntries(files)}}
			if err := renderPage(filepath.Join(base, filepath.FromSlash(dir), "index.html"), "index", page); err != nil {
				return err
			}
		}
		for _, row := range files {
			page := htmlFile{
				Title:     row.Path,
				Dir:       dir,
				Up:        upLink(dir),
				Timestamp: timestamp,
				Summary:   stats(row.Summary),
				Lines:     sourceLines(row.Record),
			}
			target := filepath.Join(base, filepath.FromSlash(path.Join(dir, pageName(row.Path))))
			if err := renderPage(target, "file", page); err != nil {
				return err
			}
		}
	}
	root.Summary = stats(all)
	return renderPage(filepath.Join(base, "index.html"), "index", root)
}

func renderPage(target, name string, data any) error {
	return writeFile(target, func(w *bufio.Writer) error {
		return htmlTemplates.ExecuteTemplate(w, name, data)
	})
}

// sitePath maps a display path to a relative path inside the site.
func sitePath(p string) string {
	p = strings.ReplaceAll(p, ":", "")
	if strings.HasPrefix(p, "/") {
		return "_external" + p
	}
	return p
}

// pageName is the file name of the page for a source file. Names never equal
// the directory page: "index" becomes "_index" and a leading "_" is doubled.
func pageName(p string) string {
	name := path.Base(sitePath(p))
	if name == "index" || strings.HasPrefix(name, "_") {
		name = "_" + name
	}
	return name + ".html"
}

func upLink(dir string) string {
	if dir == "." {
		return "index.html"
	}
	return strings.Repeat("../", strings.Count(dir, "/")+1) + "index.html"
}

func stats(s domain.FileSummary) []htmlStat {
	out := make([]htmlStat, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		st := s.Stat(c)
		out = append(out, htmlStat{Name: string(c), Covered: st.Covered, Total: st.Total, Percent: st.Percent()})
	}
	return out
}

func fileEntries(files []fileRow) []htmlEntry {
	out := make([]htmlEntry, 0, len(files))
	for _, f := range files {
		out = append(out, htmlEntry{Name: path.Base(sitePath(f.Path)), Href: pageName(f.Path), Cells: stats(f.Summary)})
	}
	return out
}

func thresholdRows(r domain.ThresholdResult) []htmlThreshold {
	var out []htmlThreshold
	for _, s := range r.Selectors {
		if s.NoData {
			out = append(out, htmlThreshold{Selector: s.Selector, Actual: "no data", Status: s.Status})
			continue
		}
		for _, c := range s.Categories {
			out = append(out, htmlThreshold{
				Selector: s.Selector,
				Category: c.Category,
				Actual:   formatPct(c.Percent) + "%",
				Required: c.Required.String(),
				Status:   c.Status,
			})
		}
	}
	return out
}

// sourceLines annotates the file's source with line hits. It returns nil
// when the source can no longer be read.
func sourceLines(rec *domain.CoverageRecord) []htmlLine {
	content, err := os.ReadFile(rec.Key().OSPath())
	if err != nil {
		return nil
	}
	hits := rec.LineHits()
	text := strings.Split(strings.TrimSuffix(string(bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))), "\n"), "\n")
	out := make([]htmlLine, 0, len(text))
	for i, t := range text {
		l := htmlLine{No: i + 1, Text: t}
		if n, ok := hits[i+1]; ok {
			l.Hits = formatHits(n)
			l.Class = "covered"
			if n == 0 {
				l.Class = "uncovered"
			}
		}
		out = append(out, l)
	}
	return out
}

func formatHits(n uint64) string {
	return strconv.FormatUint(n, 10) + "x"
}

func band(p float64) string {
	switch {
	case p >= highWatermark:
		return "high"
	case p >= lowWatermark:
		return "medium"
	default:
		return "low"
	}
}
