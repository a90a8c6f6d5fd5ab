package report

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/felixgeelhaar/covkit/internal/application"
	"github.com/felixgeelhaar/covkit/internal/domain"
)

const (
	coberturaFile    = "cobertura-coverage.xml"
	coberturaDoctype = `<!DOCTYPE coverage SYSTEM "http://cobertura.sourceforge.net/xml/coverage-04.dtd">`
)

type coberturaCoverage struct {
	XMLName         xml.Name           `xml:"coverage"`
	LineRate        string             `xml:"line-rate,attr"`
	BranchRate      string             `xml:"branch-rate,attr"`
	LinesCovered    int                `xml:"lines-covered,attr"`
	LinesValid      int                `xml:"lines-valid,attr"`
	BranchesCovered int                `xml:"branches-covered,attr"`
	BranchesValid   int                `xml:"branches-valid,attr"`
	Complexity      int                `xml:"complexity,attr"`
	Version         string             `xml:"version,attr"`
	Timestamp       int64              `xml:"timestamp,attr"`
	Sources         []string           `xml:"sources>source"`
	Packages        []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Name       string           `xml:"name,attr"`
	LineRate   string           `xml:"line-rate,attr"`
	BranchRate string           `xml:"branch-rate,attr"`
	Classes    []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Name       string            `xml:"name,attr"`
	Filename   string            `xml:"filename,attr"`
	LineRate   string            `xml:"line-rate,attr"`
	BranchRate string            `xml:"branch-rate,attr"`
	Methods    []coberturaMethod `xml:"methods>method"`
	Lines      []coberturaLine   `xml:"lines>line"`
}

type coberturaMethod struct {
	Name       string          `xml:"name,attr"`
	Hits       uint64          `xml:"hits,attr"`
	Signature  string          `xml:"signature,attr"`
	LineRate   string          `xml:"line-rate,attr"`
	BranchRate string          `xml:"branch-rate,attr"`
	Lines      []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number            int    `xml:"number,attr"`
	Hits              uint64 `xml:"hits,attr"`
	Branch            bool   `xml:"branch,attr"`
	ConditionCoverage string `xml:"condition-coverage,attr,omitempty"`
}

type coberturaReporter struct {
	opts application.ReporterOptions
}

// Render writes a Cobertura XML document with one package per directory.
func (r coberturaReporter) Render(_ context.Context, store *domain.CoverageStore, rc application.RenderContext) error {
	target, err := outputPath(rc, r.opts, coberturaFile)
	if err != nil {
		return err
	}
	all := rows(store, rc.Root)
	sum := total(all)
	doc := coberturaCoverage{
		LineRate:        rate(sum.Lines),
		BranchRate:      rate(sum.Branches),
		LinesCovered:    sum.Lines.Covered,
		LinesValid:      sum.Lines.Total,
		BranchesCovered: sum.Branches.Covered,
		BranchesValid:   sum.Branches.Total,
		Version:         "covkit",
		Timestamp:       rc.Generated.UnixMilli(),
		Sources:         []string{rc.Root},
	}

	byPkg := make(map[string][]fileRow)
	for _, row := range all {
		pkg := path.Dir(row.Path)
		byPkg[pkg] = append(byPkg[pkg], row)
	}
	names := make([]string, 0, len(byPkg))
	for n := range byPkg {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		files := byPkg[name]
		ps := total(files)
		pkg := coberturaPackage{Name: strings.ReplaceAll(name, "/", "."), LineRate: rate(ps.Lines), BranchRate: rate(ps.Branches)}
		for _, f := range files {
			pkg.Classes = append(pkg.Classes, coberturaClassOf(f))
		}
		doc.Packages = append(doc.Packages, pkg)
	}

	return writeFile(target, func(w *bufio.Writer) error {
		if _, err := fmt.Fprintf(w, "%s%s\n", xml.Header, coberturaDoctype); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w)
		return err
	})
}

func coberturaClassOf(f fileRow) coberturaClass {
	rec := f.Record
	m := rec.Map
	branchesByLine := make(map[int]domain.CategoryStat)
	for i, b := range m.Branches {
		st := branchesByLine[b.Line]
		for _, hits := range rec.Branches[i] {
			st.Total++
			if hits > 0 {
				st.Covered++
			}
		}
		branchesByLine[b.Line] = st
	}

	class := coberturaClass{
		Name:       path.Base(f.Path),
		Filename:   f.Path,
		LineRate:   rate(f.Summary.Lines),
		BranchRate: rate(f.Summary.Branches),
	}
	for i, fn := range m.Functions {
		class.Methods = append(class.Methods, coberturaMethod{
			Name:       fn.Name,
			Hits:       rec.Functions[i],
			LineRate:   rate(domain.CategoryStat{Covered: boolInt(rec.Functions[i] > 0), Total: 1}),
			BranchRate: "1",
			Lines:      []coberturaLine{{Number: fn.Span.Start.Line, Hits: rec.Functions[i]}},
		})
	}
	for i, line := range m.Lines {
		l := coberturaLine{Number: line, Hits: rec.Lines[i]}
		if st, ok := branchesByLine[line]; ok {
			l.Branch = true
			l.ConditionCoverage = fmt.Sprintf("%s%% (%d/%d)", formatPct(st.Percent()), st.Covered, st.Total)
		}
		class.Lines = append(class.Lines, l)
	}
	return class
}

// rate is the covered fraction in [0,1] as Cobertura expects.
func rate(s domain.CategoryStat) string {
	if s.Total == 0 {
		return "1"
	}
	return fmt.Sprintf("%.4g", float64(s.Covered)/float64(s.Total))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
