package partial

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// LCOVExt marks tracefiles produced by lcov-compatible tools.
const LCOVExt = ".info"

// lcovVersion identifies maps rebuilt from a tracefile.
const lcovVersion = "lcov"

// lcovFile accumulates the records of one SF section.
type lcovFile struct {
	path      string
	lines     map[int]uint64
	functions []string
	fnLine    map[string]int
	fnHits    map[string]uint64
	branches  map[[2]int]map[int]uint64
}

func newLCOVFile(path string) *lcovFile {
	return &lcovFile{
		path:     path,
		lines:    make(map[int]uint64),
		fnLine:   make(map[string]int),
		fnHits:   make(map[string]uint64),
		branches: make(map[[2]int]map[int]uint64),
	}
}

// readLCOV turns a tracefile into coverage records. Relative SF paths are
// taken from base. Statements mirror DA lines since lcov carries no spans.
func readLCOV(r io.Reader, base string) ([]*domain.CoverageRecord, error) {
	var (
		records []*domain.CoverageRecord
		current *lcovFile
		lineNo  int
	)
	flush := func() error {
		if current == nil {
			return nil
		}
		rec, err := current.record(base)
		if err != nil {
			return err
		}
		records = append(records, rec)
		current = nil
		return nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tag, value, _ := strings.Cut(line, ":")
		switch {
		case tag == "SF":
			if err := flush(); err != nil {
				return nil, err
			}
			current = newLCOVFile(value)
		case line == "end_of_record":
			if err := flush(); err != nil {
				return nil, err
			}
		case current == nil:
			// TN and anything before the first SF
		case tag == "DA":
			parts := strings.Split(value, ",")
			if len(parts) < 2 {
				return nil, fmt.Errorf("line %d: malformed DA", lineNo)
			}
			n, err1 := strconv.Atoi(parts[0])
			hits, err2 := parseCount(parts[1])
			if err1 != nil || err2 != nil || n < 1 {
				return nil, fmt.Errorf("line %d: malformed DA", lineNo)
			}
			current.lines[n] += hits
		case tag == "FN":
			// FN:<line>,<name> or FN:<line>,<end line>,<name>
			parts := strings.Split(value, ",")
			if len(parts) < 2 {
				return nil, fmt.Errorf("line %d: malformed FN", lineNo)
			}
			n, err := strconv.Atoi(parts[0])
			if err != nil {
				return nil, fmt.Errorf("line %d: malformed FN", lineNo)
			}
			name := parts[len(parts)-1]
			if _, ok := current.fnLine[name]; !ok {
				current.functions = append(current.functions, name)
			}
			current.fnLine[name] = n
		case tag == "FNDA":
			hitsText, name, ok := strings.Cut(value, ",")
			hits, err := parseCount(hitsText)
			if !ok || err != nil {
				return nil, fmt.Errorf("line %d: malformed FNDA", lineNo)
			}
			current.fnHits[name] += hits
		case tag == "BRDA":
			parts := strings.Split(value, ",")
			if len(parts) != 4 {
				return nil, fmt.Errorf("line %d: malformed BRDA", lineNo)
			}
			n, err1 := strconv.Atoi(parts[0])
			block, err2 := strconv.Atoi(parts[1])
			arm, err3 := strconv.Atoi(parts[2])
			hits, err4 := parseCount(parts[3])
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil || arm < 0 {
				return nil, fmt.Errorf("line %d: malformed BRDA", lineNo)
			}
			id := [2]int{n, block}
			if current.branches[id] == nil {
				current.branches[id] = make(map[int]uint64)
			}
			current.branches[id][arm] += hits
		}
		// LF, LH, FNF, FNH, BRF and BRH are derived from the records above.
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lcov: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return records, nil
}

// parseCount reads a hit count; "-" means the branch was never evaluated.
func parseCount(s string) (uint64, error) {
	if s == "-" {
		return 0, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return uint64(f), nil
	}
	return 0, fmt.Errorf("invalid count %q", s)
}

func (f *lcovFile) record(base string) (*domain.CoverageRecord, error) {
	p := f.path
	if !filepath.IsAbs(p) {
		p = filepath.Join(base, p)
	}
	key, err := domain.NewFileKey(p)
	if err != nil {
		return nil, fmt.Errorf("SF %q: %w", f.path, err)
	}

	m := domain.InstrumentationMap{Key: key, Version: lcovVersion}
	lines := make([]int, 0, len(f.lines))
	for n := range f.lines {
		lines = append(lines, n)
	}
	sort.Ints(lines)
	m.Lines = lines
	for i, n := range lines {
		pos := domain.Position{Line: n, Column: 1}
		m.Statements = append(m.Statements, domain.Statement{ID: i, Span: domain.Span{Start: pos, End: pos}})
	}
	for i, name := range f.functions {
		pos := domain.Position{Line: f.fnLine[name], Column: 1}
		m.Functions = append(m.Functions, domain.Function{ID: i, Name: name, Span: domain.Span{Start: pos, End: pos}})
	}
	blocks := make([][2]int, 0, len(f.branches))
	for id := range f.branches {
		blocks = append(blocks, id)
	}
	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i][0] != blocks[j][0] {
			return blocks[i][0] < blocks[j][0]
		}
		return blocks[i][1] < blocks[j][1]
	})
	for i, id := range blocks {
		arms := 0
		for arm := range f.branches[id] {
			arms = max(arms, arm+1)
		}
		m.Branches = append(m.Branches, domain.Branch{ID: i, Kind: "lcov", Line: id[0], Arms: arms})
	}
	m.Fingerprint = shapeFingerprint(m)

	rec := domain.NewZeroRecord(m)
	for i, n := range lines {
		rec.Statements[i] = f.lines[n]
		rec.Lines[i] = f.lines[n]
	}
	for i, name := range f.functions {
		rec.Functions[i] = f.fnHits[name]
	}
	for i, id := range blocks {
		for arm, hits := range f.branches[id] {
			rec.Branches[i][arm] = hits
		}
	}
	return rec, nil
}

// shapeFingerprint hashes the declared constructs so that tracefiles
// describing the same file version merge without a mismatch.
func shapeFingerprint(m domain.InstrumentationMap) string {
	var b bytes.Buffer
	for _, n := range m.Lines {
		fmt.Fprintf(&b, "L%d;", n)
	}
	for _, fn := range m.Functions {
		fmt.Fprintf(&b, "F%d:%s;", fn.Span.Start.Line, fn.Name)
	}
	for _, br := range m.Branches {
		fmt.Fprintf(&b, "B%d:%d;", br.Line, br.Arms)
	}
	return fmt.Sprintf("lcov:%016x", xxhash.Sum64(b.Bytes()))
}
