package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Category is a class of countable constructs.
type Category string

const (
	CategoryStatements Category = "statements"
	CategoryBranches   Category = "branches"
	CategoryFunctions  Category = "functions"
	CategoryLines      Category = "lines"
)

// Categories lists every category in reporting order.
var Categories = []Category{CategoryStatements, CategoryBranches, CategoryFunctions, CategoryLines}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown coverage category %q", s)
}

var (
	ErrUnknownConstruct = errors.New("unknown construct")
	ErrCountShape       = errors.New("counts do not match instrumentation map")
	ErrUnknownFile      = errors.New("file not in store")
)

// Position is a 1-based line and column.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Span is a source range.
type Span struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Statement is one countable statement.
type Statement struct {
	ID   int  `json:"id"`
	Span Span `json:"span"`
}

// Branch is a decision point with a fixed number of arms.
type Branch struct {
	ID   int    `json:"id"`
	Kind string `json:"kind"`
	Line int    `json:"line"`
	Arms int    `json:"arms"`
}

// Function is one countable function or closure.
type Function struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Span Span   `json:"span"`
}

// InstrumentationMap is the static set of constructs declared for one file version.
// It is immutable once produced.
type InstrumentationMap struct {
	Key         FileKey     `json:"path"`
	Fingerprint string      `json:"fingerprint"`
	Version     string      `json:"instrumenter"`
	Statements  []Statement `json:"statements"`
	Branches    []Branch    `json:"branches"`
	Functions   []Function  `json:"functions"`
	Lines       []int       `json:"lines"`
}

// Validate checks the structural invariants of the map.
func (m InstrumentationMap) Validate() error {
	if m.Key.IsEmpty() {
		return ErrEmptyFilePath
	}
	if m.Fingerprint == "" {
		return fmt.Errorf("%s: missing fingerprint", m.Key)
	}
	for i, s := range m.Statements {
		if s.ID != i {
			return fmt.Errorf("%s: statement %d has id %d", m.Key, i, s.ID)
		}
	}
	for i, b := range m.Branches {
		if b.ID != i {
			return fmt.Errorf("%s: branch %d has id %d", m.Key, i, b.ID)
		}
		if b.Arms < 1 {
			return fmt.Errorf("%s: branch %d has no arms", m.Key, i)
		}
	}
	for i, f := range m.Functions {
		if f.ID != i {
			return fmt.Errorf("%s: function %d has id %d", m.Key, i, f.ID)
		}
	}
	if !sort.IntsAreSorted(m.Lines) {
		return fmt.Errorf("%s: lines are not sorted", m.Key)
	}
	return nil
}

// Identity names the counter layout of m. Records can only be summed when
// their identities are equal: same source fingerprint, same instrumenter
// version and same construct shape.
func (m InstrumentationMap) Identity() string {
	d := xxhash.New()
	buf := make([]byte, 0, 16)
	put := func(tag byte, v int) {
		buf = append(buf[:0], tag)
		buf = strconv.AppendInt(buf, int64(v), 10)
		_, _ = d.Write(buf)
	}
	put('s', len(m.Statements))
	put('f', len(m.Functions))
	for _, b := range m.Branches {
		put('b', b.Arms)
	}
	for _, n := range m.Lines {
		put('l', n)
	}
	return fmt.Sprintf("%s@%s#%08x", m.Fingerprint, m.Version, uint32(d.Sum64()))
}

// lineIndex returns the index of line in m.Lines.
func (m InstrumentationMap) lineIndex(line int) (int, bool) {
	i := sort.SearchInts(m.Lines, line)
	if i < len(m.Lines) && m.Lines[i] == line {
		return i, true
	}
	return 0, false
}

// Delta is a counter increment for one construct.
// Arm is only meaningful for branches; ID is the line number for lines.
type Delta struct {
	Category Category
	ID       int
	Arm      int
	Count    uint64
}

// CoverageRecord holds hit counts for every construct of one InstrumentationMap.
type CoverageRecord struct {
	Map        InstrumentationMap `json:"map"`
	Statements []uint64           `json:"s"`
	Branches   [][]uint64         `json:"b"`
	Functions  []uint64           `json:"f"`
	Lines      []uint64           `json:"l"`
	InScope    bool               `json:"inScope"`
}

// NewZeroRecord creates a zero-coverage placeholder for m.
func NewZeroRecord(m InstrumentationMap) *CoverageRecord {
	r := &CoverageRecord{
		Map:        m,
		Statements: make([]uint64, len(m.Statements)),
		Branches:   make([][]uint64, len(m.Branches)),
		Functions:  make([]uint64, len(m.Functions)),
		Lines:      make([]uint64, len(m.Lines)),
	}
	for i, b := range m.Branches {
		r.Branches[i] = make([]uint64, b.Arms)
	}
	return r
}

// Key returns the file identity of the record.
func (r *CoverageRecord) Key() FileKey {
	return r.Map.Key
}

// CheckShape verifies that the count slices match the map.
func (r *CoverageRecord) CheckShape() error {
	m := r.Map
	if len(r.Statements) != len(m.Statements) || len(r.Functions) != len(m.Functions) ||
		len(r.Lines) != len(m.Lines) || len(r.Branches) != len(m.Branches) {
		return fmt.Errorf("%w: %s", ErrCountShape, m.Key)
	}
	for i, b := range m.Branches {
		if len(r.Branches[i]) != b.Arms {
			return fmt.Errorf("%w: %s branch %d", ErrCountShape, m.Key, i)
		}
	}
	return nil
}

// Accumulate adds d to the matching counter. Counts never decrease.
func (r *CoverageRecord) Accumulate(d Delta) error {
	switch d.Category {
	case CategoryStatements:
		if d.ID < 0 || d.ID >= len(r.Statements) {
			return fmt.Errorf("%w: statement %d in %s", ErrUnknownConstruct, d.ID, r.Key())
		}
		r.Statements[d.ID] += d.Count
	case CategoryBranches:
		if d.ID < 0 || d.ID >= len(r.Branches) || d.Arm < 0 || d.Arm >= len(r.Branches[d.ID]) {
			return fmt.Errorf("%w: branch %d arm %d in %s", ErrUnknownConstruct, d.ID, d.Arm, r.Key())
		}
		r.Branches[d.ID][d.Arm] += d.Count
	case CategoryFunctions:
		if d.ID < 0 || d.ID >= len(r.Functions) {
			return fmt.Errorf("%w: function %d in %s", ErrUnknownConstruct, d.ID, r.Key())
		}
		r.Functions[d.ID] += d.Count
	case CategoryLines:
		i, ok := r.Map.lineIndex(d.ID)
		if !ok {
			return fmt.Errorf("%w: line %d in %s", ErrUnknownConstruct, d.ID, r.Key())
		}
		r.Lines[i] += d.Count
	default:
		return fmt.Errorf("%w: category %q", ErrUnknownConstruct, d.Category)
	}
	return nil
}

// Clone returns a deep copy of the counts. The map is shared since it is immutable.
func (r *CoverageRecord) Clone() *CoverageRecord {
	c := &CoverageRecord{
		Map:        r.Map,
		Statements: append([]uint64(nil), r.Statements...),
		Branches:   make([][]uint64, len(r.Branches)),
		Functions:  append([]uint64(nil), r.Functions...),
		Lines:      append([]uint64(nil), r.Lines...),
		InScope:    r.InScope,
	}
	for i, arms := range r.Branches {
		c.Branches[i] = append([]uint64(nil), arms...)
	}
	return c
}

// add sums other into r. Callers guarantee identical map identities.
func (r *CoverageRecord) add(other *CoverageRecord) {
	for i, v := range other.Statements {
		r.Statements[i] += v
	}
	for i, arms := range other.Branches {
		for j, v := range arms {
			r.Branches[i][j] += v
		}
	}
	for i, v := range other.Functions {
		r.Functions[i] += v
	}
	for i, v := range other.Lines {
		r.Lines[i] += v
	}
	r.InScope = r.InScope || other.InScope
}

// IsZero reports whether no construct was hit.
func (r *CoverageRecord) IsZero() bool {
	s := r.Summary()
	for _, c := range Categories {
		if s.Stat(c).Covered > 0 {
			return false
		}
	}
	return true
}

// UncoveredLines returns the line numbers with a zero hit count.
func (r *CoverageRecord) UncoveredLines() []int {
	var lines []int
	for i, v := range r.Lines {
		if v == 0 {
			lines = append(lines, r.Map.Lines[i])
		}
	}
	return lines
}

// LineHits returns hit counts keyed by line number.
func (r *CoverageRecord) LineHits() map[int]uint64 {
	hits := make(map[int]uint64, len(r.Lines))
	for i, v := range r.Lines {
		hits[r.Map.Lines[i]] = v
	}
	return hits
}

// Summary computes covered/total per category.
func (r *CoverageRecord) Summary() FileSummary {
	var s FileSummary
	s.Statements = countCovered(r.Statements)
	for _, arms := range r.Branches {
		b := countCovered(arms)
		s.Branches.Covered += b.Covered
		s.Branches.Total += b.Total
	}
	s.Functions = countCovered(r.Functions)
	s.Lines = countCovered(r.Lines)
	return s
}

func countCovered(counts []uint64) CategoryStat {
	stat := CategoryStat{Total: len(counts)}
	for _, v := range counts {
		if v > 0 {
			stat.Covered++
		}
	}
	return stat
}

// CategoryStat summarizes covered vs total constructs of one category.
type CategoryStat struct {
	Covered int `json:"covered"`
	Total   int `json:"total"`
}

// Percent returns the coverage percentage. An empty category is fully covered.
func (c CategoryStat) Percent() float64 {
	return PercentageFromRatio(c.Covered, c.Total).Value()
}

// Uncovered returns the number of uncovered constructs.
func (c CategoryStat) Uncovered() int {
	return c.Total - c.Covered
}

// Add returns the sum of two stats.
func (c CategoryStat) Add(other CategoryStat) CategoryStat {
	return CategoryStat{Covered: c.Covered + other.Covered, Total: c.Total + other.Total}
}

// FileSummary holds the four category stats for a file or a group of files.
type FileSummary struct {
	Statements CategoryStat `json:"statements"`
	Branches   CategoryStat `json:"branches"`
	Functions  CategoryStat `json:"functions"`
	Lines      CategoryStat `json:"lines"`
}

// Stat returns the stat of category c.
func (s FileSummary) Stat(c Category) CategoryStat {
	switch c {
	case CategoryStatements:
		return s.Statements
	case CategoryBranches:
		return s.Branches
	case CategoryFunctions:
		return s.Functions
	case CategoryLines:
		return s.Lines
	}
	return CategoryStat{}
}

// Add returns the category-wise sum.
func (s FileSummary) Add(other FileSummary) FileSummary {
	return FileSummary{
		Statements: s.Statements.Add(other.Statements),
		Branches:   s.Branches.Add(other.Branches),
		Functions:  s.Functions.Add(other.Functions),
		Lines:      s.Lines.Add(other.Lines),
	}
}
