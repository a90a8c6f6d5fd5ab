package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// Watermarks for colouring percentages: below low is red, below high is yellow.
const (
	lowWatermark  = 50.0
	highWatermark = 80.0
)

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04"))
)

// fileRow is one in-scope record prepared for display.
type fileRow struct {
	Record  *domain.CoverageRecord
	Path    string
	Summary domain.FileSummary
}

// rows returns the in-scope records with root-relative display paths.
func rows(store *domain.CoverageStore, root string) []fileRow {
	records := store.InScopeRecords()
	out := make([]fileRow, 0, len(records))
	for _, r := range records {
		out = append(out, fileRow{Record: r, Path: r.Key().Rel(root), Summary: r.Summary()})
	}
	return out
}

func total(rows []fileRow) domain.FileSummary {
	var s domain.FileSummary
	for _, r := range rows {
		s = s.Add(r.Summary)
	}
	return s
}

func formatPct(p float64) string {
	return strconv.FormatFloat(domain.Round2(p), 'f', -1, 64)
}

func colorize(text string, pct float64, enabled bool) string {
	if !enabled {
		return text
	}
	switch {
	case pct >= highWatermark:
		return passStyle.Render(text)
	case pct >= lowWatermark:
		return warnStyle.Render(text)
	default:
		return failStyle.Render(text)
	}
}

// lineRanges compacts sorted line numbers, e.g. 3-5,9.
func lineRanges(lines []int) string {
	var parts []string
	for i := 0; i < len(lines); {
		j := i
		for j+1 < len(lines) && lines[j+1] == lines[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, strconv.Itoa(lines[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", lines[i], lines[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

func isFull(s domain.FileSummary) bool {
	for _, c := range domain.Categories {
		st := s.Stat(c)
		if st.Covered != st.Total {
			return false
		}
	}
	return true
}
