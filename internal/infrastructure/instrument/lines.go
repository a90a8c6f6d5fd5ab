package instrument

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/felixgeelhaar/covkit/internal/domain"
)

// LineExtractor treats every non-blank line as one statement and one line.
// It is used for languages without a dedicated extractor.
type LineExtractor struct{}

func (LineExtractor) Name() string { return "line" }

func (LineExtractor) Extract(_ domain.FileKey, content []byte) (Constructs, error) {
	var c Constructs
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		trimmed := strings.TrimLeft(text, " \t")
		if strings.TrimSpace(trimmed) == "" {
			continue
		}
		c.Statements = append(c.Statements, domain.Statement{
			ID: len(c.Statements),
			Span: domain.Span{
				Start: domain.Position{Line: lineNo, Column: len(text) - len(trimmed) + 1},
				End:   domain.Position{Line: lineNo, Column: len(strings.TrimRight(text, " \t\r")) + 1},
			},
		})
		c.Lines = append(c.Lines, lineNo)
	}
	return c, scanner.Err()
}
