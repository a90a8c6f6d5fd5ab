package scope

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

const (
	maxScanLines = 20
	pragmaIgnore = "covkit:ignore"
)

// HasIgnorePragma reports whether the first lines of path carry covkit:ignore.
// A missing file has no pragma.
func HasIgnorePragma(path string) (bool, error) {
	// #nosec G304 -- path comes from the resolved scope
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if strings.Contains(scanner.Text(), pragmaIgnore) {
			return true, nil
		}
		if lineNo >= maxScanLines {
			break
		}
	}
	return false, scanner.Err()
}
