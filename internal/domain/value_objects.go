package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// Value object errors.
var (
	ErrInvalidThreshold = errors.New("threshold must be between -inf and 100")
	ErrEmptyFilePath    = errors.New("file path cannot be empty")
	ErrRelativeFileKey  = errors.New("file key must be absolute")
)

// FileKey is the normalized, absolute, slash-separated identity of a source file.
// It is the unit of addressing in the coverage store and the run cache.
type FileKey struct {
	value string
}

// caseInsensitiveFS reports whether the host platform compares paths without case.
var caseInsensitiveFS = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// NewFileKey resolves path to an absolute path and normalizes it.
func NewFileKey(p string) (FileKey, error) {
	if strings.TrimSpace(p) == "" {
		return FileKey{}, ErrEmptyFilePath
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return FileKey{}, fmt.Errorf("resolve %s: %w", p, err)
	}
	return FileKey{value: normalizeKey(abs)}, nil
}

// ParseFileKey parses an already absolute key, as found in serialized documents.
func ParseFileKey(s string) (FileKey, error) {
	if strings.TrimSpace(s) == "" {
		return FileKey{}, ErrEmptyFilePath
	}
	if !filepath.IsAbs(filepath.FromSlash(s)) && !strings.HasPrefix(s, "/") {
		return FileKey{}, fmt.Errorf("%w: %s", ErrRelativeFileKey, s)
	}
	return FileKey{value: normalizeKey(filepath.FromSlash(s))}, nil
}

// MustFileKey creates a FileKey, panicking if invalid.
func MustFileKey(p string) FileKey {
	k, err := NewFileKey(p)
	if err != nil {
		panic(err)
	}
	return k
}

func normalizeKey(abs string) string {
	cleaned := filepath.ToSlash(filepath.Clean(abs))
	if caseInsensitiveFS {
		cleaned = strings.ToLower(cleaned)
	}
	return cleaned
}

// String returns the normalized key.
func (k FileKey) String() string {
	return k.value
}

// OSPath returns the key in the platform's separator form.
func (k FileKey) OSPath() string {
	return filepath.FromSlash(k.value)
}

// IsEmpty returns true for the zero value.
func (k FileKey) IsEmpty() bool {
	return k.value == ""
}

// Less orders keys lexically.
func (k FileKey) Less(other FileKey) bool {
	return k.value < other.value
}

// Dir returns the slash-separated directory of the key.
func (k FileKey) Dir() string {
	return path.Dir(k.value)
}

// Base returns the last element of the key.
func (k FileKey) Base() string {
	return path.Base(k.value)
}

// Rel returns the key relative to root, or the full key when it lies outside root.
func (k FileKey) Rel(root string) string {
	if root == "" {
		return k.value
	}
	r := normalizeKey(root)
	if r == "/" {
		return strings.TrimPrefix(k.value, "/")
	}
	if strings.HasPrefix(k.value, r+"/") {
		return strings.TrimPrefix(k.value, r+"/")
	}
	return k.value
}

// MarshalText implements encoding.TextMarshaler.
func (k FileKey) MarshalText() ([]byte, error) {
	return []byte(k.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FileKey) UnmarshalText(text []byte) error {
	parsed, err := ParseFileKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Threshold is a configured requirement for one coverage category.
// A non-negative value is a minimum percentage; a negative value -N allows
// at most N uncovered constructs.
type Threshold struct {
	value float64
}

// MaxUncoveredLimit bounds negative thresholds.
const MaxUncoveredLimit = math.MaxInt32

// NewThreshold creates a Threshold. Values above 100 are rejected, and so
// are uncovered limits beyond MaxUncoveredLimit.
func NewThreshold(value float64) (Threshold, error) {
	if value > 100 || math.IsNaN(value) {
		return Threshold{}, ErrInvalidThreshold
	}
	if value < -MaxUncoveredLimit {
		return Threshold{}, fmt.Errorf("%w: uncovered count %v exceeds %d", ErrInvalidThreshold, -value, MaxUncoveredLimit)
	}
	if value < 0 && value != math.Trunc(value) {
		return Threshold{}, fmt.Errorf("%w: uncovered count %v must be whole", ErrInvalidThreshold, value)
	}
	return Threshold{value: value}, nil
}

// MustThreshold creates a new Threshold, panicking if invalid.
func MustThreshold(value float64) Threshold {
	t, err := NewThreshold(value)
	if err != nil {
		panic(err)
	}
	return t
}

// Value returns the raw configured value.
func (t Threshold) Value() float64 {
	return t.value
}

// IsUncoveredLimit reports whether the threshold caps uncovered constructs.
func (t Threshold) IsUncoveredLimit() bool {
	return t.value < 0
}

// IsMet reports whether stat satisfies the threshold.
func (t Threshold) IsMet(stat CategoryStat) bool {
	if t.IsUncoveredLimit() {
		return stat.Uncovered() <= int(-t.value)
	}
	if stat.Total == 0 {
		return true
	}
	return float64(stat.Covered)*100 >= t.value*float64(stat.Total)
}

// String returns a formatted representation.
func (t Threshold) String() string {
	if t.IsUncoveredLimit() {
		return fmt.Sprintf("%d uncovered", int(-t.value))
	}
	return fmt.Sprintf("%g%%", t.value)
}

// MarshalJSON encodes the threshold as its raw number.
func (t Threshold) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.value)
}

// UnmarshalJSON decodes a raw number and validates it.
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := NewThreshold(v)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Percentage represents a coverage percentage value.
type Percentage struct {
	value float64
}

// NewPercentage creates a new Percentage rounded to two decimal places.
func NewPercentage(value float64) Percentage {
	return Percentage{value: Round2(value)}
}

// PercentageFromRatio calculates a percentage from covered/total.
// An empty category counts as fully covered.
func PercentageFromRatio(covered, total int) Percentage {
	if total == 0 {
		return Percentage{value: 100}
	}
	return NewPercentage((float64(covered) / float64(total)) * 100)
}

// Value returns the percentage value.
func (p Percentage) Value() float64 {
	return p.value
}

// String returns a formatted representation.
func (p Percentage) String() string {
	return fmt.Sprintf("%.2f%%", p.value)
}

// Round2 rounds a float64 to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
