package domain

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestThreshold(t *testing.T) {
	t.Run("NewThreshold validates range", func(t *testing.T) {
		cases := []struct {
			value float64
			valid bool
		}{
			{0, true},
			{50, true},
			{100, true},
			{-1, true},
			{-10, true},
			{-1.5, false},
			{101, false},
			{-MaxUncoveredLimit, true},
			{-MaxUncoveredLimit - 1, false},
			{-1e20, false},
			{math.Inf(-1), false},
		}

		for _, tc := range cases {
			_, err := NewThreshold(tc.value)
			if tc.valid && err != nil {
				t.Errorf("NewThreshold(%v) should be valid, got error: %v", tc.value, err)
			}
			if !tc.valid && !errors.Is(err, ErrInvalidThreshold) {
				t.Errorf("NewThreshold(%v) should be invalid, got %v", tc.value, err)
			}
		}
	})

	t.Run("MustThreshold panics on invalid value", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Error("MustThreshold(101) should panic")
			}
		}()
		MustThreshold(101)
	})

	t.Run("IsMet compares percentages with >=", func(t *testing.T) {
		threshold := MustThreshold(80)
		if !threshold.IsMet(CategoryStat{Covered: 8, Total: 10}) {
			t.Error("80% should meet 80% threshold")
		}
		if threshold.IsMet(CategoryStat{Covered: 79, Total: 100}) {
			t.Error("79% should not meet 80% threshold")
		}
	})

	t.Run("IsMet does not round up near misses", func(t *testing.T) {
		threshold := MustThreshold(100)
		if threshold.IsMet(CategoryStat{Covered: 99999, Total: 100000}) {
			t.Error("99.999% should not meet 100% threshold")
		}
	})

	t.Run("IsMet honours the largest uncovered limit", func(t *testing.T) {
		if !MustThreshold(-MaxUncoveredLimit).IsMet(CategoryStat{Covered: 0, Total: 1000}) {
			t.Error("1000 uncovered should be within the largest limit")
		}
	})

	t.Run("IsMet treats empty categories as covered", func(t *testing.T) {
		if !MustThreshold(100).IsMet(CategoryStat{}) {
			t.Error("zero total should meet any threshold")
		}
	})

	t.Run("negative threshold caps uncovered constructs", func(t *testing.T) {
		threshold := MustThreshold(-2)
		if !threshold.IsUncoveredLimit() {
			t.Fatal("expected uncovered limit")
		}
		if !threshold.IsMet(CategoryStat{Covered: 8, Total: 10}) {
			t.Error("2 uncovered should meet -2")
		}
		if threshold.IsMet(CategoryStat{Covered: 7, Total: 10}) {
			t.Error("3 uncovered should not meet -2")
		}
		if threshold.String() != "2 uncovered" {
			t.Errorf("unexpected String %q", threshold.String())
		}
	})

	t.Run("JSON round trip keeps the raw number", func(t *testing.T) {
		data, err := json.Marshal(MustThreshold(-3))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "-3" {
			t.Errorf("expected -3, got %s", data)
		}
		var th Threshold
		if err := json.Unmarshal([]byte("101"), &th); err == nil {
			t.Error("expected error for 101")
		}
	})
}

func TestPercentage(t *testing.T) {
	t.Run("PercentageFromRatio calculates correctly", func(t *testing.T) {
		cases := []struct {
			covered, total int
			expected       float64
		}{
			{80, 100, 80.0},
			{1, 3, 33.33},
			{2, 3, 66.67},
			{0, 0, 100.0},
			{0, 5, 0},
		}

		for _, tc := range cases {
			p := PercentageFromRatio(tc.covered, tc.total)
			if p.Value() != tc.expected {
				t.Errorf("PercentageFromRatio(%d, %d) = %v, expected %v", tc.covered, tc.total, p.Value(), tc.expected)
			}
		}
	})

	t.Run("String formats two decimals", func(t *testing.T) {
		if s := NewPercentage(85.5).String(); s != "85.50%" {
			t.Errorf("Expected '85.50%%', got '%s'", s)
		}
	})
}

func TestFileKey(t *testing.T) {
	t.Run("NewFileKey rejects empty path", func(t *testing.T) {
		if _, err := NewFileKey("  "); !errors.Is(err, ErrEmptyFilePath) {
			t.Errorf("expected ErrEmptyFilePath, got %v", err)
		}
	})

	t.Run("NewFileKey resolves relative paths", func(t *testing.T) {
		key, err := NewFileKey("a/../b.go")
		if err != nil {
			t.Fatal(err)
		}
		abs, _ := filepath.Abs("b.go")
		if key.OSPath() != normalizeOSPath(abs) {
			t.Errorf("expected %s, got %s", abs, key.OSPath())
		}
	})

	t.Run("equal paths give equal keys", func(t *testing.T) {
		if MustFileKey("/src/./x/../a.go") != MustFileKey("/src/a.go") {
			t.Error("cleaned paths should be equal keys")
		}
	})

	t.Run("ParseFileKey requires an absolute path", func(t *testing.T) {
		if _, err := ParseFileKey("src/a.go"); !errors.Is(err, ErrRelativeFileKey) {
			t.Errorf("expected ErrRelativeFileKey, got %v", err)
		}
	})

	t.Run("Rel strips the root", func(t *testing.T) {
		key := MustFileKey("/project/src/a.go")
		if rel := key.Rel("/project"); rel != "src/a.go" {
			t.Errorf("expected src/a.go, got %s", rel)
		}
		if rel := key.Rel("/other"); rel != key.String() {
			t.Errorf("expected full key outside root, got %s", rel)
		}
	})

	t.Run("text marshalling round trips", func(t *testing.T) {
		key := MustFileKey("/project/src/a.go")
		data, err := json.Marshal(map[string]FileKey{"k": key})
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]FileKey
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatal(err)
		}
		if out["k"] != key {
			t.Errorf("expected %s, got %s", key, out["k"])
		}
	})
}

func normalizeOSPath(p string) string {
	return filepath.FromSlash(normalizeKey(p))
}

func TestCachedEntryMatches(t *testing.T) {
	m := testMap("/src/a.go", "fp")
	m.Version = "v1"
	entry := NewCachedEntry(NewZeroRecord(m), time.Now())

	if !entry.Matches(m.Key, "fp", "v1") {
		t.Error("entry should match its own key, fingerprint and version")
	}
	if entry.Matches(m.Key, "other", "v1") {
		t.Error("changed content should miss")
	}
	if entry.Matches(m.Key, "fp", "v2") {
		t.Error("new instrumenter version should miss")
	}
	if entry.Matches(MustFileKey("/src/b.go"), "fp", "v1") {
		t.Error("identical content under another key should miss")
	}
}
