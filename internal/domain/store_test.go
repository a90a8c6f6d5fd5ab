package domain

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func storeOf(t *testing.T, records ...*CoverageRecord) *CoverageStore {
	t.Helper()
	s := NewStore()
	for _, r := range records {
		if err := s.Add(r); err != nil {
			t.Fatalf("add %s: %v", r.Key(), err)
		}
	}
	return s
}

func assertSameStore(t *testing.T, a, b *CoverageStore) {
	t.Helper()
	if !reflect.DeepEqual(a.Records(), b.Records()) {
		t.Errorf("stores differ:\n%+v\n%+v", a.Records(), b.Records())
	}
}

func TestMergeIsCommutativeForDisjointKeys(t *testing.T) {
	a := storeOf(t, hitRecord(t, testMap("/src/a.go", "fa"), Delta{Category: CategoryStatements, ID: 0, Count: 1}))
	b := storeOf(t, hitRecord(t, testMap("/src/b.go", "fb"), Delta{Category: CategoryLines, ID: 2, Count: 1}))

	ab, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	ba, err := Merge(b, a)
	if err != nil {
		t.Fatal(err)
	}
	assertSameStore(t, ab, ba)
	if ab.Len() != 2 {
		t.Errorf("expected 2 records, got %d", ab.Len())
	}
}

func TestMergeIsAssociative(t *testing.T) {
	m := testMap("/src/a.go", "fa")
	a := storeOf(t, hitRecord(t, m, Delta{Category: CategoryStatements, ID: 0, Count: 1}))
	b := storeOf(t,
		hitRecord(t, m, Delta{Category: CategoryStatements, ID: 1, Count: 2}),
		hitRecord(t, testMap("/src/b.go", "fb"), Delta{Category: CategoryFunctions, ID: 0, Count: 1}),
	)
	c := storeOf(t, hitRecord(t, m, Delta{Category: CategoryBranches, ID: 0, Arm: 1, Count: 3}))

	ab, _ := Merge(a, b)
	left, err := Merge(ab, c)
	if err != nil {
		t.Fatal(err)
	}
	bc, _ := Merge(b, c)
	right, err := Merge(a, bc)
	if err != nil {
		t.Fatal(err)
	}
	assertSameStore(t, left, right)
}

func TestMergeSumsOverlappingKeys(t *testing.T) {
	m := testMap("/src/a.go", "fa")
	a := storeOf(t, hitRecord(t, m, Delta{Category: CategoryStatements, ID: 0, Count: 2}))
	b := storeOf(t, hitRecord(t, m, Delta{Category: CategoryStatements, ID: 0, Count: 3}))

	merged, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	r, _ := merged.Get(m.Key)
	if r.Statements[0] != 5 {
		t.Errorf("expected summed count 5, got %d", r.Statements[0])
	}

	twice, _ := Merge(merged, b)
	r, _ = twice.Get(m.Key)
	if r.Statements[0] != 8 {
		t.Errorf("merging a partial twice should double count, got %d", r.Statements[0])
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	m := testMap("/src/a.go", "fa")
	a := storeOf(t, hitRecord(t, m, Delta{Category: CategoryStatements, ID: 0, Count: 1}))
	b := storeOf(t, hitRecord(t, m, Delta{Category: CategoryStatements, ID: 0, Count: 1}))

	if _, err := Merge(a, b); err != nil {
		t.Fatal(err)
	}
	r, _ := a.Get(m.Key)
	if r.Statements[0] != 1 {
		t.Errorf("input store was mutated: %d", r.Statements[0])
	}
}

func TestMergeReportsAllFingerprintMismatches(t *testing.T) {
	a := storeOf(t,
		NewZeroRecord(testMap("/src/a.go", "old")),
		NewZeroRecord(testMap("/src/b.go", "old")),
		NewZeroRecord(testMap("/src/c.go", "same")),
	)
	b := storeOf(t,
		NewZeroRecord(testMap("/src/a.go", "new")),
		NewZeroRecord(testMap("/src/b.go", "new")),
		NewZeroRecord(testMap("/src/c.go", "same")),
	)

	merged, err := Merge(a, b)
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok || len(joined.Unwrap()) != 2 {
		t.Fatalf("expected two joined mismatches, got %v", err)
	}
	var mismatch *FingerprintMismatchError
	if !errors.As(err, &mismatch) || mismatch.Key != MustFileKey("/src/a.go") {
		t.Errorf("unexpected first mismatch %v", mismatch)
	}
	if merged.Has(MustFileKey("/src/a.go")) || !merged.Has(MustFileKey("/src/c.go")) {
		t.Errorf("conflicting keys should be left out, others merged: %v", merged.Keys())
	}
}

func TestIdenticalContentAtDistinctKeysStaysDistinct(t *testing.T) {
	a := storeOf(t, hitRecord(t, testMap("/src/a/same.go", "fp"), Delta{Category: CategoryLines, ID: 1, Count: 1}))
	b := storeOf(t, NewZeroRecord(testMap("/src/b/same.go", "fp")))

	merged, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", merged.Len())
	}
	r, _ := merged.Get(MustFileKey("/src/b/same.go"))
	if !r.IsZero() {
		t.Error("hits leaked across keys with identical content")
	}
}

func TestInsertPlaceholderKeepsExisting(t *testing.T) {
	m := testMap("/src/a.go", "fa")
	s := storeOf(t, hitRecord(t, m, Delta{Category: CategoryStatements, ID: 0, Count: 1}))

	if s.InsertPlaceholder(m) {
		t.Error("placeholder should not replace an existing record")
	}
	if !s.InsertPlaceholder(testMap("/src/b.go", "fb")) {
		t.Error("placeholder should be inserted for a new key")
	}
	r, _ := s.Get(m.Key)
	if r.Statements[0] != 1 {
		t.Error("existing counts were lost")
	}
}

func TestStoreAccumulateUnknownFile(t *testing.T) {
	s := NewStore()
	err := s.Accumulate(MustFileKey("/src/a.go"), Delta{Category: CategoryLines, ID: 1, Count: 1})
	if !errors.Is(err, ErrUnknownFile) {
		t.Errorf("expected ErrUnknownFile, got %v", err)
	}
}

func TestStoreSummaryCountsInScopeOnly(t *testing.T) {
	in := hitRecord(t, testMap("/src/a.go", "fa"), Delta{Category: CategoryLines, ID: 1, Count: 1})
	in.InScope = true
	out := NewZeroRecord(testMap("/src/b.go", "fb"))
	s := storeOf(t, in, out)

	if got := s.Summary().Lines; got != (CategoryStat{Covered: 1, Total: 3}) {
		t.Errorf("unexpected lines summary %+v", got)
	}
	if len(s.InScopeRecords()) != 1 {
		t.Errorf("expected one in-scope record")
	}
}

func TestAddRejectsIncompatibleMapsWithSameFingerprint(t *testing.T) {
	short := InstrumentationMap{
		Key:         MustFileKey("/src/a.go"),
		Fingerprint: "ff",
		Version:     "v1",
		Statements:  []Statement{{ID: 0}},
		Lines:       []int{1},
	}
	long := InstrumentationMap{
		Key:         short.Key,
		Fingerprint: "ff",
		Version:     "v2",
		Statements:  []Statement{{ID: 0}, {ID: 1}, {ID: 2}},
		Branches:    []Branch{{ID: 0, Kind: "if", Line: 2, Arms: 2}},
		Lines:       []int{1, 2, 3},
	}
	sameVersion := long
	sameVersion.Version = "v1"
	armsDiffer := long
	armsDiffer.Branches = []Branch{{ID: 0, Kind: "switch", Line: 2, Arms: 3}}

	tests := []struct {
		name  string
		left  InstrumentationMap
		right InstrumentationMap
	}{
		{"version differs", short, long},
		{"longer merged first", long, short},
		{"shape differs at same version", short, sameVersion},
		{"branch arms differ", long, armsDiffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := storeOf(t, hitRecord(t, tt.left, Delta{Category: CategoryLines, ID: 1, Count: 1}))
			b := storeOf(t, NewZeroRecord(tt.right))

			merged, err := Merge(a, b)
			var mismatch *FingerprintMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("expected FingerprintMismatchError, got %v", err)
			}
			if mismatch.Left != tt.left.Identity() || mismatch.Right != tt.right.Identity() {
				t.Errorf("mismatch should name both identities, got %s / %s", mismatch.Left, mismatch.Right)
			}
			if merged.Has(short.Key) {
				t.Error("incompatible key should be left out of the merge")
			}
		})
	}
}

func TestIdentity(t *testing.T) {
	m := testMap("/src/a.go", "ff")
	if m.Identity() != testMap("/src/b.go", "ff").Identity() {
		t.Error("identity should not depend on the file key")
	}
	other := testMap("/src/a.go", "ff")
	other.Lines = []int{1, 2, 4}
	if m.Identity() == other.Identity() {
		t.Error("line numbers are part of the identity")
	}
	if !strings.HasPrefix(m.Identity(), "ff@test#") {
		t.Errorf("unexpected identity format %q", m.Identity())
	}
}
