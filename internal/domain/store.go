package domain

import (
	"errors"
	"fmt"
	"sort"
)

// ErrFingerprintMismatch is matched by every FingerprintMismatchError.
var ErrFingerprintMismatch = errors.New("fingerprint mismatch")

// FingerprintMismatchError reports two records for one file whose counters
// cannot be summed: a different source version, instrumenter version or
// construct shape. Left and Right are map identities.
type FingerprintMismatchError struct {
	Key   FileKey
	Left  string
	Right string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("%s: instrumentation %s does not match %s", e.Key, e.Left, e.Right)
}

// Is makes errors.Is(err, ErrFingerprintMismatch) work.
func (e *FingerprintMismatchError) Is(target error) bool {
	return target == ErrFingerprintMismatch
}

// CoverageStore maps file keys to coverage records. Every key has exactly one record.
type CoverageStore struct {
	records map[FileKey]*CoverageRecord
}

// NewStore creates an empty store.
func NewStore() *CoverageStore {
	return &CoverageStore{records: make(map[FileKey]*CoverageRecord)}
}

// Len returns the number of records.
func (s *CoverageStore) Len() int {
	return len(s.records)
}

// Get returns the record for key.
func (s *CoverageStore) Get(key FileKey) (*CoverageRecord, bool) {
	r, ok := s.records[key]
	return r, ok
}

// Has reports whether key is present.
func (s *CoverageStore) Has(key FileKey) bool {
	_, ok := s.records[key]
	return ok
}

// Keys returns all keys in sorted order.
func (s *CoverageStore) Keys() []FileKey {
	keys := make([]FileKey, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Records returns all records sorted by key.
func (s *CoverageStore) Records() []*CoverageRecord {
	keys := s.Keys()
	out := make([]*CoverageRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.records[k])
	}
	return out
}

// InScopeRecords returns the records counted by thresholds and summaries.
func (s *CoverageStore) InScopeRecords() []*CoverageRecord {
	var out []*CoverageRecord
	for _, r := range s.Records() {
		if r.InScope {
			out = append(out, r)
		}
	}
	return out
}

// InsertPlaceholder adds a zero-coverage record for m unless the key exists.
// It returns true when a placeholder was inserted.
func (s *CoverageStore) InsertPlaceholder(m InstrumentationMap) bool {
	if s.Has(m.Key) {
		return false
	}
	s.records[m.Key] = NewZeroRecord(m)
	return true
}

// Add merges r into the store, summing counts when the key already exists.
// The store keeps its own copy of r.
func (s *CoverageStore) Add(r *CoverageRecord) error {
	if err := r.CheckShape(); err != nil {
		return err
	}
	existing, ok := s.records[r.Key()]
	if !ok {
		s.records[r.Key()] = r.Clone()
		return nil
	}
	if left, right := existing.Map.Identity(), r.Map.Identity(); left != right {
		return &FingerprintMismatchError{Key: r.Key(), Left: left, Right: right}
	}
	existing.add(r)
	return nil
}

// Accumulate applies a counter delta to the record for key.
func (s *CoverageStore) Accumulate(key FileKey, d Delta) error {
	r, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFile, key)
	}
	return r.Accumulate(d)
}

// Remove deletes key from the store.
func (s *CoverageStore) Remove(key FileKey) {
	delete(s.records, key)
}

// Clone returns a deep copy of the store.
func (s *CoverageStore) Clone() *CoverageStore {
	c := NewStore()
	for k, r := range s.records {
		c.records[k] = r.Clone()
	}
	return c
}

// Summary sums the category stats of the in-scope records.
func (s *CoverageStore) Summary() FileSummary {
	var total FileSummary
	for _, r := range s.records {
		if r.InScope {
			total = total.Add(r.Summary())
		}
	}
	return total
}

// Merge combines a and b into a new store without modifying either input.
// Overlapping keys are summed construct by construct, so merging the same
// partial twice double counts. Keys whose fingerprints differ are left out
// of the result and reported together in the returned error.
func Merge(a, b *CoverageStore) (*CoverageStore, error) {
	out := a.Clone()
	var errs []error
	for _, key := range b.Keys() {
		if err := out.Add(b.records[key]); err != nil {
			var mismatch *FingerprintMismatchError
			if errors.As(err, &mismatch) {
				out.Remove(key)
			}
			errs = append(errs, err)
		}
	}
	return out, errors.Join(errs...)
}

// MergeAll folds stores left to right with Merge.
func MergeAll(stores ...*CoverageStore) (*CoverageStore, error) {
	acc := NewStore()
	var errs []error
	for _, s := range stores {
		merged, err := Merge(acc, s)
		if err != nil {
			errs = append(errs, err)
		}
		acc = merged
	}
	return acc, errors.Join(errs...)
}
