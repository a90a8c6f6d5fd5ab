package domain

import "time"

// CachedEntry is what the run cache remembers about one file between runs.
type CachedEntry struct {
	Key         FileKey            `json:"path"`
	Fingerprint string             `json:"fingerprint"`
	Version     string             `json:"instrumenter"`
	Map         InstrumentationMap `json:"map"`
	Record      *CoverageRecord    `json:"record,omitempty"`
	WrittenAt   time.Time          `json:"writtenAt"`
}

// NewCachedEntry snapshots r for the next run.
func NewCachedEntry(r *CoverageRecord, now time.Time) CachedEntry {
	return CachedEntry{
		Key:         r.Key(),
		Fingerprint: r.Map.Fingerprint,
		Version:     r.Map.Version,
		Map:         r.Map,
		Record:      r.Clone(),
		WrittenAt:   now,
	}
}

// Matches reports whether the entry is still valid for a file with the given
// fingerprint read by the given instrumenter version.
func (e CachedEntry) Matches(key FileKey, fingerprint, version string) bool {
	return e.Key == key && e.Fingerprint == fingerprint && e.Version == version &&
		e.Map.Key == key && e.Map.Fingerprint == fingerprint
}
