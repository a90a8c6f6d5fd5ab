// Package cache stores run cache entries on disk, one compressed document per file key.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/felixgeelhaar/covkit/internal/domain"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/codec"
)

const entryExt = ".json" + codec.ZstdExt

// FileStore keeps one entry per FileKey under Dir.
type FileStore struct {
	Dir    string
	Logger *slog.Logger
}

// Note: fileLock and acquireLock/release are defined in platform-specific files.

// New creates a store rooted at dir.
func New(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileStore{Dir: dir, Logger: logger}
}

// EntryPath returns the file that holds the entry for key.
func (s *FileStore) EntryPath(key domain.FileKey) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%016x%s", xxhash.Sum64String(key.String()), entryExt))
}

// Get reads the entry for key. A missing, corrupt or foreign entry is a miss.
func (s *FileStore) Get(key domain.FileKey) (domain.CachedEntry, bool) {
	path := s.EntryPath(key)
	// #nosec G304 -- path is derived from the cache directory and a hash
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.Logger.Warn("cache entry unreadable", "file", key.String(), "entry", path, "error", err)
		}
		return domain.CachedEntry{}, false
	}
	entry, err := decodeEntry(path, raw)
	if err != nil {
		s.Logger.Warn("cache entry corrupt, ignoring", "file", key.String(), "entry", path, "error", err)
		return domain.CachedEntry{}, false
	}
	if entry.Key != key {
		s.Logger.Debug("cache entry belongs to another file", "file", key.String(), "owner", entry.Key.String())
		return domain.CachedEntry{}, false
	}
	return entry, true
}

// Put writes entry atomically while holding the per-entry lock.
func (s *FileStore) Put(entry domain.CachedEntry) error {
	if entry.Key.IsEmpty() {
		return domain.ErrEmptyFilePath
	}
	path := s.EntryPath(entry.Key)
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return err
	}

	lock, err := acquireLock(path)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer func() { _ = lock.release() }()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	compressed, err := codec.Compress(data)
	if err != nil {
		return err
	}
	return writeAtomic(path, compressed)
}

// Clear removes the whole cache directory.
func (s *FileStore) Clear() error {
	return os.RemoveAll(s.Dir)
}

func decodeEntry(path string, raw []byte) (domain.CachedEntry, error) {
	data, err := codec.Decode(path, raw)
	if err != nil {
		return domain.CachedEntry{}, err
	}
	var entry domain.CachedEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.CachedEntry{}, err
	}
	if err := entry.Map.Validate(); err != nil {
		return domain.CachedEntry{}, err
	}
	if entry.Record != nil {
		if err := entry.Record.CheckShape(); err != nil {
			return domain.CachedEntry{}, err
		}
	}
	return entry, nil
}

// writeAtomic replaces path through a temporary file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
