//go:build unix

package cache

import (
	"os"
	"syscall"
)

// fileLock is an advisory lock held next to one cache entry.
type fileLock struct {
	file *os.File
}

// acquireLock blocks until the exclusive lock for entryPath is held.
func acquireLock(entryPath string) (*fileLock, error) {
	// #nosec G304 -- path is derived from the cache directory and a hash
	file, err := os.OpenFile(entryPath+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &fileLock{file: file}, nil
}

func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
