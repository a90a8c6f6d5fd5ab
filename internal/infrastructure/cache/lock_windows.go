//go:build windows

package cache

import (
	"os"

	"golang.org/x/sys/windows"
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
	handle := windows.Handle(file.Fd())
	if err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &windows.Overlapped{}); err != nil {
		_ = file.Close()
		return nil, err
	}
	return &fileLock{file: file}, nil
}

func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	unlockErr := windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, &windows.Overlapped{})
	closeErr := l.file.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
