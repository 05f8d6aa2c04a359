//go:build windows

package flock

import "golang.org/x/sys/windows"

// boardLockRange is the byte range locked in the board lock file. Every
// formic process locks the same single byte at offset zero, so the range acts
// as a mutex and the file contents are never read.
var boardLockRange = struct{ low, high uint32 }{low: 1, high: 0}

// tryLock takes the board lock on fd without blocking. ERROR_LOCK_VIOLATION
// means another formic process holds it; Acquire retries until its deadline.
func tryLock(fd uintptr) error {
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	return windows.LockFileEx(windows.Handle(fd), flags, 0, boardLockRange.low, boardLockRange.high, new(windows.Overlapped))
}

func unlock(fd uintptr) error {
	return windows.UnlockFileEx(windows.Handle(fd), 0, boardLockRange.low, boardLockRange.high, new(windows.Overlapped))
}
