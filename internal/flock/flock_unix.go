//go:build unix

package flock

import "golang.org/x/sys/unix"

// tryLock takes the board lock on fd without blocking. EWOULDBLOCK means another
// formic process holds it; Acquire retries until its deadline.
func tryLock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB)
}

func unlock(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
