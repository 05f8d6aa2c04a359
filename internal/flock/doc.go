// Package flock provides cross-platform advisory file locking.
//
// A non-blocking platform primitive (flock on unix, a one-byte LockFileEx
// range on windows) takes the lock. Acquire layers a polling wait with a
// deadline and context cancellation on top, which is what the board store uses to guard its
// load-modify-write cycle:
//
//	lock, err := flock.Acquire(ctx, path+".lock", constants.LockTimeout)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = lock.Release() }()
package flock
