//go:build unix

package tsdb

import "golang.org/x/sys/unix"

// acquireLock takes an advisory exclusive lock on the database file,
// enforcing the at-most-one-writer-process discipline at the OS level
// rather than just within one Database handle. Grounded on
// 7thCode-BPTree/internal/mmap/mmap.go's direct use of
// golang.org/x/sys/unix for low-level file operations.
func (db *Database) acquireLock() error {
	if err := unix.Flock(int(db.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return newIOError("flock", db.path, err)
	}
	return nil
}

func (db *Database) releaseLock() {
	unix.Flock(int(db.file.Fd()), unix.LOCK_UN)
}

// checkLock re-asserts the exclusive lock non-blocking. It should always
// succeed while db itself still holds the lock; failure means something
// external to this handle stole or removed it, which the heartbeat loop
// in db.go surfaces via a log line rather than failing silently.
func (db *Database) checkLock() error {
	if err := unix.Flock(int(db.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return newIOError("flock", db.path, err)
	}
	return nil
}
