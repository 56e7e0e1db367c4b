package room

import "errors"

var (
	// ErrTableNotFound means no snapshot exists for the table id.
	ErrTableNotFound = errors.New("room: table not found")
	// ErrLockContended means the table lock could not be acquired in time.
	// Safe to retry.
	ErrLockContended = errors.New("room: table busy")
	// ErrLockExpired means the lease was lost mid-operation and the write
	// was aborted.
	ErrLockExpired = errors.New("room: lock expired")
	// ErrConcurrentModification means the compare-and-set found a newer
	// version. State was not written.
	ErrConcurrentModification = errors.New("room: concurrent modification")
	// ErrIdentityMismatch means the action claims a player other than the
	// authenticated caller.
	ErrIdentityMismatch = errors.New("room: identity mismatch")
)
