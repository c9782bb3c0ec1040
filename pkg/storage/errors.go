package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotMissing is returned by Load when a listed snapshot no longer
	// exists, typically because retention removed it in between.
	ErrSnapshotMissing = errors.New("snapshot missing")

	// ErrSizeLimit is the cause of a StorageError when an encoded snapshot
	// exceeds the configured maximum file size.
	ErrSizeLimit = errors.New("snapshot exceeds maximum file size")

	// ErrDiskFull is the cause of a StorageError when the target volume
	// lacks space for the snapshot.
	ErrDiskFull = errors.New("insufficient free disk space")

	// ErrReadOnly is returned by writes to a store opened read-only.
	ErrReadOnly = errors.New("store is read-only")

	// ErrLocked is returned when another process holds exclusive access to
	// the store.
	ErrLocked = errors.New("store is in use by another process")
)

// StorageError reports a failed write. It is fatal to one Save call only.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// CorruptDataError reports a stored snapshot that cannot be parsed.
type CorruptDataError struct {
	Ref Ref
	Err error
}

func (e *CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt snapshot %s: %v", e.Ref.Name, e.Err)
}

func (e *CorruptDataError) Unwrap() error { return e.Err }

// IsRecoverable reports whether a Load error should be skipped rather than
// abort a multi-snapshot read: missing and corrupt snapshots are recoverable.
func IsRecoverable(err error) bool {
	if errors.Is(err, ErrSnapshotMissing) {
		return true
	}
	var corrupt *CorruptDataError
	return errors.As(err, &corrupt)
}
