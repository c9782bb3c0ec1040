package storage

import (
	"context"
	"sort"
	"time"

	"github.com/nicktill/procmem/pkg/snapshot"
)

// Store defines the interface for snapshot storage backends.
// Implementations: filestore (production), badger (alternate), memory (testing)
type Store interface {
	// Save durably persists one snapshot. A reader never observes a
	// partially written snapshot.
	Save(ctx context.Context, s *snapshot.Snapshot) (Ref, error)

	// EnforceRetention deletes the oldest snapshots until at most maxCount
	// remain and returns how many were deleted. Failures on individual
	// snapshots are logged and skipped.
	EnforceRetention(ctx context.Context, maxCount int) (int, error)

	// List returns refs whose encoded timestamp lies in [from, to], oldest first.
	List(ctx context.Context, from, to time.Time) ([]Ref, error)

	// Load reads one snapshot. Returns ErrSnapshotMissing if it was removed
	// after listing and *CorruptDataError if it cannot be parsed.
	Load(ctx context.Context, ref Ref) (*snapshot.Snapshot, error)

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close cleanly shuts down the storage
	Close() error
}

// Ref identifies one stored snapshot without loading its contents.
type Ref struct {
	// Name is the backend key: the file name for the file store.
	Name string

	// CapturedAt is the encoded capture time, second resolution, UTC.
	CapturedAt time.Time

	// Seq breaks ties between snapshots saved within the same second.
	// The first snapshot of a second has Seq 0.
	Seq int
}

// Before reports whether r sorts before o: by encoded time, then by Seq.
func (r Ref) Before(o Ref) bool {
	if !r.CapturedAt.Equal(o.CapturedAt) {
		return r.CapturedAt.Before(o.CapturedAt)
	}
	return r.Seq < o.Seq
}

// SortRefs orders refs oldest first.
func SortRefs(refs []Ref) {
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Before(refs[j])
	})
}

// InRange reports whether the ref's encoded time lies in [from, to].
func (r Ref) InRange(from, to time.Time) bool {
	return !r.CapturedAt.Before(from) && !r.CapturedAt.After(to)
}

// Stats provides storage health and usage info
type Stats struct {
	// Number of stored snapshots
	Count int

	// Storage size in bytes
	SizeBytes int64

	// Oldest and newest encoded timestamps (zero when empty)
	Oldest time.Time
	Newest time.Time
}
