package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nicktill/procmem/pkg/snapshot"
	"github.com/nicktill/procmem/pkg/storage"
)

// Storage keeps snapshots in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	entries []entry
	lastSeq map[int64]int
	mu      sync.RWMutex
}

type entry struct {
	ref  storage.Ref
	snap *snapshot.Snapshot
	size int64
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		entries: make([]entry, 0, 64),
		lastSeq: make(map[int64]int),
	}
}

// Save stores a private copy of the snapshot
func (s *Storage) Save(ctx context.Context, snap *snapshot.Snapshot) (storage.Ref, error) {
	if err := ctx.Err(); err != nil {
		return storage.Ref{}, err
	}
	// Encoding validates and gives a size comparable to the file backend.
	data, err := snapshot.Encode(snap)
	if err != nil {
		return storage.Ref{}, &storage.StorageError{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	capturedAt := snap.CapturedAt.UTC().Truncate(time.Second)
	sec := capturedAt.Unix()
	seq := 0
	if last, ok := s.lastSeq[sec]; ok {
		seq = last + 1
	}
	s.lastSeq[sec] = seq

	ref := storage.Ref{
		Name:       fmt.Sprintf("mem_%d_%d", sec, seq),
		CapturedAt: capturedAt,
		Seq:        seq,
	}
	s.entries = append(s.entries, entry{ref: ref, snap: clone(snap), size: int64(len(data))})
	s.sortLocked()
	return ref, nil
}

func (s *Storage) sortLocked() {
	// Insertion order is almost always chronological; a single pass suffices.
	for i := len(s.entries) - 1; i > 0 && s.entries[i].ref.Before(s.entries[i-1].ref); i-- {
		s.entries[i], s.entries[i-1] = s.entries[i-1], s.entries[i]
	}
}

// EnforceRetention drops the oldest snapshots until maxCount remain
func (s *Storage) EnforceRetention(ctx context.Context, maxCount int) (int, error) {
	if maxCount < 1 {
		return 0, fmt.Errorf("retention count must be at least 1, got %d", maxCount)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.entries) - maxCount
	if excess <= 0 {
		return 0, nil
	}
	kept := make([]entry, maxCount)
	copy(kept, s.entries[excess:])
	s.entries = kept
	return excess, nil
}

// List returns refs in [from, to], oldest first
func (s *Storage) List(ctx context.Context, from, to time.Time) ([]storage.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var refs []storage.Ref
	for _, e := range s.entries {
		if e.ref.InRange(from, to) {
			refs = append(refs, e.ref)
		}
	}
	return refs, nil
}

// Load returns a copy of the stored snapshot
func (s *Storage) Load(ctx context.Context, ref storage.Ref) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ref.Name == ref.Name {
			return clone(e.snap), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", ref.Name, storage.ErrSnapshotMissing)
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{Count: len(s.entries)}
	if len(s.entries) == 0 {
		return stats, nil
	}
	for _, e := range s.entries {
		stats.SizeBytes += e.size
	}
	stats.Oldest = s.entries[0].ref.CapturedAt
	stats.Newest = s.entries[len(s.entries)-1].ref.CapturedAt
	return stats, nil
}

func clone(snap *snapshot.Snapshot) *snapshot.Snapshot {
	c := *snap
	c.Items = make([]snapshot.ProcessSample, len(snap.Items))
	copy(c.Items, snap.Items)
	return &c
}
