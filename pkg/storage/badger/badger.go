// Package badger stores snapshots in BadgerDB, keyed by capture time.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/snapshot"
	"github.com/nicktill/procmem/pkg/storage"
)

const (
	keyLen      = 12
	checksumLen = 8
)

var errChecksum = errors.New("checksum mismatch")

// Storage implements storage.Store using BadgerDB (LSM tree)
type Storage struct {
	db          *badger.DB
	maxValueLen datasize.ByteSize

	// mu serializes sequence selection in Save
	mu sync.Mutex
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB total)
	MaxMemoryMB int64

	// MaxValueSize rejects snapshots whose encoding is larger (0 = no limit)
	MaxValueSize datasize.ByteSize

	// ReadOnly opens an existing database with a shared lock. It still fails
	// while a read-write process holds the database.
	ReadOnly bool
}

// New opens a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithLogger(log.WithField("component", "badger"))

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	if cfg.ReadOnly {
		opts = opts.WithReadOnly(true)
	}

	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	// One write per sampling interval: keep the LSM shallow and the caches small.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("%w: %s is held by a running collector; stop it or aggregate the file backend",
				storage.ErrLocked, cfg.Path)
		}
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Storage{db: db, maxValueLen: cfg.MaxValueSize}, nil
}

// isLockError matches badger's directory-lock failure, which is not exported
// as a sentinel and is wrapped without %w.
func isLockError(err error) bool {
	return strings.Contains(err.Error(), "Cannot acquire directory lock")
}

// run executes fn off the caller's goroutine so a cancelled context returns
// promptly even if badger is blocked.
func run[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// Save stores the snapshot under its capture second and the next free sequence.
func (s *Storage) Save(ctx context.Context, snap *snapshot.Snapshot) (storage.Ref, error) {
	data, err := snapshot.Encode(snap)
	if err != nil {
		return storage.Ref{}, &storage.StorageError{Op: "encode", Err: err}
	}
	size := datasize.ByteSize(len(data))
	if s.maxValueLen > 0 && size > s.maxValueLen {
		return storage.Ref{}, &storage.StorageError{
			Op:  "write",
			Err: fmt.Errorf("%w: %s > %s", storage.ErrSizeLimit, size.HR(), s.maxValueLen.HR()),
		}
	}
	capturedAt := snap.CapturedAt.UTC().Truncate(time.Second)

	return run(ctx, "save", func() (storage.Ref, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		var ref storage.Ref
		err := s.db.Update(func(txn *badger.Txn) error {
			seq, err := nextSeq(txn, capturedAt)
			if err != nil {
				return err
			}
			ref = newRef(capturedAt, seq)
			return txn.Set(makeKey(capturedAt, seq), encodeValue(data))
		})
		if err != nil {
			return storage.Ref{}, &storage.StorageError{Op: "write", Err: err}
		}
		return ref, nil
	})
}

func nextSeq(txn *badger.Txn, capturedAt time.Time) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = makeKey(capturedAt, 0)[:8]

	it := txn.NewIterator(opts)
	defer it.Close()

	next := 0
	for it.Rewind(); it.Valid(); it.Next() {
		_, seq := parseKey(it.Item().Key())
		if seq+1 > next {
			next = seq + 1
		}
	}
	return next, nil
}

// EnforceRetention deletes the oldest keys until maxCount remain
func (s *Storage) EnforceRetention(ctx context.Context, maxCount int) (int, error) {
	if maxCount < 1 {
		return 0, fmt.Errorf("retention count must be at least 1, got %d", maxCount)
	}

	refs, err := s.keys(ctx)
	if err != nil {
		return 0, err
	}
	if len(refs) <= maxCount {
		return 0, nil
	}

	return run(ctx, "retention", func() (int, error) {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()

		excess := refs[:len(refs)-maxCount]
		for _, key := range excess {
			if err := wb.Delete(key); err != nil {
				return 0, err
			}
		}
		if err := wb.Flush(); err != nil {
			return 0, err
		}

		log.WithFields(log.Fields{
			"deleted": len(excess),
			"kept":    maxCount,
		}).Info("retention cleanup removed old snapshots")
		return len(excess), nil
	})
}

// keys returns every key, oldest first. Badger iterates in byte order, which
// the big-endian encoding makes chronological.
func (s *Storage) keys(ctx context.Context) ([][]byte, error) {
	return run(ctx, "scan", func() ([][]byte, error) {
		var keys [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				if len(it.Item().Key()) != keyLen {
					continue
				}
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
		return keys, err
	})
}

// List returns refs in [from, to], oldest first, without reading values
func (s *Storage) List(ctx context.Context, from, to time.Time) ([]storage.Ref, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}

	var refs []storage.Ref
	for _, key := range keys {
		ts, seq := parseKey(key)
		ref := newRef(ts, seq)
		if ref.InRange(from, to) {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Load reads one snapshot and verifies its checksum
func (s *Storage) Load(ctx context.Context, ref storage.Ref) (*snapshot.Snapshot, error) {
	key := makeKey(ref.CapturedAt, ref.Seq)

	return run(ctx, "load", func() (*snapshot.Snapshot, error) {
		var data []byte
		err := s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			data, err = item.ValueCopy(nil)
			return err
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%s: %w", ref.Name, storage.ErrSnapshotMissing)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ref.Name, err)
		}

		payload, err := decodeValue(data)
		if err != nil {
			return nil, &storage.CorruptDataError{Ref: ref, Err: err}
		}
		snap, err := snapshot.Decode(payload)
		if err != nil {
			return nil, &storage.CorruptDataError{Ref: ref, Err: err}
		}
		return snap, nil
	})
}

// Stats returns the key count, time span and on-disk size
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{Count: len(keys)}
	if len(keys) > 0 {
		stats.Oldest, _ = parseKey(keys[0])
		stats.Newest, _ = parseKey(keys[len(keys)-1])
	}
	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = lsmSize + vlogSize
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns nil if GC was not needed.
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

func newRef(capturedAt time.Time, seq int) storage.Ref {
	return storage.Ref{
		Name:       fmt.Sprintf("%s#%d", capturedAt.Format("20060102T150405Z"), seq),
		CapturedAt: capturedAt,
		Seq:        seq,
	}
}

// makeKey creates a sortable key.
// Format: [unix seconds (8 bytes)][seq (4 bytes)]
func makeKey(ts time.Time, seq int) []byte {
	key := make([]byte, keyLen)
	binary.BigEndian.PutUint64(key[0:8], uint64(ts.Unix()))
	binary.BigEndian.PutUint32(key[8:12], uint32(seq))
	return key
}

func parseKey(key []byte) (time.Time, int) {
	sec := int64(binary.BigEndian.Uint64(key[0:8]))
	seq := int(binary.BigEndian.Uint32(key[8:12]))
	return time.Unix(sec, 0).UTC(), seq
}

// encodeValue prefixes the payload with its xxhash so torn or bit-rotted
// values surface as corrupt snapshots.
// Format: [xxhash64 (8 bytes)][json]
func encodeValue(payload []byte) []byte {
	val := make([]byte, checksumLen+len(payload))
	binary.BigEndian.PutUint64(val[:checksumLen], xxhash.Sum64(payload))
	copy(val[checksumLen:], payload)
	return val
}

func decodeValue(val []byte) ([]byte, error) {
	if len(val) < checksumLen {
		return nil, fmt.Errorf("value too short: %d bytes", len(val))
	}
	payload := val[checksumLen:]
	if binary.BigEndian.Uint64(val[:checksumLen]) != xxhash.Sum64(payload) {
		return nil, errChecksum
	}
	return payload, nil
}
