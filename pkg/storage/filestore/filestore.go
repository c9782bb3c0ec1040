// Package filestore stores each snapshot as one JSON file in a directory.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/fsutil"
	"github.com/nicktill/procmem/pkg/snapshot"
	"github.com/nicktill/procmem/pkg/storage"
)

const (
	fileMode = 0644
	dirMode  = 0755

	// A temp file older than this was left behind by an interrupted save.
	staleTempAge = 10 * time.Minute
)

var errFreeSpaceUnknown = errors.New("free space unknown on this platform")

// Config holds file store configuration
type Config struct {
	// Dir is the snapshot directory. It is created if missing.
	Dir string

	// MaxFileSize rejects snapshots whose encoding is larger (0 = no limit)
	MaxFileSize datasize.ByteSize

	// ReadOnly opens an existing directory for List, Load and Stats only.
	// Nothing is created or removed.
	ReadOnly bool
}

// Store implements storage.Store with one file per snapshot.
type Store struct {
	dir         string
	maxFileSize datasize.ByteSize
	readOnly    bool

	// mu serializes writers: sequence selection in Save and retention.
	// Readers never take it.
	mu sync.Mutex
}

// Open prepares the snapshot directory and removes stale temporary files.
// A read-only store requires the directory to exist and leaves it untouched.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("filestore: directory is empty")
	}
	if cfg.ReadOnly {
		info, err := os.Stat(cfg.Dir)
		if err != nil {
			return nil, &storage.StorageError{Op: "open", Path: cfg.Dir, Err: err}
		}
		if !info.IsDir() {
			return nil, &storage.StorageError{Op: "open", Path: cfg.Dir, Err: errors.New("not a directory")}
		}
		return &Store{dir: cfg.Dir, readOnly: true}, nil
	}
	if err := os.MkdirAll(cfg.Dir, dirMode); err != nil {
		return nil, &storage.StorageError{Op: "mkdir", Path: cfg.Dir, Err: err}
	}

	s := &Store{dir: cfg.Dir, maxFileSize: cfg.MaxFileSize}
	s.sweepStaleTemps(time.Now())
	return s, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes the snapshot to a temp file, syncs it, and renames it to its
// timestamped name. A size or space violation writes nothing.
func (s *Store) Save(ctx context.Context, snap *snapshot.Snapshot) (storage.Ref, error) {
	if err := ctx.Err(); err != nil {
		return storage.Ref{}, err
	}
	if s.readOnly {
		return storage.Ref{}, &storage.StorageError{Op: "write", Path: s.dir, Err: storage.ErrReadOnly}
	}

	data, err := snapshot.Encode(snap)
	if err != nil {
		return storage.Ref{}, &storage.StorageError{Op: "encode", Err: err}
	}

	size := datasize.ByteSize(len(data))
	if s.maxFileSize > 0 && size > s.maxFileSize {
		return storage.Ref{}, &storage.StorageError{
			Op:   "write",
			Path: s.dir,
			Err:  fmt.Errorf("%w: %s > %s", storage.ErrSizeLimit, size.HR(), s.maxFileSize.HR()),
		}
	}

	free, err := freeBytes(s.dir)
	if err == nil && datasize.ByteSize(free) < size {
		return storage.Ref{}, &storage.StorageError{
			Op:   "write",
			Path: s.dir,
			Err:  fmt.Errorf("%w: %s free, need %s", storage.ErrDiskFull, datasize.ByteSize(free).HR(), size.HR()),
		}
	}

	tmp, err := fsutil.CreateTemp(s.dir, tempPattern, fileMode)
	if err != nil {
		return storage.Ref{}, &storage.StorageError{Op: "create", Path: s.dir, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Abort()
		return storage.Ref{}, &storage.StorageError{Op: "write", Path: tmp.Name(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	capturedAt := snap.CapturedAt.UTC().Truncate(time.Second)
	seq, err := s.nextSeq(capturedAt)
	if err != nil {
		tmp.Abort()
		return storage.Ref{}, &storage.StorageError{Op: "list", Path: s.dir, Err: err}
	}

	ref := storage.Ref{Name: FileName(capturedAt, seq), CapturedAt: capturedAt, Seq: seq}
	path := filepath.Join(s.dir, ref.Name)
	if err := tmp.Commit(path); err != nil {
		return storage.Ref{}, &storage.StorageError{Op: "commit", Path: path, Err: err}
	}

	log.WithFields(log.Fields{
		"file": ref.Name,
		"size": size.HR(),
	}).Debug("snapshot saved")
	return ref, nil
}

// nextSeq returns one past the highest sequence already used for the second.
func (s *Store) nextSeq(capturedAt time.Time) (int, error) {
	pattern := filepath.Join(s.dir, filePrefix+capturedAt.Format(stampLayout)+"*"+fileExt)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}

	next := 0
	for _, m := range matches {
		ref, err := ParseFileName(filepath.Base(m))
		if err != nil || !ref.CapturedAt.Equal(capturedAt) {
			continue
		}
		if ref.Seq+1 > next {
			next = ref.Seq + 1
		}
	}
	return next, nil
}

// List returns refs whose file name timestamp lies in [from, to], oldest first.
// No file is opened.
func (s *Store) List(ctx context.Context, from, to time.Time) ([]storage.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all, err := s.listAll()
	if err != nil {
		return nil, err
	}

	refs := make([]storage.Ref, 0, len(all))
	for _, ref := range all {
		if ref.InRange(from, to) {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (s *Store) listAll() ([]storage.Ref, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	refs := make([]storage.Ref, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ref, err := ParseFileName(e.Name())
		if err != nil {
			continue
		}
		refs = append(refs, ref)
	}
	storage.SortRefs(refs)
	return refs, nil
}

// Load reads and parses one snapshot file.
func (s *Store) Load(ctx context.Context, ref storage.Ref) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.Name != filepath.Base(ref.Name) {
		return nil, fmt.Errorf("invalid snapshot name %q", ref.Name)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, ref.Name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", ref.Name, storage.ErrSnapshotMissing)
		}
		return nil, fmt.Errorf("failed to read %s: %w", ref.Name, err)
	}

	snap, err := snapshot.Decode(data)
	if err != nil {
		return nil, &storage.CorruptDataError{Ref: ref, Err: err}
	}
	return snap, nil
}

// Stats returns file count, total size and the encoded time span.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	refs, err := s.listAll()
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{Count: len(refs)}
	if len(refs) == 0 {
		return stats, nil
	}
	stats.Oldest = refs[0].CapturedAt
	stats.Newest = refs[len(refs)-1].CapturedAt

	for _, ref := range refs {
		info, err := os.Stat(filepath.Join(s.dir, ref.Name))
		if err != nil {
			// Removed since listing
			continue
		}
		stats.SizeBytes += info.Size()
	}
	return stats, nil
}

// FreeBytes reports free space on the snapshot volume.
func (s *Store) FreeBytes() (uint64, error) {
	return freeBytes(s.dir)
}

// Close is a no-op for the file store
func (s *Store) Close() error {
	return nil
}

func (s *Store) sweepStaleTemps(now time.Time) {
	matches, err := filepath.Glob(filepath.Join(s.dir, tempPattern))
	if err != nil {
		return
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || now.Sub(info.ModTime()) < staleTempAge {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			log.WithField("file", filepath.Base(m)).WithError(err).Warn("failed to remove stale temp file")
			continue
		}
		log.WithField("file", filepath.Base(m)).Info("removed stale temp file")
	}
}
