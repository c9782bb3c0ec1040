package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/storage"
)

// EnforceRetention deletes the oldest snapshot files, by encoded timestamp,
// until maxCount remain. A file that is already gone or cannot be removed is
// skipped; the loop never aborts on a single file.
func (s *Store) EnforceRetention(ctx context.Context, maxCount int) (int, error) {
	if maxCount < 1 {
		return 0, fmt.Errorf("retention count must be at least 1, got %d", maxCount)
	}
	if s.readOnly {
		return 0, storage.ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	refs, err := s.listAll()
	if err != nil {
		return 0, err
	}
	if len(refs) <= maxCount {
		return 0, nil
	}

	deleted := 0
	for _, ref := range refs[:len(refs)-maxCount] {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		err := os.Remove(filepath.Join(s.dir, ref.Name))
		switch {
		case err == nil:
			deleted++
		case os.IsNotExist(err):
			log.WithField("file", ref.Name).Debug("snapshot already removed")
		default:
			log.WithField("file", ref.Name).WithError(err).Warn("failed to delete snapshot")
		}
	}

	if deleted > 0 {
		log.WithFields(log.Fields{
			"deleted": deleted,
			"kept":    maxCount,
		}).Info("retention cleanup removed old snapshots")
	}
	return deleted, nil
}
