package sampler

import (
	"context"
	"time"

	"github.com/c2h5oh/datasize"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/server/monitor"
	"github.com/nicktill/procmem/pkg/storage"
	"github.com/nicktill/procmem/pkg/storage/badger"
)

// RunCleanup enforces retention every interval and logs what remains.
func RunCleanup(ctx context.Context, store storage.Store, retention int, interval time.Duration, usage *monitor.StorageMonitor) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval).Info("cleanup scheduler started")

	for {
		select {
		case <-ticker.C:
			Cleanup(ctx, store, retention)
			if usage != nil {
				usage.Invalidate()
			}
		case <-ctx.Done():
			log.Info("stopping cleanup scheduler")
			return nil
		}
	}
}

// Cleanup runs one retention pass and logs the store's file count and size.
func Cleanup(ctx context.Context, store storage.Store, retention int) {
	start := time.Now()
	deleted, err := store.EnforceRetention(ctx, retention)
	if err != nil {
		log.WithError(err).Warn("cleanup failed")
		return
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to read storage stats")
		return
	}
	log.WithFields(log.Fields{
		"deleted":  deleted,
		"files":    stats.Count,
		"size":     datasize.ByteSize(stats.SizeBytes).HR(),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("cleanup completed")
}

// RunBadgerGC reclaims value-log space periodically. It returns at once for
// stores that are not badger.
func RunBadgerGC(ctx context.Context, store storage.Store, interval time.Duration, discardRatio float64) error {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Debug("storage is not badger, skipping GC")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval).Info("badger GC scheduler started")

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			if err := badgerStore.RunGC(discardRatio); err != nil {
				log.WithError(err).Warn("badger GC failed")
				continue
			}
			log.WithField("duration", time.Since(start).Round(time.Millisecond)).Debug("badger GC completed")
		case <-ctx.Done():
			log.Info("stopping badger GC scheduler")
			return nil
		}
	}
}
