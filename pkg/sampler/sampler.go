// Package sampler runs the periodic collect-and-save loop and the background
// retention and garbage-collection schedulers.
package sampler

import (
	"context"
	"time"

	"github.com/c2h5oh/datasize"
	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/server/monitor"
	"github.com/nicktill/procmem/pkg/snapshot"
	"github.com/nicktill/procmem/pkg/storage"
)

// Collector produces one snapshot per call.
type Collector interface {
	Collect(ctx context.Context) (*snapshot.Snapshot, error)
}

// freeSpacer is implemented by stores that can report free space on their
// volume.
type freeSpacer interface {
	FreeBytes() (uint64, error)
}

// Config holds sampler configuration
type Config struct {
	Interval        time.Duration
	CleanupInterval time.Duration
	RetentionCount  int

	// MinFree triggers emergency cleanup when free space drops below it
	// (0 = disabled).
	MinFree datasize.ByteSize
}

// Sampler saves one snapshot per tick. A failed tick is logged and recorded;
// the loop always continues.
type Sampler struct {
	cfg       Config
	collector Collector
	store     storage.Store
	monitor   *monitor.SamplerMonitor
	usage     *monitor.StorageMonitor
}

// New creates a sampler. usage may be nil.
func New(cfg Config, c Collector, store storage.Store, sm *monitor.SamplerMonitor, usage *monitor.StorageMonitor) *Sampler {
	if sm == nil {
		sm = monitor.NewSamplerMonitor(cfg.Interval)
	}
	return &Sampler{
		cfg:       cfg,
		collector: c,
		store:     store,
		monitor:   sm,
		usage:     usage,
	}
}

// Monitor returns the health monitor fed by this sampler.
func (s *Sampler) Monitor() *monitor.SamplerMonitor {
	return s.monitor
}

// Run samples immediately and then once per interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.WithFields(log.Fields{
		"interval":  s.cfg.Interval,
		"retention": s.cfg.RetentionCount,
	}).Info("sampler started")

	s.Tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			log.Info("stopping sampler")
			return nil
		}
	}
}

// Tick runs one sampling cycle: free-space check, collect, save, retention.
// It returns the saved ref, or the error that ended the tick.
func (s *Sampler) Tick(ctx context.Context) (storage.Ref, error) {
	s.checkFreeSpace(ctx)

	snap, err := s.collector.Collect(ctx)
	if err != nil {
		s.fail(err, "collection failed")
		return storage.Ref{}, err
	}

	ref, err := s.store.Save(ctx, snap)
	if err != nil {
		s.fail(err, "failed to save snapshot")
		return storage.Ref{}, err
	}
	s.monitor.RecordSuccess(ref.Name)

	log.WithFields(log.Fields{
		"file":      ref.Name,
		"processes": len(snap.Items),
		"total_mb":  snap.TotalMB,
	}).Info("snapshot saved")

	if _, err := s.store.EnforceRetention(ctx, s.cfg.RetentionCount); err != nil {
		log.WithError(err).Warn("retention cleanup failed")
	}
	if s.usage != nil {
		s.usage.Invalidate()
	}
	return ref, nil
}

func (s *Sampler) fail(err error, msg string) {
	s.monitor.RecordFailure(err)
	entry := log.WithError(err)
	if status := s.monitor.Status(); status.ConsecutiveErrors > 3 {
		entry = entry.WithField("consecutive_errors", status.ConsecutiveErrors)
	}
	entry.Error(msg)
}

// checkFreeSpace halves the retention count (minimum 1) for one pass when
// the store's volume is low on space.
func (s *Sampler) checkFreeSpace(ctx context.Context) {
	if s.cfg.MinFree == 0 {
		return
	}
	fs, ok := s.store.(freeSpacer)
	if !ok {
		return
	}
	free, err := fs.FreeBytes()
	if err != nil {
		log.WithError(err).Debug("free space check unavailable")
		return
	}
	if datasize.ByteSize(free) >= s.cfg.MinFree {
		return
	}

	keep := EmergencyRetention(s.cfg.RetentionCount)
	log.WithFields(log.Fields{
		"free":      datasize.ByteSize(free).HR(),
		"threshold": s.cfg.MinFree.HR(),
		"keep":      keep,
	}).Warn("low disk space, running emergency cleanup")

	deleted, err := s.store.EnforceRetention(ctx, keep)
	if err != nil {
		log.WithError(err).Error("emergency cleanup failed")
		return
	}
	log.WithField("deleted", deleted).Info("emergency cleanup finished")
}

// EmergencyRetention is the retention count used when disk space is low.
func EmergencyRetention(retention int) int {
	if keep := retention / 2; keep > 1 {
		return keep
	}
	return 1
}
