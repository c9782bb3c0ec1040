package resample

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nicktill/procmem/pkg/identity"
	"github.com/nicktill/procmem/pkg/snapshot"
	"github.com/nicktill/procmem/pkg/storage"
)

// Request selects the range and bucket width of a run.
type Request struct {
	WidthMinutes int

	// Start is inclusive, End exclusive.
	Start time.Time
	End   time.Time
}

// Width returns the bucket width as a duration.
func (r Request) Width() time.Duration {
	return time.Duration(r.WidthMinutes) * time.Minute
}

// Validate rejects a non-positive width. An empty range is valid and yields
// no buckets.
func (r Request) Validate() error {
	if r.WidthMinutes <= 0 {
		return invalid("interval", "bucket width must be positive, got %d minutes", r.WidthMinutes)
	}
	return nil
}

// Buckets returns the contiguous epoch-aligned buckets covering [start, end).
// The first bucket may begin before start. It returns nil if start >= end.
func Buckets(start, end time.Time, width time.Duration) []Bucket {
	if width <= 0 || !start.Before(end) {
		return nil
	}

	first := alignDown(start, width)
	n := int((end.Sub(first) + width - 1) / width)
	buckets := make([]Bucket, n)
	for i := range buckets {
		s := first.Add(time.Duration(i) * width)
		buckets[i] = Bucket{Start: s, End: s.Add(width)}
	}
	return buckets
}

// alignDown floors t to a multiple of width since the Unix epoch.
func alignDown(t time.Time, width time.Duration) time.Time {
	ns := t.UnixNano()
	w := int64(width)
	rem := ns % w
	if rem < 0 {
		rem += w
	}
	return time.Unix(0, ns-rem)
}

// Accumulator builds a Result from snapshots fed in capture order.
// It is a per-run value; nothing in it outlives the run.
type Accumulator struct {
	req      Request
	width    time.Duration
	buckets  []Bucket
	resolver *identity.Resolver
	series   map[string]*Series
	order    []*Series
	lastSeen time.Time
	stats    Stats
}

// NewAccumulator validates req and prepares the bucket grid.
func NewAccumulator(req Request) (*Accumulator, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &Accumulator{
		req:      req,
		width:    req.Width(),
		buckets:  Buckets(req.Start, req.End, req.Width()),
		resolver: identity.NewResolver(),
		series:   make(map[string]*Series),
	}, nil
}

// Add folds one snapshot into the run. Snapshots must arrive in capture
// order; within a snapshot, items are taken in their stored order.
func (a *Accumulator) Add(snap *snapshot.Snapshot) {
	if snap.CapturedAt.Before(a.lastSeen) {
		log.WithFields(log.Fields{
			"captured_at": snap.CapturedAt,
			"previous":    a.lastSeen,
		}).Warn("snapshot out of capture order")
	} else {
		a.lastSeen = snap.CapturedAt
	}

	// Out-of-range snapshots never reach the resolver, so they mint no
	// labels and add no columns.
	idx, inRange := a.bucketIndex(snap.CapturedAt)
	if !inRange {
		a.stats.SamplesDropped += len(snap.Items)
		return
	}
	for _, item := range snap.Items {
		label := a.resolver.Resolve(item.PID, item.Command)
		s := a.seriesFor(label, item)
		if c := s.candles[idx]; c != nil {
			c.add(item.RSS)
		} else {
			s.candles[idx] = newCandle(item.RSS)
		}
		a.stats.SamplesUsed++
	}
}

func (a *Accumulator) seriesFor(label string, item snapshot.ProcessSample) *Series {
	if s, ok := a.series[label]; ok {
		return s
	}
	s := &Series{
		Identity: identity.Identity{Label: label, PID: item.PID, Command: item.Command},
		candles:  make(map[int]*Candle),
	}
	a.series[label] = s
	a.order = append(a.order, s)
	return s
}

// bucketIndex locates the bucket holding t. Times outside
// [req.Start, req.End) belong to no bucket.
func (a *Accumulator) bucketIndex(t time.Time) (int, bool) {
	if len(a.buckets) == 0 || t.Before(a.req.Start) || !t.Before(a.req.End) {
		return 0, false
	}
	return int(t.Sub(a.buckets[0].Start) / a.width), true
}

// Result returns the accumulated candles. The accumulator must not be used
// afterwards.
func (a *Accumulator) Result() *Result {
	return &Result{
		Buckets: a.buckets,
		Series:  a.order,
		Stats:   a.stats,
	}
}

// Aggregate resamples an in-memory set of snapshots. Snapshots are ordered by
// capture time first; equal times keep their given order and all contribute.
func Aggregate(snaps []*snapshot.Snapshot, req Request) (*Result, error) {
	acc, err := NewAccumulator(req)
	if err != nil {
		return nil, err
	}

	ordered := make([]*snapshot.Snapshot, len(snaps))
	copy(ordered, snaps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CapturedAt.Before(ordered[j].CapturedAt)
	})

	for _, snap := range ordered {
		acc.Add(snap)
	}
	res := acc.Result()
	res.Stats.FilesRead = len(ordered)
	return res, nil
}

// Run resamples the snapshots a store holds for req's range. Snapshots are
// loaded one at a time and no lock is held between loads. Corrupt snapshots
// and snapshots removed after listing are skipped and counted; any other load
// error, or cancellation of ctx, aborts the run.
func Run(ctx context.Context, store storage.Store, req Request) (*Result, error) {
	acc, err := NewAccumulator(req)
	if err != nil {
		return nil, err
	}
	if !req.Start.Before(req.End) {
		return acc.Result(), nil
	}

	// Refs carry second precision; End is exclusive.
	refs, err := store.List(ctx, req.Start, req.End.Add(-time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	log.WithFields(log.Fields{
		"snapshots": len(refs),
		"start":     req.Start.Format(time.RFC3339),
		"end":       req.End.Format(time.RFC3339),
		"interval":  req.WidthMinutes,
	}).Debug("resampling")

	stats := Stats{}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snap, err := store.Load(ctx, ref)
		switch {
		case err == nil:
			acc.Add(snap)
			stats.FilesRead++
		case storage.IsRecoverable(err):
			if errors.Is(err, storage.ErrSnapshotMissing) {
				stats.MissingSkipped++
				log.WithField("file", ref.Name).Debug("snapshot removed after listing, skipping")
			} else {
				stats.CorruptSkipped++
				log.WithField("file", ref.Name).WithError(err).Warn("skipping corrupt snapshot")
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		default:
			return nil, fmt.Errorf("failed to load %s: %w", ref.Name, err)
		}
	}

	res := acc.Result()
	res.Stats.FilesRead = stats.FilesRead
	res.Stats.CorruptSkipped = stats.CorruptSkipped
	res.Stats.MissingSkipped = stats.MissingSkipped
	return res, nil
}
