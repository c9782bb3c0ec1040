package resample

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/procmem/pkg/snapshot"
	"github.com/nicktill/procmem/pkg/storage"
	"github.com/nicktill/procmem/pkg/storage/filestore"
	"github.com/nicktill/procmem/pkg/storage/memory"
)

// T is aligned to every width used below.
var T = time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)

func snap(at time.Time, items ...snapshot.ProcessSample) *snapshot.Snapshot {
	return snapshot.New(at, "host", items)
}

func proc(pid int, cmd string, rss int64) snapshot.ProcessSample {
	return snapshot.ProcessSample{PID: pid, Command: cmd, RSS: rss}
}

func TestBuckets_Coverage(t *testing.T) {
	buckets := Buckets(T, T.Add(time.Hour), 15*time.Minute)
	require.Len(t, buckets, 4)
	for i, b := range buckets {
		assert.True(t, b.Start.Equal(T.Add(time.Duration(i)*15*time.Minute)))
		assert.Equal(t, 15*time.Minute, b.End.Sub(b.Start))
	}
}

func TestBuckets_EpochAligned(t *testing.T) {
	start := T.Add(7 * time.Minute)
	buckets := Buckets(start, start.Add(time.Hour), 15*time.Minute)

	require.Len(t, buckets, 5)
	assert.True(t, buckets[0].Start.Equal(T), "first boundary at minute 0, not at range start")
	assert.True(t, buckets[4].Start.Equal(T.Add(time.Hour)))
	for _, b := range buckets {
		assert.Zero(t, b.Start.Unix()%(15*60))
	}
}

func TestBuckets_EmptyRange(t *testing.T) {
	assert.Empty(t, Buckets(T, T, 15*time.Minute))
	assert.Empty(t, Buckets(T.Add(time.Hour), T, 15*time.Minute))
}

func TestAggregate_EmptyRangeIsNotAnError(t *testing.T) {
	res, err := Aggregate(nil, Request{WidthMinutes: 15, Start: T, End: T})
	require.NoError(t, err)
	assert.Empty(t, res.Buckets)
}

func TestAggregate_InvalidWidth(t *testing.T) {
	for _, width := range []int{0, -15} {
		_, err := Aggregate(nil, Request{WidthMinutes: width, Start: T, End: T.Add(time.Hour)})
		assert.ErrorIs(t, err, ErrInvalidArgument)

		var iae *InvalidArgumentError
		require.True(t, errors.As(err, &iae))
		assert.Equal(t, "interval", iae.Field)
	}
}

func TestAggregate_NoSnapshotsStillEmitsTimeline(t *testing.T) {
	res, err := Aggregate(nil, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, res.Buckets, 4)
	assert.Empty(t, res.Series)
}

func TestAggregate_CandleValues(t *testing.T) {
	snaps := []*snapshot.Snapshot{
		snap(T.Add(1*time.Minute), proc(1, "db", 100)),
		snap(T.Add(2*time.Minute), proc(1, "db", 300)),
		snap(T.Add(3*time.Minute), proc(1, "db", 50)),
		snap(T.Add(4*time.Minute), proc(1, "db", 200)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Series, 1)

	c := res.Series[0].At(0)
	require.NotNil(t, c)
	assert.Equal(t, Candle{Open: 100, High: 300, Low: 50, Close: 200, Count: 4}, *c)
	for i := 1; i < 4; i++ {
		assert.Nil(t, res.Series[0].At(i), "bucket %d has no observations", i)
	}
}

func TestAggregate_SortsByCaptureTime(t *testing.T) {
	// Same observations as above, shuffled.
	snaps := []*snapshot.Snapshot{
		snap(T.Add(4*time.Minute), proc(1, "db", 200)),
		snap(T.Add(1*time.Minute), proc(1, "db", 100)),
		snap(T.Add(3*time.Minute), proc(1, "db", 50)),
		snap(T.Add(2*time.Minute), proc(1, "db", 300)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	c := res.Series[0].At(0)
	assert.Equal(t, int64(100), c.Open)
	assert.Equal(t, int64(200), c.Close)
}

func TestAggregate_ZeroIsNotAbsent(t *testing.T) {
	snaps := []*snapshot.Snapshot{
		snap(T, proc(1, "idle", 0), proc(2, "busy", 10)),
		snap(T.Add(20*time.Minute), proc(2, "busy", 20)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, res.Series, 2)

	idle := res.Series[0]
	require.NotNil(t, idle.At(0))
	assert.Equal(t, int64(0), idle.At(0).Close)
	assert.Nil(t, idle.At(1))
}

func TestAggregate_OutOfRangeDropped(t *testing.T) {
	snaps := []*snapshot.Snapshot{
		snap(T.Add(-time.Second), proc(1, "a", 999)),
		snap(T, proc(1, "a", 10)),
		snap(T.Add(time.Hour-time.Second), proc(1, "a", 20)),
		snap(T.Add(time.Hour), proc(1, "a", 999)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.SamplesDropped)
	assert.Equal(t, 2, res.Stats.SamplesUsed)

	s := res.Series[0]
	assert.Equal(t, int64(10), s.At(0).High)
	assert.Equal(t, int64(20), s.At(3).High)
}

func TestAggregate_OutOfRangeMintsNoIdentity(t *testing.T) {
	snaps := []*snapshot.Snapshot{
		snap(T.Add(-time.Minute), proc(7, "old", 999), proc(8, "gone", 5)),
		snap(T.Add(time.Minute), proc(7, "new", 10)),
		snap(T.Add(time.Hour), proc(9, "late", 1)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, res.Series, 1)
	assert.Equal(t, "7", res.Series[0].Identity.Label)
	assert.Equal(t, "new", res.Series[0].Identity.Command)
	assert.Equal(t, 3, res.Stats.SamplesDropped)
}

func TestAggregate_PartialLeadingBucketDropsBeforeStart(t *testing.T) {
	start := T.Add(10 * time.Minute)
	snaps := []*snapshot.Snapshot{
		snap(T.Add(5*time.Minute), proc(1, "a", 999)),
		snap(T.Add(12*time.Minute), proc(1, "a", 5)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Series[0].At(0).High)
	assert.Equal(t, 1, res.Series[0].At(0).Count)
}

func TestAggregate_DuplicateInstantsBothCount(t *testing.T) {
	snaps := []*snapshot.Snapshot{
		snap(T.Add(time.Minute), proc(1, "a", 1)),
		snap(T.Add(time.Minute), proc(1, "a", 2)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	c := res.Series[0].At(0)
	assert.Equal(t, 2, c.Count)
	assert.Equal(t, int64(1), c.Open)
	assert.Equal(t, int64(2), c.Close)
}

func TestAggregate_PidReuseSplitsSeries(t *testing.T) {
	snaps := []*snapshot.Snapshot{
		snap(T, proc(1234, "a", 10)),
		snap(T.Add(time.Minute), proc(1234, "a", 11)),
		snap(T.Add(2*time.Minute), proc(1234, "b", 500)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(15 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, res.Series, 2)
	assert.Equal(t, "1234", res.Series[0].Identity.Label)
	assert.Equal(t, "1234(2)", res.Series[1].Identity.Label)
	assert.Equal(t, int64(11), res.Series[0].At(0).Close)
	assert.Equal(t, int64(500), res.Series[1].At(0).Close)
}

func TestResult_TopByLatestClose(t *testing.T) {
	snaps := []*snapshot.Snapshot{
		snap(T, proc(1, "a", 900), proc(2, "b", 10)),
		snap(T.Add(20*time.Minute), proc(2, "b", 500), proc(3, "c", 100)),
	}

	res, err := Aggregate(snaps, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)

	top := res.TopByLatestClose(2)
	require.Len(t, top, 2)
	assert.Equal(t, "1", top[0].Identity.Label)
	assert.Equal(t, "2", top[1].Identity.Label)
	assert.Len(t, res.TopByLatestClose(10), 3)
}

func TestRun_MatchesAggregate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	var snaps []*snapshot.Snapshot
	for i := 0; i < 8; i++ {
		s := snap(T.Add(time.Duration(i)*7*time.Minute), proc(1, "a", int64(i*10)), proc(2, "b", int64(100-i)))
		snaps = append(snaps, s)
		_, err := store.Save(ctx, s)
		require.NoError(t, err)
	}
	req := Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)}

	fromStore, err := Run(ctx, store, req)
	require.NoError(t, err)
	inMemory, err := Aggregate(snaps, req)
	require.NoError(t, err)

	require.Len(t, fromStore.Series, len(inMemory.Series))
	for i := range fromStore.Series {
		for b := range fromStore.Buckets {
			assert.Equal(t, inMemory.Series[i].At(b), fromStore.Series[i].At(b))
		}
	}
	assert.Equal(t, 8, fromStore.Stats.FilesRead)
}

func TestRun_ExcludesSnapshotAtRangeEnd(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_, err := store.Save(ctx, snap(T, proc(1, "a", 1)))
	require.NoError(t, err)
	_, err = store.Save(ctx, snap(T.Add(time.Hour), proc(2, "b", 1)))
	require.NoError(t, err)

	res, err := Run(ctx, store, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.FilesRead)
	assert.Len(t, res.Series, 1)
}

func TestRun_SkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := filestore.Open(filestore.Config{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	const valid = 5
	for i := 0; i < valid; i++ {
		_, err := store.Save(ctx, snap(T.Add(time.Duration(i)*time.Minute), proc(1, "a", int64(i+1))))
		require.NoError(t, err)
	}
	bad := filestore.FileName(T.Add(30*time.Second), 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, bad), []byte("{not json"), 0644))

	res, err := Run(ctx, store, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, valid, res.Stats.FilesRead)
	assert.Equal(t, 1, res.Stats.CorruptSkipped)
	assert.Equal(t, 1, res.Stats.Skipped())
	assert.Equal(t, valid, res.Series[0].At(0).Count)
}

// vanishingStore drops every other snapshot between List and Load, the way
// a concurrent retention pass would.
type vanishingStore struct {
	*memory.Storage
	loads int
}

func (v *vanishingStore) Load(ctx context.Context, ref storage.Ref) (*snapshot.Snapshot, error) {
	v.loads++
	if v.loads%2 == 0 {
		return nil, storage.ErrSnapshotMissing
	}
	return v.Storage.Load(ctx, ref)
}

func TestRun_SkipsMissingFile(t *testing.T) {
	store := &vanishingStore{Storage: memory.New()}
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := store.Save(ctx, snap(T.Add(time.Duration(i)*time.Minute), proc(1, "a", 1)))
		require.NoError(t, err)
	}

	res, err := Run(ctx, store, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.FilesRead)
	assert.Equal(t, 2, res.Stats.MissingSkipped)
	assert.Zero(t, res.Stats.CorruptSkipped)
}

type rottingStore struct {
	*memory.Storage
}

func (r rottingStore) Load(_ context.Context, ref storage.Ref) (*snapshot.Snapshot, error) {
	return nil, fmt.Errorf("decode value: %w", &storage.CorruptDataError{Ref: ref, Err: errors.New("checksum mismatch")})
}

func TestRun_WrappedCorruptErrorIsSkipped(t *testing.T) {
	store := rottingStore{memory.New()}
	ctx := context.Background()
	_, err := store.Save(ctx, snap(T, proc(1, "a", 1)))
	require.NoError(t, err)

	res, err := Run(ctx, store, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.CorruptSkipped)
	assert.Zero(t, res.Stats.FilesRead)
}

type failingStore struct {
	*memory.Storage
}

func (f failingStore) Load(context.Context, storage.Ref) (*snapshot.Snapshot, error) {
	return nil, errors.New("i/o error")
}

func TestRun_AbortsOnUnexpectedError(t *testing.T) {
	store := failingStore{memory.New()}
	ctx := context.Background()
	_, err := store.Save(ctx, snap(T, proc(1, "a", 1)))
	require.NoError(t, err)

	res, err := Run(ctx, store, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestRun_Cancelled(t *testing.T) {
	store := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := store.Save(ctx, snap(T, proc(1, "a", 1)))
	require.NoError(t, err)
	cancel()

	res, err := Run(ctx, store, Request{WidthMinutes: 15, Start: T, End: T.Add(time.Hour)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}
