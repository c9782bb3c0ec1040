package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/procmem/pkg/fsutil"
	"github.com/nicktill/procmem/pkg/snapshot"
	"github.com/nicktill/procmem/pkg/storage"
)

var baseTime = time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Dir: t.TempDir(), MaxFileSize: 10 * datasize.MB})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSnapshot(ts time.Time, rss int64) *snapshot.Snapshot {
	return snapshot.New(ts, "test-host", []snapshot.ProcessSample{
		{PID: 100, Command: "postgres", RSS: rss, Group: "postgres"},
	})
}

func snapshotFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Save(ctx, testSnapshot(baseTime, 4096))
	require.NoError(t, err)
	assert.Equal(t, "memory_20250604_120000.json", ref.Name)
	assert.Equal(t, 0, ref.Seq)

	snap, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.True(t, snap.CapturedAt.Equal(baseTime))
	assert.Equal(t, "test-host", snap.Host)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(4096), snap.Items[0].RSS)

	assert.Equal(t, []string{ref.Name}, snapshotFiles(t, store.Dir()), "no temp file may remain")
}

func TestFileStore_EmptySnapshotIsStored(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Save(ctx, snapshot.New(baseTime, "h", nil))
	require.NoError(t, err)

	snap, err := store.Load(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, snap.Items)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
}

func TestFileStore_SameSecondSuffix(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var refs []storage.Ref
	for i := 0; i < 3; i++ {
		ref, err := store.Save(ctx, testSnapshot(baseTime.Add(300*time.Millisecond), int64(i+1)))
		require.NoError(t, err)
		refs = append(refs, ref)
	}

	assert.Equal(t, "memory_20250604_120000.json", refs[0].Name)
	assert.Equal(t, "memory_20250604_120000-1.json", refs[1].Name)
	assert.Equal(t, "memory_20250604_120000-2.json", refs[2].Name)

	listed, err := store.List(ctx, baseTime, baseTime)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, ref := range listed {
		snap, err := store.Load(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), snap.Items[0].RSS, "creation order must be preserved")
	}
}

func TestFileStore_SuffixStaysMonotonicAfterDeletion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, testSnapshot(baseTime, 1))
	require.NoError(t, err)
	second, err := store.Save(ctx, testSnapshot(baseTime, 2))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Dir(), "memory_20250604_120000.json")))

	third, err := store.Save(ctx, testSnapshot(baseTime, 3))
	require.NoError(t, err)
	assert.Greater(t, third.Seq, second.Seq)
}

func TestFileStore_ListRangeInclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Save(ctx, testSnapshot(baseTime.Add(time.Duration(i)*time.Minute), 1))
		require.NoError(t, err)
	}

	refs, err := store.List(ctx, baseTime.Add(1*time.Minute), baseTime.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.True(t, refs[0].CapturedAt.Equal(baseTime.Add(1*time.Minute)))
	assert.True(t, refs[2].CapturedAt.Equal(baseTime.Add(3*time.Minute)))
}

func TestFileStore_ListIgnoresForeignAndTempFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, testSnapshot(baseTime, 1))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "README.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(store.Dir(), "memory_20250604_120500.json"), 0755))

	refs, err := store.List(ctx, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestFileStore_InterruptedWriteIsInvisible(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, testSnapshot(baseTime, 1))
	require.NoError(t, err)
	before, err := store.List(ctx, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)

	// A save interrupted before its rename leaves only a temp file behind.
	tmp, err := fsutil.CreateTemp(store.Dir(), tempPattern, fileMode)
	require.NoError(t, err)
	_, err = tmp.Write([]byte(`{"timestamp": "2025-06-04T12:01:00Z", "items": [`))
	require.NoError(t, err)

	after, err := store.List(ctx, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	for _, ref := range after {
		_, err := store.Load(ctx, ref)
		require.NoError(t, err)
	}
	require.NoError(t, tmp.Abort())
}

func TestOpen_SweepsOnlyStaleTemps(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, ".memory_stale.tmp")
	fresh := filepath.Join(dir, ".memory_fresh.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("{"), 0644))
	require.NoError(t, os.WriteFile(fresh, []byte("{"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	_, err := Open(Config{Dir: dir})
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale temp file should be removed")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "in-flight temp file must be left alone")
}

func TestOpen_ReadOnlyLeavesDirectoryUntouched(t *testing.T) {
	dir := t.TempDir()
	writer, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := writer.Save(ctx, testSnapshot(baseTime.Add(time.Duration(i)*time.Minute), 1024))
		require.NoError(t, err)
	}

	stale := filepath.Join(dir, ".memory_stale.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("{"), 0644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	before := snapshotFiles(t, dir)

	reader, err := Open(Config{Dir: dir, ReadOnly: true})
	require.NoError(t, err)

	refs, err := reader.List(ctx, baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, refs, 3)
	_, err = reader.Load(ctx, refs[0])
	require.NoError(t, err)

	_, err = reader.Save(ctx, testSnapshot(baseTime.Add(time.Hour), 1))
	assert.ErrorIs(t, err, storage.ErrReadOnly)
	_, err = reader.EnforceRetention(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrReadOnly)

	assert.Equal(t, before, snapshotFiles(t, dir), "read-only open must not create or remove files")
}

func TestOpen_ReadOnlyMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "absent")
	_, err := Open(Config{Dir: dir, ReadOnly: true})
	require.Error(t, err)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "read-only open must not create the directory")
}

func TestFileStore_SizeGuard(t *testing.T) {
	store, err := Open(Config{Dir: t.TempDir(), MaxFileSize: 256 * datasize.B})
	require.NoError(t, err)
	ctx := context.Background()

	items := make([]snapshot.ProcessSample, 20)
	for i := range items {
		items[i] = snapshot.ProcessSample{PID: i + 1, Command: strings.Repeat("x", 40), RSS: 1}
	}

	_, err = store.Save(ctx, snapshot.New(baseTime, "h", items))
	require.Error(t, err)

	var se *storage.StorageError
	assert.True(t, errors.As(err, &se))
	assert.True(t, errors.Is(err, storage.ErrSizeLimit))
	assert.Empty(t, snapshotFiles(t, store.Dir()), "a rejected snapshot must leave no file")
}

func TestFileStore_SaveRejectsInvalidSnapshot(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(context.Background(), &snapshot.Snapshot{})
	var se *storage.StorageError
	assert.True(t, errors.As(err, &se))
}

func TestFileStore_SaveUnwritableDirectory(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, os.RemoveAll(store.Dir()))

	_, err := store.Save(context.Background(), testSnapshot(baseTime, 1))
	var se *storage.StorageError
	assert.True(t, errors.As(err, &se))
}

func TestFileStore_LoadCorrupt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	name := FileName(baseTime, 0)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), name), []byte(`{"timestamp": `), 0644))

	refs, err := store.List(ctx, baseTime, baseTime)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	_, err = store.Load(ctx, refs[0])
	var corrupt *storage.CorruptDataError
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, name, corrupt.Ref.Name)
	assert.True(t, storage.IsRecoverable(err))
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ref, err := store.Save(ctx, testSnapshot(baseTime, 1))
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Dir(), ref.Name)))

	_, err = store.Load(ctx, ref)
	assert.True(t, errors.Is(err, storage.ErrSnapshotMissing))
	assert.True(t, storage.IsRecoverable(err))
}

func TestFileStore_LoadRejectsPathNames(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background(), storage.Ref{Name: "../etc/passwd"})
	assert.Error(t, err)
	assert.False(t, storage.IsRecoverable(err))
}

func TestFileStore_RetentionKeepsNewestByEncodedTime(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const saves, keep = 10, 4
	for i := 0; i < saves; i++ {
		ref, err := store.Save(ctx, testSnapshot(baseTime.Add(time.Duration(i)*time.Minute), int64(i)))
		require.NoError(t, err)

		// Invert mtimes: the oldest snapshot gets the newest mtime.
		mtime := time.Now().Add(-time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), ref.Name), mtime, mtime))
	}

	deleted, err := store.EnforceRetention(ctx, keep)
	require.NoError(t, err)
	assert.Equal(t, saves-keep, deleted)

	refs, err := store.List(ctx, baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, refs, keep)
	for i, ref := range refs {
		assert.True(t, ref.CapturedAt.Equal(baseTime.Add(time.Duration(saves-keep+i)*time.Minute)))
	}
}

func TestFileStore_RetentionAfterEverySave(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := store.Save(ctx, testSnapshot(baseTime.Add(time.Duration(i)*time.Second), 1))
		require.NoError(t, err)
		_, err = store.EnforceRetention(ctx, 3)
		require.NoError(t, err)
	}

	assert.Len(t, snapshotFiles(t, store.Dir()), 3)
}

func TestFileStore_RetentionUnderLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Save(ctx, testSnapshot(baseTime, 1))
	require.NoError(t, err)

	deleted, err := store.EnforceRetention(ctx, 5)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	_, err = store.EnforceRetention(ctx, 0)
	assert.Error(t, err)
}

func TestFileStore_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	for i := 0; i < 3; i++ {
		_, err := store.Save(ctx, testSnapshot(baseTime.Add(time.Duration(i)*time.Minute), 1))
		require.NoError(t, err)
	}

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
	assert.Greater(t, stats.SizeBytes, int64(0))
	assert.True(t, stats.Oldest.Equal(baseTime))
	assert.True(t, stats.Newest.Equal(baseTime.Add(2*time.Minute)))
}

func TestFileStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Save(ctx, testSnapshot(baseTime, 1))
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.List(ctx, baseTime, baseTime)
	assert.ErrorIs(t, err, context.Canceled)
}
