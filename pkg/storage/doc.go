/*
Package storage defines how procmem persists snapshots.

Each sampling tick produces one immutable snapshot. A Store saves it, bounds
the number kept with EnforceRetention, and hands out lightweight Refs so that
readers can pick a time range without opening anything:

	refs, _ := store.List(ctx, from, to)
	for _, ref := range refs {
	    snap, err := store.Load(ctx, ref)
	    if storage.IsRecoverable(err) {
	        continue // removed by retention, or unreadable
	    }
	    ...
	}

Backends:
  - filestore: one JSON file per snapshot, atomically published (default)
  - badger: snapshots as checksummed values in an embedded LSM store
  - memory: in-process, for tests

List never holds a lock across later Load calls, so retention may delete a
listed snapshot before it is loaded. Load reports that as ErrSnapshotMissing.
*/
package storage
