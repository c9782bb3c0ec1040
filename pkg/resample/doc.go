/*
Package resample turns a time range of stored process-memory snapshots into
per-process OHLC candles on a fixed, epoch-aligned bucket grid.

# Buckets

A bucket is the half-open interval [start, start+width). Bucket boundaries
are aligned to the Unix epoch, not to the requested range, so a 15-minute
width always produces boundaries at minute 0, 15, 30 and 45:

	range:    10:07 ─────────────────────────────── 11:07
	buckets: [10:00,10:15) [10:15,10:30) ... [11:00,11:15)

The grid covers the whole range even where no snapshot exists, so a report
built from it has no time gaps. Samples captured before the range start or
at/after the range end fall in no bucket and are dropped.

# Candles

Each (identity, bucket) pair reduces its resident-set observations, in
capture order, to a Candle:

	observations: 100  300  50  200
	candle:       open=100 high=300 low=50 close=200 count=4

A pair with no observations has no candle at all (nil), which is distinct
from a candle whose values are zero.

# Identities

Processes are keyed by the labels of an identity.Resolver created fresh for
each run, so a pid that was reused by a different command within the range
becomes a separate column ("1234" and "1234(2)"). Only samples inside the
range are resolved, so a process seen only outside it gets no column.

# Usage Example

	store, _ := filestore.Open(filestore.Config{Dir: "./output"})

	start, end, err := resample.ParseRange(resample.RangeOptions{Hours: 24}, time.Now())
	if err != nil {
	    return err // *InvalidArgumentError
	}

	result, err := resample.Run(ctx, store, resample.Request{
	    WidthMinutes: 15,
	    Start:        start,
	    End:          end,
	})

Run loads snapshots one at a time. A snapshot that is corrupt, or was
deleted by retention after it was listed, is skipped and counted in
Result.Stats; cancelling ctx between loads aborts the run with no result.
*/
package resample
