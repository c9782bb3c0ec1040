package resample

import (
	"fmt"
	"sort"
	"time"

	"github.com/nicktill/procmem/pkg/identity"
)

// Bucket is the half-open interval [Start, End).
type Bucket struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End).
func (b Bucket) Contains(t time.Time) bool {
	return !t.Before(b.Start) && t.Before(b.End)
}

// Candle is the open/high/low/close reduction of one identity's
// resident-set observations within one bucket.
type Candle struct {
	Open  int64
	High  int64
	Low   int64
	Close int64
	Count int
}

func newCandle(v int64) *Candle {
	return &Candle{Open: v, High: v, Low: v, Close: v, Count: 1}
}

// add folds the next observation in capture order into the candle.
func (c *Candle) add(v int64) {
	if v > c.High {
		c.High = v
	}
	if v < c.Low {
		c.Low = v
	}
	c.Close = v
	c.Count++
}

func (c *Candle) String() string {
	return fmt.Sprintf("o=%d h=%d l=%d c=%d n=%d", c.Open, c.High, c.Low, c.Close, c.Count)
}

// Series holds one identity's candles, indexed by bucket position.
// Buckets without observations have no entry.
type Series struct {
	Identity identity.Identity
	candles  map[int]*Candle
}

// At returns the candle for bucket i, or nil if the identity had no
// observation in that bucket.
func (s *Series) At(i int) *Candle {
	return s.candles[i]
}

// Latest returns the candle of the last bucket with observations and its
// index, or (nil, -1).
func (s *Series) Latest() (*Candle, int) {
	last := -1
	for i := range s.candles {
		if i > last {
			last = i
		}
	}
	if last < 0 {
		return nil, -1
	}
	return s.candles[last], last
}

// Stats summarizes what a run read and skipped.
type Stats struct {
	FilesRead      int
	CorruptSkipped int
	MissingSkipped int
	SamplesUsed    int
	SamplesDropped int
}

// Skipped returns the number of snapshots that could not be used.
func (s Stats) Skipped() int {
	return s.CorruptSkipped + s.MissingSkipped
}

// Result is the outcome of one resampling run.
type Result struct {
	Buckets []Bucket

	// Series in first-appearance order of their identity.
	Series []*Series

	Stats Stats
}

// Identities returns the identities of all series in column order.
func (r *Result) Identities() []identity.Identity {
	ids := make([]identity.Identity, len(r.Series))
	for i, s := range r.Series {
		ids[i] = s.Identity
	}
	return ids
}

// TopByLatestClose returns up to n series ordered by the close value of
// their most recent candle, largest first. Series without candles are
// left out.
func (r *Result) TopByLatestClose(n int) []*Series {
	type ranked struct {
		series *Series
		close  int64
	}
	var all []ranked
	for _, s := range r.Series {
		if c, _ := s.Latest(); c != nil {
			all = append(all, ranked{s, c.Close})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].close > all[j].close
	})

	if n > len(all) {
		n = len(all)
	}
	top := make([]*Series, n)
	for i := range top {
		top[i] = all[i].series
	}
	return top
}
