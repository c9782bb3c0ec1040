// Package snapshot defines one sampling event of per-process memory usage
// and its on-disk JSON encoding.
package snapshot

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = bytesPerMB * 1024
	bytesPerTB = bytesPerGB * 1024
)

// ProcessSample is one process observed in a snapshot.
type ProcessSample struct {
	PID     int    `json:"pid"`
	Command string `json:"cmd"`
	RSS     int64  `json:"rss"` // resident set size in bytes
	Group   string `json:"group"`
}

// Snapshot is one sampling event. It is immutable once stored.
type Snapshot struct {
	CapturedAt time.Time       `json:"timestamp"`
	Host       string          `json:"hostname"`
	Items      []ProcessSample `json:"items"`
	TotalMB    float64         `json:"total_mb"`
	TotalGB    float64         `json:"total_gb"`
	TotalTB    float64         `json:"total_tb"`
}

// New builds a snapshot captured at capturedAt (truncated to the second)
// and computes the derived totals from items.
func New(capturedAt time.Time, host string, items []ProcessSample) *Snapshot {
	if items == nil {
		items = []ProcessSample{}
	}
	s := &Snapshot{
		CapturedAt: capturedAt.Truncate(time.Second),
		Host:       host,
		Items:      items,
	}
	total := float64(s.TotalBytes())
	s.TotalMB = round(total/bytesPerMB, 1)
	s.TotalGB = round(total/bytesPerGB, 3)
	s.TotalTB = round(total/bytesPerTB, 6)
	return s
}

// TotalBytes sums the resident set sizes of all items.
func (s *Snapshot) TotalBytes() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.RSS
	}
	return total
}

// Validate checks the fields every stored snapshot must carry.
func (s *Snapshot) Validate() error {
	if s == nil {
		return errors.New("nil snapshot")
	}
	if s.CapturedAt.IsZero() {
		return errors.New("timestamp is missing")
	}
	for i, item := range s.Items {
		if item.PID <= 0 {
			return fmt.Errorf("item %d: pid must be positive, got %d", i, item.PID)
		}
		if item.RSS < 0 {
			return fmt.Errorf("item %d: rss must not be negative, got %d", i, item.RSS)
		}
	}
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
