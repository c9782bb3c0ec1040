// Package collector samples per-process resident memory into snapshots.
package collector

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nicktill/procmem/pkg/config"
	"github.com/nicktill/procmem/pkg/snapshot"
)

// Config controls which processes a snapshot keeps.
type Config struct {
	// TopCount keeps the largest processes by RSS.
	TopCount int

	// GroupBy is config.GroupByCommand (keep the largest process per
	// command name) or config.GroupByPID (keep every process).
	GroupBy string

	// Hostname is recorded in each snapshot. Defaults to os.Hostname.
	Hostname string
}

// Collector turns process listings into snapshots.
type Collector struct {
	source   Source
	topCount int
	groupBy  string
	host     string
	now      func() time.Time
}

// New creates a collector reading from src.
func New(src Source, cfg Config) *Collector {
	host := cfg.Hostname
	if host == "" {
		if h, err := os.Hostname(); err == nil {
			host = h
		} else {
			host = "unknown"
		}
	}
	if cfg.TopCount <= 0 {
		cfg.TopCount = config.DefaultTopCount
	}
	if cfg.GroupBy == "" {
		cfg.GroupBy = config.DefaultGroupBy
	}
	return &Collector{
		source:   src,
		topCount: cfg.TopCount,
		groupBy:  cfg.GroupBy,
		host:     host,
		now:      time.Now,
	}
}

// Collect lists processes and builds one snapshot of the top consumers.
func (c *Collector) Collect(ctx context.Context) (*snapshot.Snapshot, error) {
	capturedAt := c.now()

	procs, err := c.source.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	samples := make([]snapshot.ProcessSample, 0, len(procs))
	for _, p := range procs {
		if p.PID <= 0 || p.RSS < 0 {
			continue
		}
		samples = append(samples, snapshot.ProcessSample{
			PID:     p.PID,
			Command: truncate(p.Command, config.MaxCommandLength),
			RSS:     p.RSS,
			Group:   c.group(p),
		})
	}

	if c.groupBy == config.GroupByCommand {
		samples = largestPerGroup(samples)
	}
	sortByRSS(samples)
	if len(samples) > c.topCount {
		samples = samples[:c.topCount]
	}

	return snapshot.New(capturedAt, c.host, samples), nil
}

func (c *Collector) group(p Process) string {
	if c.groupBy == config.GroupByPID {
		return strconv.Itoa(p.PID)
	}
	return commandName(p.Command)
}

// commandName returns the base name of the executable in a command line.
func commandName(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "unknown"
	}
	return path.Base(fields[0])
}

// truncate keeps the first max characters of cmd and marks the cut with "...".
func truncate(cmd string, max int) string {
	if utf8.RuneCountInString(cmd) <= max {
		return cmd
	}
	n := 0
	for i := range cmd {
		if n == max {
			return cmd[:i] + "..."
		}
		n++
	}
	return cmd
}

func largestPerGroup(samples []snapshot.ProcessSample) []snapshot.ProcessSample {
	best := make(map[string]int, len(samples))
	var out []snapshot.ProcessSample
	for _, s := range samples {
		i, ok := best[s.Group]
		if !ok {
			best[s.Group] = len(out)
			out = append(out, s)
			continue
		}
		if s.RSS > out[i].RSS {
			out[i] = s
		}
	}
	return out
}

// sortByRSS orders largest first, pid ascending on ties.
func sortByRSS(samples []snapshot.ProcessSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].RSS != samples[j].RSS {
			return samples[i].RSS > samples[j].RSS
		}
		return samples[i].PID < samples[j].PID
	})
}
