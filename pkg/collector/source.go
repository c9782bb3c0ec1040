package collector

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// Process is one entry of a process listing.
type Process struct {
	PID     int
	Command string
	RSS     int64 // bytes
}

// Source lists the processes currently running.
type Source interface {
	Processes(ctx context.Context) ([]Process, error)
}

// SystemSource lists local processes through gopsutil.
type SystemSource struct{}

// Processes returns every process whose memory could be read. Processes that
// exit or deny access while being inspected are skipped.
func (SystemSource) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Process, 0, len(procs))
	skipped := 0
	for _, p := range procs {
		mem, err := p.MemoryInfoWithContext(ctx)
		if err != nil || mem == nil {
			skipped++
			continue
		}
		out = append(out, Process{
			PID:     int(p.Pid),
			Command: commandLine(ctx, p),
			RSS:     int64(mem.RSS),
		})
	}

	if skipped > 0 {
		log.WithField("skipped", skipped).Debug("processes without readable memory info")
	}
	return out, nil
}

// commandLine prefers the full command line, falling back to the bracketed
// process name for kernel threads, as ps does.
func commandLine(ctx context.Context, p *process.Process) string {
	if cmd, err := p.CmdlineWithContext(ctx); err == nil && strings.TrimSpace(cmd) != "" {
		return cmd
	}
	if name, err := p.NameWithContext(ctx); err == nil && name != "" {
		return "[" + name + "]"
	}
	return ""
}
