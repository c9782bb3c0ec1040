package monitor

import (
	"sync"
	"time"
)

// maxConsecutiveFailures is how many failed ticks in a row are tolerated
// before the sampler reports unhealthy.
const maxConsecutiveFailures = 3

// SamplerMonitor tracks sampling-loop health and failures.
type SamplerMonitor struct {
	mu                sync.RWMutex
	interval          time.Duration
	lastSuccess       time.Time
	lastAttempt       time.Time
	lastFile          string
	consecutiveErrors int
	lastError         string
	saved             int
	failed            int
	now               func() time.Time
}

// NewSamplerMonitor creates a monitor for a loop that ticks every interval.
func NewSamplerMonitor(interval time.Duration) *SamplerMonitor {
	return &SamplerMonitor{interval: interval, now: time.Now}
}

// RecordSuccess records a tick whose snapshot was saved as file.
func (sm *SamplerMonitor) RecordSuccess(file string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	now := sm.now()
	sm.lastSuccess = now
	sm.lastAttempt = now
	sm.lastFile = file
	sm.consecutiveErrors = 0
	sm.lastError = ""
	sm.saved++
}

// RecordFailure records a failed tick.
func (sm *SamplerMonitor) RecordFailure(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.lastAttempt = sm.now()
	sm.consecutiveErrors++
	sm.failed++
	if err != nil {
		sm.lastError = err.Error()
	}
}

// IsHealthy returns true if sampling is working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within three intervals
//   - More than 3 consecutive failures
func (sm *SamplerMonitor) IsHealthy() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.healthyLocked()
}

func (sm *SamplerMonitor) healthyLocked() bool {
	if sm.lastSuccess.IsZero() {
		return false
	}
	if sm.interval > 0 && sm.now().Sub(sm.lastSuccess) > 3*sm.interval {
		return false
	}
	return sm.consecutiveErrors <= maxConsecutiveFailures
}

// SamplerStatus is the sampler health reported by the status endpoint.
type SamplerStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	LastFile          string `json:"last_file,omitempty"`
	SnapshotsSaved    int    `json:"snapshots_saved"`
	TicksFailed       int    `json:"ticks_failed"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current sampler status for health checks.
func (sm *SamplerMonitor) Status() SamplerStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	status := SamplerStatus{
		Healthy:        sm.healthyLocked(),
		LastFile:       sm.lastFile,
		SnapshotsSaved: sm.saved,
		TicksFailed:    sm.failed,
	}

	if !sm.lastSuccess.IsZero() {
		status.LastSuccess = sm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = sm.now().Sub(sm.lastSuccess).Round(time.Second).String()
	}

	if !sm.lastAttempt.IsZero() {
		status.LastAttempt = sm.lastAttempt.Format(time.RFC3339)
	}

	if sm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = sm.consecutiveErrors
		status.LastError = sm.lastError
	}

	return status
}
