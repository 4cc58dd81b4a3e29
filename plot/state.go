package plot

import (
	"sync"
	"time"
)

// RunStatus describes the most recent pipeline run.
type RunStatus struct {
	Source       string    `json:"source"`
	GenerationID string    `json:"generationId,omitempty"`
	Readings     int       `json:"readings"`
	CropUnits    int       `json:"cropUnits"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finishedAt"`
}

// RunTracker keeps the outcome of recent runs for the health endpoint.
type RunTracker struct {
	mu          sync.RWMutex
	last        *RunStatus
	lastSuccess *RunStatus
	runs        int
	failures    int
}

// NewRunTracker creates an empty tracker.
func NewRunTracker() *RunTracker {
	return &RunTracker{}
}

// Record stores the outcome of one run. It matches the RunQueue result hook.
func (t *RunTracker) Record(source string, result *RunResult, err error) {
	status := &RunStatus{Source: source, FinishedAt: time.Now()}
	if result != nil {
		status.GenerationID = result.GenerationID
		status.Readings = result.Count
		status.CropUnits = result.CropUnits
	}
	if err != nil {
		status.Error = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	t.last = status
	if err != nil {
		t.failures++
	} else {
		t.lastSuccess = status
	}
}

// TrackerSnapshot is a copy of the tracker state.
type TrackerSnapshot struct {
	Runs        int        `json:"runs"`
	Failures    int        `json:"failures"`
	Last        *RunStatus `json:"last,omitempty"`
	LastSuccess *RunStatus `json:"lastSuccess,omitempty"`
}

// Snapshot returns a copy safe to serialize.
func (t *RunTracker) Snapshot() TrackerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := TrackerSnapshot{Runs: t.runs, Failures: t.failures}
	if t.last != nil {
		last := *t.last
		snap.Last = &last
	}
	if t.lastSuccess != nil {
		ok := *t.lastSuccess
		snap.LastSuccess = &ok
	}
	return snap
}
