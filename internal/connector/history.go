package connector

import (
	"errors"
	"sync"
)

// ErrNoRuns is returned when no run has been recorded yet.
var ErrNoRuns = errors.New("no completed runs")

// RunHistory is a concurrency-safe record of recent run results, kept in
// memory for the status API in interval mode.
type RunHistory struct {
	mu sync.RWMutex

	results []RunResult

	// retention configuration
	maxRuns int // max number of results kept (0 = unlimited)
}

// NewRunHistory creates a RunHistory keeping at most maxRuns results. A
// maxRuns of zero or less means unlimited.
func NewRunHistory(maxRuns int) *RunHistory {
	return &RunHistory{maxRuns: maxRuns}
}

// Record appends a run result and enforces retention.
func (h *RunHistory) Record(res RunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results = append(h.results, res)

	// Enforce retention by count.
	if h.maxRuns > 0 && len(h.results) > h.maxRuns {
		over := len(h.results) - h.maxRuns
		h.results = h.results[over:]
	}
}

// Latest returns the most recently recorded run.
func (h *RunHistory) Latest() (RunResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.results) == 0 {
		return RunResult{}, ErrNoRuns
	}
	return h.results[len(h.results)-1], nil
}

// Recent returns up to n results, newest first. A non-positive n returns
// everything.
func (h *RunHistory) Recent(n int) []RunResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.results) {
		n = len(h.results)
	}

	out := make([]RunResult, 0, n)
	for i := len(h.results) - 1; i >= len(h.results)-n; i-- {
		out = append(out, h.results[i])
	}
	return out
}
