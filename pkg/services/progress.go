package services

import (
	"sync"
	"time"
)

// ProgressReporter throttles per-entity apply progress so very large datasets
// do not flood the job store with updates. A report goes through when the
// processed count has advanced by at least the minimum delta (about 2% of the
// total) and the minimum wall-clock interval has elapsed. Final always
// reports, so a finished entity type is never left showing a stale count.
type ProgressReporter struct {
	mu sync.Mutex

	total       int
	minDelta    int
	minInterval time.Duration

	lastReported int
	lastAt       time.Time

	emit func(processed, total int)
	now  func() time.Time
}

// NewProgressReporter creates a reporter for one entity type's apply pass.
// emit receives the processed and total counts of every report that passes
// the throttle.
func NewProgressReporter(total int, minInterval time.Duration, emit func(processed, total int)) *ProgressReporter {
	minDelta := total / 50
	if minDelta < 1 {
		minDelta = 1
	}
	return &ProgressReporter{
		total:       total,
		minDelta:    minDelta,
		minInterval: minInterval,
		emit:        emit,
		now:         time.Now,
	}
}

// Report offers a progress observation. It is dropped unless both the
// row-count delta and the wall-clock interval thresholds have been crossed.
func (r *ProgressReporter) Report(processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if processed-r.lastReported < r.minDelta {
		return
	}
	now := r.now()
	if !r.lastAt.IsZero() && now.Sub(r.lastAt) < r.minInterval {
		return
	}

	r.lastReported = processed
	r.lastAt = now
	r.emit(processed, r.total)
}

// Final forces a report regardless of throttling. Called once when an entity
// type finishes.
func (r *ProgressReporter) Final(processed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastReported = processed
	r.lastAt = r.now()
	r.emit(processed, r.total)
}
