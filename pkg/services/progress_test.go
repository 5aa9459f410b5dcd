package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressReporterThrottlesByDelta(t *testing.T) {
	var reports []int
	r := NewProgressReporter(1000, 0, func(processed, total int) {
		reports = append(reports, processed)
	})

	// minDelta for 1000 rows is 20; single-row increments must be dropped.
	for i := 1; i <= 19; i++ {
		r.Report(i)
	}
	assert.Empty(t, reports)

	r.Report(20)
	assert.Equal(t, []int{20}, reports)

	r.Report(25)
	assert.Equal(t, []int{20}, reports)

	r.Report(40)
	assert.Equal(t, []int{20, 40}, reports)
}

func TestProgressReporterThrottlesByInterval(t *testing.T) {
	var reports []int
	r := NewProgressReporter(100, time.Minute, func(processed, total int) {
		reports = append(reports, processed)
	})

	current := time.Now()
	r.now = func() time.Time { return current }

	r.Report(10)
	assert.Equal(t, []int{10}, reports)

	// Enough delta, but the wall-clock interval has not elapsed.
	r.Report(90)
	assert.Equal(t, []int{10}, reports)

	current = current.Add(2 * time.Minute)
	r.Report(90)
	assert.Equal(t, []int{10, 90}, reports)
}

func TestProgressReporterSmallTotalsReportPromptly(t *testing.T) {
	var reports []int
	r := NewProgressReporter(3, 0, func(processed, total int) {
		reports = append(reports, processed)
	})

	r.Report(1)
	r.Report(2)
	r.Report(3)
	assert.Equal(t, []int{1, 2, 3}, reports)
}

func TestProgressReporterFinalAlwaysEmits(t *testing.T) {
	var reports [][2]int
	r := NewProgressReporter(1000, time.Hour, func(processed, total int) {
		reports = append(reports, [2]int{processed, total})
	})

	r.Report(5) // dropped by delta
	r.Final(1000)
	assert.Equal(t, [][2]int{{1000, 1000}}, reports)
}
