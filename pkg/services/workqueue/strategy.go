package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStartBulk returns true if a bulk task can start given current state
	CanStartBulk() bool
	// CanStartData returns true if a data task can start given current state
	CanStartData() bool
	// OnStartBulk is called when a bulk task starts
	OnStartBulk()
	// OnStartData is called when a data task starts
	OnStartData()
	// OnCompleteBulk is called when a bulk task completes
	OnCompleteBulk()
	// OnCompleteData is called when a data task completes
	OnCompleteData()
}

// SerializedStrategy serializes both bulk and data tasks.
// Only one bulk task and one data task can run at a time,
// but a bulk task and a data task can run in parallel.
type SerializedStrategy struct {
	mu          sync.Mutex
	bulkRunning bool
	dataRunning bool
}

// NewSerializedStrategy creates a strategy that serializes bulk tasks
// (only one at a time) and serializes data tasks (only one at a time).
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartBulk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.bulkRunning
}

func (s *SerializedStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *SerializedStrategy) OnStartBulk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkRunning = true
}

func (s *SerializedStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *SerializedStrategy) OnCompleteBulk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkRunning = false
}

func (s *SerializedStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ThrottledDataStrategy allows up to maxConcurrent data tasks to run in
// parallel. Bulk tasks are still serialized (only one at a time) so imports
// never contend with each other for the target tables.
type ThrottledDataStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	dataRunning   int
	bulkRunning   bool
}

// NewThrottledDataStrategy creates a strategy that allows up to maxConcurrent
// data tasks to run in parallel while serializing bulk tasks.
func NewThrottledDataStrategy(maxConcurrent int) *ThrottledDataStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledDataStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledDataStrategy) CanStartBulk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.bulkRunning
}

func (s *ThrottledDataStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataRunning < s.maxConcurrent
}

func (s *ThrottledDataStrategy) OnStartBulk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkRunning = true
}

func (s *ThrottledDataStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning++
}

func (s *ThrottledDataStrategy) OnCompleteBulk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkRunning = false
}

func (s *ThrottledDataStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataRunning > 0 {
		s.dataRunning--
	}
}
