// Package scheduler provides a bounded-parallelism FIFO job scheduler:
// jobs queue up, at most maxCount run at once, and stopping discards
// whatever has not started while letting running jobs finish.
package scheduler

import (
	"sync"
)

type Scheduler struct {
	maxCount int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	running int
	stopped bool
}

// New creates a scheduler running at most maxCount jobs in parallel.
// maxCount <= 0 means unbounded.
func New(maxCount int) *Scheduler {
	s := &Scheduler{maxCount: maxCount}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Submit queues a job. Ignored after Stop.
func (s *Scheduler) Submit(job func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.queue = append(s.queue, job)
	s.dispatch()
}

// dispatch starts queued jobs while capacity allows. Caller holds mu.
func (s *Scheduler) dispatch() {
	for len(s.queue) > 0 && (s.maxCount <= 0 || s.running < s.maxCount) {
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.running++
		go func() {
			defer func() {
				s.mu.Lock()
				s.running--
				if !s.stopped {
					s.dispatch()
				}
				s.cond.Broadcast()
				s.mu.Unlock()
			}()
			job()
		}()
	}
}

// Stop discards all queued jobs and prevents new submissions. Running
// jobs are left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Wait blocks until the scheduler drains: all queued jobs have run, or,
// after Stop, all running jobs have finished.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.stopped {
			s.queue = nil
		}
		if s.running == 0 && len(s.queue) == 0 {
			return
		}
		s.cond.Wait()
	}
}

// Len is the number of queued plus running jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + s.running
}

// Busy reports whether any job is running.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running > 0
}
