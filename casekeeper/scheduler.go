package casekeeper

import (
	"log/slog"
	"sync"
	"time"
)

// jobScheduler runs one-shot callbacks keyed by ID. Scheduling an ID that
// already has a pending job moves that job's run time instead of adding a
// second one, so at most one pending job exists per ID - two independent
// timers racing on the same support channel is exactly the bug class this
// avoids.
type jobScheduler struct {
	mu     sync.Mutex
	logger *slog.Logger
	jobs   map[string]*scheduledJob
}

type scheduledJob struct {
	timer *time.Timer
	runAt time.Time
}

func newJobScheduler(logger *slog.Logger) *jobScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &jobScheduler{
		logger: logger.With(loggerNameKey, "scheduler"),
		jobs:   map[string]*scheduledJob{},
	}
}

// Schedule runs fn at runAt under the given ID. If a job with that ID is
// already pending, its next-run-time is modified and its original callback
// kept.
func (s *jobScheduler) Schedule(id string, runAt time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}

	if job, ok := s.jobs[id]; ok {
		job.timer.Reset(delay)
		job.runAt = runAt
		s.logger.Debug("rescheduled job", "id", id, "run_at", runAt)
		return
	}

	job := &scheduledJob{runAt: runAt}
	job.timer = time.AfterFunc(
		delay, func() {
			s.mu.Lock()
			delete(s.jobs, id)
			s.mu.Unlock()
			fn()
		},
	)
	s.jobs[id] = job
	s.logger.Debug("scheduled job", "id", id, "run_at", runAt)
}

// Remove cancels the pending job with the given ID, if any.
func (s *jobScheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.timer.Stop()
		delete(s.jobs, id)
	}
}

// NextRun returns the scheduled run time for the given ID, and whether a
// job with that ID is pending.
func (s *jobScheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return time.Time{}, false
	}
	return job.runAt, true
}

// Len returns the number of pending jobs.
func (s *jobScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// StopAll cancels every pending job.
func (s *jobScheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		job.timer.Stop()
		delete(s.jobs, id)
	}
}
