package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Scheduler runs one-shot deferred callbacks on a gocron scheduler.
type Scheduler struct {
	scheduler *gocron.Scheduler
	logger    *slog.Logger

	mu   sync.Mutex
	last *gocron.Job
}

// New creates a new Scheduler. Call Start before registering callbacks.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		logger:    logger,
	}
}

// Start starts the underlying scheduler.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// After runs fn once, d from now. The job registered by the previous call
// is dropped; it has either fired already or is superseded.
func (s *Scheduler) After(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil {
		s.scheduler.RemoveByReference(s.last)
		s.last = nil
	}

	job, err := s.scheduler.
		Every(d).
		WaitForSchedule().
		LimitRunsTo(1).
		Do(fn)
	if err != nil {
		// gocron refuses some intervals (e.g. zero); keep the callback alive
		s.logger.Error("scheduler: failed to register job, falling back to timer", "in", d, "error", err)
		time.AfterFunc(d, fn)
		return
	}
	s.last = job
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
