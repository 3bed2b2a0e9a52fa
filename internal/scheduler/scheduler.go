// Package scheduler runs the recurring background jobs: the alert sweep,
// sync-queue rebuild, cache warming, and the daily maintenance and backup
// windows. Jobs guard themselves with store-backed leases so overlapping
// runs are skipped, including runs held by another process.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// JobStatus is a point-in-time view of a registered job, served by the
// /api/system/jobs endpoint.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	Status    string     `json:"status"`
	LastError string     `json:"last_error,omitempty"`
}

type jobEntry struct {
	job      Job
	schedule string
	entryID  cron.EntryID

	lastRun   time.Time
	status    string
	lastError string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu      sync.RWMutex
	entries []*jobEntry
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with cron schedule
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "0 0 2 * * *"        - 2 AM daily
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	entry := &jobEntry{
		job:      job,
		schedule: schedule,
		status:   "idle",
	}

	id, err := s.cron.AddFunc(schedule, func() {
		s.runEntry(entry)
	})
	if err != nil {
		return err
	}

	entry.entryID = id

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")

	s.mu.RLock()
	var entry *jobEntry
	for _, e := range s.entries {
		if e.job.Name() == job.Name() {
			entry = e
			break
		}
	}
	s.mu.RUnlock()

	if entry == nil {
		return job.Run()
	}

	s.runEntry(entry)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry.status == "failed" {
		return &jobError{name: job.Name(), message: entry.lastError}
	}
	return nil
}

// Jobs returns the status of every registered job, sorted by registration
// order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		status := JobStatus{
			Name:      e.job.Name(),
			Schedule:  e.schedule,
			Status:    e.status,
			LastError: e.lastError,
		}

		if !e.lastRun.IsZero() {
			t := e.lastRun
			status.LastRun = &t
		}

		if next := s.cron.Entry(e.entryID).Next; !next.IsZero() {
			n := next
			status.NextRun = &n
		}

		statuses = append(statuses, status)
	}

	return statuses
}

func (s *Scheduler) runEntry(entry *jobEntry) {
	name := entry.job.Name()

	s.mu.Lock()
	entry.status = "running"
	entry.lastRun = time.Now().UTC()
	s.mu.Unlock()

	s.log.Debug().Str("job", name).Msg("Running job")

	err := entry.job.Run()

	s.mu.Lock()
	if err != nil {
		entry.status = "failed"
		entry.lastError = err.Error()
	} else {
		entry.status = "ok"
		entry.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().
			Err(err).
			Str("job", name).
			Msg("Job failed")
	} else {
		s.log.Debug().Str("job", name).Msg("Job completed")
	}
}

type jobError struct {
	name    string
	message string
}

func (e *jobError) Error() string {
	return "job " + e.name + " failed: " + e.message
}
