// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is a named maintenance task on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func() error
}

// Scheduler fires maintenance jobs on their cron schedules.
type Scheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	jobs map[string]cron.EntryID
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like @daily.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cronParser)),
		jobs: make(map[string]cron.EntryID),
	}
}

// Add registers job. Jobs with an empty schedule are skipped.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		slog.Info("job has no schedule, skipping", "name", job.Name)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.Name]; dup {
		return fmt.Errorf("job %s already scheduled", job.Name)
	}

	name, run := job.Name, job.Run
	id, err := s.cron.AddFunc(job.Schedule, func() {
		start := time.Now()
		if err := run(); err != nil {
			slog.Error("scheduled job failed", "name", name, "error", err)
			return
		}
		slog.Info("scheduled job done", "name", name, "took", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q for %s: %w", job.Schedule, job.Name, err)
	}
	s.jobs[job.Name] = id
	slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	return nil
}

// Next returns the next run time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
