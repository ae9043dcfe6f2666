// Package scheduler runs periodic portfolio jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = time.Minute

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler wraps a cron runner. Jobs run with a per-run timeout derived
// from a context that is cancelled by Stop.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]cron.EntryID

	// OnRun is called after every run with the job name and its error (for metrics).
	OnRun func(name string, err error)
}

// New creates a scheduler using standard five-field cron specs plus the
// @every and @daily descriptors. Overlapping runs of the same job are skipped.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger:  logger,
		timeout: defaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// SetJobTimeout bounds every subsequent run.
func (s *Scheduler) SetJobTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// AddJob registers job under schedule. Schedule examples:
//   - "@every 30s"
//   - "0 9 * * 1-5" (09:00 on weekdays)
//   - "@daily"
func (s *Scheduler) AddJob(schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name()]; dup {
		return fmt.Errorf("job %q already registered", job.Name())
	}

	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})).
		Then(cron.FuncJob(func() { s.run(job) }))
	id, err := s.cron.AddJob(schedule, wrapped)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", job.Name(), schedule, err)
	}
	s.entries[job.Name()] = id

	s.logger.Info("job registered", slog.String("job", job.Name()), slog.String("schedule", schedule))
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.logger.Info("running job immediately", slog.String("job", job.Name()))
	return s.run(job)
}

func (s *Scheduler) run(job Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		s.logger.Error("job failed",
			slog.String("job", job.Name()),
			slog.Duration("took", time.Since(start)),
			slog.Any("error", err),
		)
	} else {
		s.logger.Debug("job completed", slog.String("job", job.Name()), slog.Duration("took", time.Since(start)))
	}
	if s.OnRun != nil {
		s.OnRun(job.Name(), err)
	}
	return err
}

// Next returns the next scheduled run of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Start starts the cron runner in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", slog.Int("jobs", s.Len()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
