package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Refresher recomputes every known account.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// RefreshRecorder is told when a refresh pass finished.
type RefreshRecorder interface {
	SetLastRefresh(t time.Time)
}

// RefreshJob refreshes all accounts and stamps the health status.
type RefreshJob struct {
	svc    Refresher
	health RefreshRecorder
	now    func() time.Time
}

// NewRefreshJob creates a RefreshJob. health may be nil.
func NewRefreshJob(svc Refresher, health RefreshRecorder) *RefreshJob {
	return &RefreshJob{svc: svc, health: health, now: time.Now}
}

func (j *RefreshJob) Name() string { return "refresh_portfolios" }

func (j *RefreshJob) Run(ctx context.Context) error {
	if err := j.svc.RefreshAll(ctx); err != nil {
		return err
	}
	if j.health != nil {
		j.health.SetLastRefresh(j.now())
	}
	return nil
}

// DailyResetter clears per-day counters.
type DailyResetter interface {
	ResetDaily()
}

// DailyResetJob resets daily order counts at the start of the trading day.
type DailyResetJob struct {
	risk DailyResetter
}

func NewDailyResetJob(risk DailyResetter) *DailyResetJob {
	return &DailyResetJob{risk: risk}
}

func (j *DailyResetJob) Name() string { return "risk_daily_reset" }

func (j *DailyResetJob) Run(context.Context) error {
	j.risk.ResetDaily()
	return nil
}

// SnapshotPruner trims old value snapshots.
type SnapshotPruner interface {
	PruneSnapshots(ctx context.Context, keep int) (int64, error)
}

// PruneJob keeps the newest snapshots per account and drops the rest.
type PruneJob struct {
	store  SnapshotPruner
	keep   int
	logger *slog.Logger
}

func NewPruneJob(store SnapshotPruner, keep int, logger *slog.Logger) *PruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneJob{store: store, keep: keep, logger: logger.With(slog.String("job", "prune_snapshots"))}
}

func (j *PruneJob) Name() string { return "prune_snapshots" }

func (j *PruneJob) Run(ctx context.Context) error {
	n, err := j.store.PruneSnapshots(ctx, j.keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	if n > 0 {
		j.logger.Info("snapshots pruned", slog.Int64("deleted", n), slog.Int("keep", j.keep))
	}
	return nil
}

// Config selects the schedules for Register. A zero RefreshEvery disables
// the periodic refresh; other zero values take the defaults below.
type Config struct {
	RefreshEvery  time.Duration // "@every" refresh period
	DailyResetAt  string        // cron spec, default "0 9 * * 1-5"
	PruneAt       string        // cron spec, default "@daily"
	SnapshotsKept int           // default 1000
}

// Jobs are the collaborators Register schedules. Nil fields are skipped.
type Jobs struct {
	Service Refresher
	Health  RefreshRecorder
	Risk    DailyResetter
	Store   SnapshotPruner
}

// Register adds the standard portfolio jobs to s.
func Register(s *Scheduler, cfg Config, jobs Jobs) error {
	if cfg.DailyResetAt == "" {
		cfg.DailyResetAt = "0 9 * * 1-5"
	}
	if cfg.PruneAt == "" {
		cfg.PruneAt = "@daily"
	}
	if cfg.SnapshotsKept <= 0 {
		cfg.SnapshotsKept = 1000
	}

	if jobs.Service != nil && cfg.RefreshEvery > 0 {
		spec := "@every " + cfg.RefreshEvery.String()
		if err := s.AddJob(spec, NewRefreshJob(jobs.Service, jobs.Health)); err != nil {
			return err
		}
	}
	if jobs.Risk != nil {
		if err := s.AddJob(cfg.DailyResetAt, NewDailyResetJob(jobs.Risk)); err != nil {
			return err
		}
	}
	if jobs.Store != nil {
		if err := s.AddJob(cfg.PruneAt, NewPruneJob(jobs.Store, cfg.SnapshotsKept, s.logger)); err != nil {
			return err
		}
	}
	return nil
}
