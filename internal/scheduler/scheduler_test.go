package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

func TestAddJob_RejectsBadSpec(t *testing.T) {
	s := New(quietLogger())
	err := s.AddJob("not a schedule", funcJob{name: "x", fn: func(context.Context) error { return nil }})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestAddJob_RejectsDuplicateName(t *testing.T) {
	s := New(quietLogger())
	job := funcJob{name: "x", fn: func(context.Context) error { return nil }}
	require.NoError(t, s.AddJob("@every 1h", job))
	assert.Error(t, s.AddJob("@every 2h", job))

	_, ok := s.Next("x")
	assert.True(t, ok)
	_, ok = s.Next("missing")
	assert.False(t, ok)
}

func TestRunNow_ReportsError(t *testing.T) {
	s := New(quietLogger())
	boom := errors.New("boom")

	var gotName string
	var gotErr error
	s.OnRun = func(name string, err error) { gotName, gotErr = name, err }

	err := s.RunNow(funcJob{name: "failing", fn: func(context.Context) error { return boom }})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "failing", gotName)
	assert.ErrorIs(t, gotErr, boom)
}

func TestRunNow_AppliesTimeout(t *testing.T) {
	s := New(quietLogger())
	s.SetJobTimeout(10 * time.Millisecond)

	err := s.RunNow(funcJob{name: "slow", fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_FiresAndStops(t *testing.T) {
	s := New(quietLogger())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("@every 20ms", funcJob{name: "tick", fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	s.Stop()

	after := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")
}

func TestScheduler_RecoversPanics(t *testing.T) {
	s := New(quietLogger())
	var runs atomic.Int32
	require.NoError(t, s.AddJob("@every 20ms", funcJob{name: "panicky", fn: func(context.Context) error {
		runs.Add(1)
		panic("bad job")
	}}))

	s.Start()
	defer s.Stop()
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

type fakeService struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeService) RefreshAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fakeHealth struct{ last time.Time }

func (f *fakeHealth) SetLastRefresh(t time.Time) { f.last = t }

type fakeRisk struct{ resets int }

func (f *fakeRisk) ResetDaily() { f.resets++ }

type fakePruner struct {
	keep int
	n    int64
	err  error
}

func (f *fakePruner) PruneSnapshots(_ context.Context, keep int) (int64, error) {
	f.keep = keep
	return f.n, f.err
}

func TestRefreshJob(t *testing.T) {
	svc := &fakeService{}
	health := &fakeHealth{}
	job := NewRefreshJob(svc, health)
	stamp := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return stamp }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 1, svc.calls)
	assert.Equal(t, stamp, health.last)

	svc.err = errors.New("orders unavailable")
	health.last = time.Time{}
	assert.Error(t, job.Run(context.Background()))
	assert.True(t, health.last.IsZero(), "failed pass must not stamp health")
}

func TestRefreshJob_NilHealth(t *testing.T) {
	svc := &fakeService{}
	assert.NoError(t, NewRefreshJob(svc, nil).Run(context.Background()))
	assert.Equal(t, 1, svc.calls)
}

func TestDailyResetJob(t *testing.T) {
	risk := &fakeRisk{}
	require.NoError(t, NewDailyResetJob(risk).Run(context.Background()))
	assert.Equal(t, 1, risk.resets)
}

func TestPruneJob(t *testing.T) {
	p := &fakePruner{n: 3}
	require.NoError(t, NewPruneJob(p, 50, quietLogger()).Run(context.Background()))
	assert.Equal(t, 50, p.keep)

	p.err = errors.New("locked")
	assert.ErrorContains(t, NewPruneJob(p, 50, nil).Run(context.Background()), "prune snapshots")
}

func TestRegister(t *testing.T) {
	s := New(quietLogger())
	err := Register(s, Config{RefreshEvery: 30 * time.Second}, Jobs{
		Service: &fakeService{},
		Risk:    &fakeRisk{},
		Store:   &fakePruner{},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Len())

	for _, name := range []string{"refresh_portfolios", "risk_daily_reset", "prune_snapshots"} {
		_, ok := s.Next(name)
		assert.True(t, ok, name)
	}
}

func TestRegister_SkipsMissingCollaborators(t *testing.T) {
	s := New(quietLogger())
	require.NoError(t, Register(s, Config{}, Jobs{Service: &fakeService{}, Risk: &fakeRisk{}}))
	assert.Equal(t, 1, s.Len(), "refresh needs a period; only the daily reset is scheduled")
}

func TestRegister_BadSpec(t *testing.T) {
	s := New(quietLogger())
	err := Register(s, Config{DailyResetAt: "every day"}, Jobs{Risk: &fakeRisk{}})
	assert.Error(t, err)
}
