package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-portfolio/internal/execution"
	"trading-portfolio/internal/metrics"
	"trading-portfolio/internal/model"
	"trading-portfolio/internal/notification"
	"trading-portfolio/internal/portfolio"
)

type memSnapshots struct {
	mu     sync.Mutex
	values map[string][]decimal.Decimal
}

func (m *memSnapshots) SaveSnapshot(_ context.Context, account string, s model.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string][]decimal.Decimal)
	}
	m.values[account] = append(m.values[account], s.TotalValue)
	return nil
}

func (m *memSnapshots) ValueHistory(_ context.Context, account string, limit int) ([]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.values[account]
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]decimal.Decimal(nil), h...), nil
}

type recordingPublisher struct{ got []Update }

func (r *recordingPublisher) PublishUpdate(_ context.Context, u Update) error {
	r.got = append(r.got, u)
	return nil
}

type recordingNotifier struct{ got []notification.Alert }

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.got = append(r.got, a)
	return nil
}

type failingPrices struct{}

func (failingPrices) Prices(context.Context, []string) (map[string]decimal.Decimal, error) {
	return nil, errors.New("redis down")
}

type failingOrders struct{}

func (failingOrders) ListOrders(context.Context, string) ([]model.Order, error) {
	return nil, errors.New("db locked")
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func filled(account, sym string, side model.Side, qty int64, price string) model.Order {
	return model.Order{Account: account, Symbol: sym, Side: side, Quantity: qty, Price: dec(price), Status: model.StatusFilled}
}

type fixture struct {
	svc       *Service
	book      *portfolio.Book
	snaps     *memSnapshots
	pub       *recordingPublisher
	notifier  *recordingNotifier
	metrics   *metrics.Metrics
	risk      *portfolio.RiskManager
	paperExec *execution.PaperExecutor
}

func newFixture(t *testing.T, limits portfolio.RiskLimits) *fixture {
	t.Helper()
	f := &fixture{
		book:     portfolio.NewBook(),
		snaps:    &memSnapshots{},
		pub:      &recordingPublisher{},
		notifier: &recordingNotifier{},
		metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		risk:     portfolio.NewRiskManager(limits, nil),
	}
	f.paperExec = execution.NewPaperExecutor(f.book, f.book, nil, 0, nil)
	svc, err := New(Deps{
		Orders:    f.book,
		Prices:    f.book,
		Risk:      f.risk,
		Snapshots: f.snaps,
		Executor:  f.paperExec,
		Notifier:  f.notifier,
		Metrics:   f.metrics,
	}, nil)
	require.NoError(t, err)
	svc.Subscribe(f.pub)
	f.svc = svc
	return f
}

func TestNew_RequiresCoreDeps(t *testing.T) {
	_, err := New(Deps{}, nil)
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, portfolio.DefaultRiskLimits())
	require.NoError(t, f.book.SaveOrder(ctx, filled("acc-1", "AAPL", model.SideBuy, 100, "150")))
	f.book.SetPrice("AAPL", dec("180"))

	u, err := f.svc.Refresh(ctx, "acc-1")
	require.NoError(t, err)

	assert.Equal(t, "acc-1", u.Account)
	require.Len(t, u.Holdings, 1)
	assert.True(t, dec("18000").Equal(u.Summary.TotalValue))
	assert.True(t, dec("3000").Equal(u.Summary.TotalPnL))
	assert.True(t, dec("20").Equal(u.Summary.TotalPnLPercent))
	assert.False(t, u.At.IsZero())

	latest, ok := f.svc.Latest("acc-1")
	require.True(t, ok)
	assert.Equal(t, u, latest)
	require.Len(t, f.pub.got, 1)
	assert.Equal(t, "acc-1", f.pub.got[0].Account)

	history, _ := f.snaps.ValueHistory(ctx, "acc-1", 10)
	require.Len(t, history, 1)
	assert.True(t, dec("18000").Equal(history[0]))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AggregationsTotal))
	assert.Equal(t, 18000.0, testutil.ToFloat64(f.metrics.PortfolioValue.WithLabelValues("acc-1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OpenHoldings.WithLabelValues("acc-1")))
}

func TestRefresh_PriceFailureFallsBackToLastFill(t *testing.T) {
	ctx := context.Background()
	book := portfolio.NewBook()
	require.NoError(t, book.SaveOrder(ctx, filled("acc-1", "AAPL", model.SideBuy, 10, "200")))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	svc, err := New(Deps{Orders: book, Prices: failingPrices{}, Risk: portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), nil), Metrics: m}, nil)
	require.NoError(t, err)

	u, err := svc.Refresh(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, u.Holdings, 1)
	assert.True(t, dec("200").Equal(u.Holdings[0].CurrentPrice))
	assert.True(t, u.Summary.TotalPnL.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceSourceErrors.WithLabelValues("service")))
}

func TestRefresh_OrderSourceError(t *testing.T) {
	svc, err := New(Deps{Orders: failingOrders{}, Prices: portfolio.NewBook(), Risk: portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), nil)}, nil)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), "acc-1")
	assert.ErrorContains(t, err, "db locked")
	_, ok := svc.Latest("acc-1")
	assert.False(t, ok)
}

func TestRefresh_DiagnosticsCounted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, portfolio.DefaultRiskLimits())
	bad := filled("acc-1", "", model.SideBuy, 1, "10")
	require.NoError(t, f.book.SaveOrder(ctx, bad))

	u, err := f.svc.Refresh(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, u.Diagnostics, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SkippedOrders.WithLabelValues(string(portfolio.ReasonEmptySymbol))))
}

func TestRefresh_AlertsOnlyWhenNewlyRaised(t *testing.T) {
	ctx := context.Background()
	limits := portfolio.DefaultRiskLimits()
	limits.MaxConcentrationPct = 60
	limits.MaxVaRPct = 0
	limits.MaxDrawdownPct = 0
	f := newFixture(t, limits)

	require.NoError(t, f.book.SaveOrder(ctx, filled("acc-1", "AAPL", model.SideBuy, 10, "100")))
	f.book.SetPrice("AAPL", dec("100"))

	_, err := f.svc.Refresh(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, f.notifier.got, 1)
	assert.Contains(t, f.notifier.got[0].Message, "CONCENTRATION RISK: AAPL")
	assert.Equal(t, notification.AlertWarning, f.notifier.got[0].Level)
	assert.Equal(t, "acc-1", f.notifier.got[0].Account)

	// still concentrated: no repeat
	_, err = f.svc.Refresh(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, f.notifier.got, 1)

	// diversify: alert clears
	require.NoError(t, f.book.SaveOrder(ctx, filled("acc-1", "MSFT", model.SideBuy, 10, "100")))
	f.book.SetPrice("MSFT", dec("100"))
	u, err := f.svc.Refresh(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, u.Risk.Alerts)
	assert.Len(t, f.notifier.got, 1)

	// concentrate again: alert fires again
	require.NoError(t, f.book.SaveOrder(ctx, filled("acc-1", "AAPL", model.SideBuy, 90, "100")))
	_, err = f.svc.Refresh(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, f.notifier.got, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.AlertsTotal))
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, portfolio.DefaultRiskLimits())
	require.NoError(t, f.book.SaveOrder(ctx, filled("a", "AAPL", model.SideBuy, 1, "10")))
	require.NoError(t, f.book.SaveOrder(ctx, filled("b", "MSFT", model.SideBuy, 1, "10")))

	require.NoError(t, f.svc.RefreshAll(ctx))
	_, okA := f.svc.Latest("a")
	_, okB := f.svc.Latest("b")
	assert.True(t, okA)
	assert.True(t, okB)
	assert.Len(t, f.pub.got, 2)
}

func TestPlaceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, portfolio.DefaultRiskLimits())
	f.book.SetPrice("AAPL", dec("150"))

	fill, err := f.svc.PlaceOrder(ctx, model.Order{Account: "acc-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFilled, fill.Order.Status)
	assert.True(t, dec("150").Equal(fill.Order.Price))

	assert.Equal(t, 1, f.risk.DailyOrders("acc-1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.FillsTotal.WithLabelValues("BUY")))

	u, ok := f.svc.Latest("acc-1")
	require.True(t, ok, "placing an order refreshes the account")
	require.Len(t, u.Holdings, 1)
	assert.Equal(t, int64(10), u.Holdings[0].Quantity)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	ctx := context.Background()
	limits := portfolio.DefaultRiskLimits()
	limits.RestrictedSymbols = []string{"GME"}
	limits.MaxPositionSize = 100
	f := newFixture(t, limits)

	_, err := f.svc.PlaceOrder(ctx, model.Order{Account: "acc-1", Symbol: "GME", Side: model.SideBuy, Quantity: 1, Price: dec("20")})
	assert.ErrorIs(t, err, portfolio.ErrRestrictedSymbol)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RejectsTotal.WithLabelValues("restricted")))

	_, err = f.svc.PlaceOrder(ctx, model.Order{Account: "acc-1", Symbol: "AAPL", Side: model.SideSell, Quantity: 101, Price: dec("20")})
	assert.ErrorIs(t, err, portfolio.ErrPositionLimit)

	_, err = f.svc.PlaceOrder(ctx, model.Order{Account: "acc-1", Symbol: "TSLA", Side: model.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, execution.ErrNoPrice)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RejectsTotal.WithLabelValues("no_price")))

	_, err = f.svc.PlaceOrder(ctx, model.Order{Account: "acc-1", Symbol: "AAPL", Side: "HOLD", Quantity: 1, Price: dec("1")})
	assert.ErrorIs(t, err, model.ErrUnknownSide)

	assert.Empty(t, f.paperExec.GetFills())
	assert.Equal(t, 0, f.risk.DailyOrders("acc-1"))
}

func TestPlaceOrder_Disabled(t *testing.T) {
	svc, err := New(Deps{Orders: portfolio.NewBook(), Prices: portfolio.NewBook(), Risk: portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), nil)}, nil)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), model.Order{Symbol: "AAPL", Side: model.SideBuy, Quantity: 1})
	assert.ErrorIs(t, err, ErrExecutionDisabled)
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, model.Order) (execution.Fill, error) {
	return execution.Fill{}, errors.New("venue down")
}

func TestPlaceOrder_FailedExecutionReleasesBudget(t *testing.T) {
	book := portfolio.NewBook()
	book.SetPrice("AAPL", dec("150"))
	limits := portfolio.DefaultRiskLimits()
	limits.MaxDailyOrders = 1
	risk := portfolio.NewRiskManager(limits, nil)
	svc, err := New(Deps{Orders: book, Prices: book, Risk: risk, Executor: failingExecutor{}}, nil)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), model.Order{Account: "acc-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: 1})
	require.Error(t, err)
	assert.Equal(t, 0, risk.DailyOrders("acc-1"))
}

func TestPlaceOrder_ConcurrentCallsHonourDailyLimit(t *testing.T) {
	limits := portfolio.DefaultRiskLimits()
	limits.MaxDailyOrders = 3
	f := newFixture(t, limits)
	f.book.SetPrice("AAPL", dec("150"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.PlaceOrder(context.Background(), model.Order{Account: "acc-1", Symbol: "AAPL", Side: model.SideBuy, Quantity: 1})
		}()
	}
	wg.Wait()

	assert.Len(t, f.paperExec.GetFills(), 3)
	assert.Equal(t, 3, f.risk.DailyOrders("acc-1"))
}

func TestRisk_UsesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, portfolio.DefaultRiskLimits())
	require.NoError(t, f.book.SaveOrder(ctx, filled("acc-1", "AAPL", model.SideBuy, 10, "100")))
	f.book.SetPrice("AAPL", dec("80"))
	for _, v := range []string{"1000", "1100", "900"} {
		require.NoError(t, f.snaps.SaveSnapshot(ctx, "acc-1", model.Summary{TotalValue: dec(v)}))
	}

	report, err := f.svc.Risk(ctx, "acc-1")
	require.NoError(t, err)
	// peak 1100, current 800
	assert.InDelta(t, 27.27, report.MaxDrawdownPct, 0.01)
	assert.Greater(t, report.Volatility, 0.0)

	history, _ := f.snaps.ValueHistory(ctx, "acc-1", 10)
	assert.Len(t, history, 3, "Risk does not record a snapshot")
}

func TestAlertKind(t *testing.T) {
	assert.Equal(t, "HIGH VAR", alertKind("HIGH VAR: Value at Risk is 7.00% of portfolio"))
	assert.Equal(t, "plain", alertKind("plain"))
}

func TestPreview_HasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, portfolio.DefaultRiskLimits())
	require.NoError(t, f.book.SaveOrder(ctx, filled("acc-1", "AAPL", model.SideBuy, 10, "100")))

	u, err := f.svc.Preview(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, u.Holdings, 1)
	assert.NotEmpty(t, u.Risk.Alerts)

	_, ok := f.svc.Latest("acc-1")
	assert.False(t, ok)
	assert.Empty(t, f.pub.got)
	assert.Empty(t, f.notifier.got)
	history, _ := f.snaps.ValueHistory(ctx, "acc-1", 10)
	assert.Empty(t, history)
}
