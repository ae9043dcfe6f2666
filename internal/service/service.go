// Package service ties the order and price sources to the aggregator and
// fans each recomputed portfolio out to snapshots, subscribers and alert
// channels.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-portfolio/internal/execution"
	"trading-portfolio/internal/metrics"
	"trading-portfolio/internal/model"
	"trading-portfolio/internal/notification"
	"trading-portfolio/internal/portfolio"
)

const defaultHistoryLimit = 250

// ErrExecutionDisabled is returned by PlaceOrder when no executor is wired.
var ErrExecutionDisabled = errors.New("order execution is disabled")

// Update is one recomputed portfolio for an account.
type Update struct {
	Account     string                 `json:"account"`
	Summary     model.Summary          `json:"summary"`
	Holdings    []model.Holding        `json:"holdings"`
	Diagnostics []portfolio.Diagnostic `json:"diagnostics,omitempty"`
	Risk        portfolio.RiskReport   `json:"risk"`
	At          time.Time              `json:"ts"`
}

// Publisher receives every Update produced by Refresh.
type Publisher interface {
	PublishUpdate(ctx context.Context, u Update) error
}

// AccountLister enumerates accounts with orders.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Service. Orders, Prices and Risk are
// required; the rest may be nil.
type Deps struct {
	Orders    model.OrderSource
	Prices    model.PriceSource
	Risk      *portfolio.RiskManager
	Snapshots model.SnapshotStore
	Executor  execution.Executor
	Notifier  notification.Notifier
	Metrics   *metrics.Metrics

	Policy       portfolio.Policy
	HistoryLimit int // snapshots fed to risk assessment, default 250
}

// Service recomputes portfolios on demand.
type Service struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	pubMu      sync.RWMutex
	publishers []Publisher

	mu      sync.RWMutex
	latest  map[string]Update
	alerted map[string]map[string]bool // account -> alert kinds currently raised
}

// New creates a Service.
func New(deps Deps, logger *slog.Logger) (*Service, error) {
	if deps.Orders == nil || deps.Prices == nil || deps.Risk == nil {
		return nil, errors.New("service: orders, prices and risk are required")
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps:    deps,
		logger:  logger.With(slog.String("component", "service")),
		now:     time.Now,
		latest:  make(map[string]Update),
		alerted: make(map[string]map[string]bool),
	}, nil
}

// Subscribe registers p for every subsequent Update.
func (s *Service) Subscribe(p Publisher) {
	s.pubMu.Lock()
	s.publishers = append(s.publishers, p)
	s.pubMu.Unlock()
}

// Orders returns the account's orders from the order source.
func (s *Service) Orders(ctx context.Context, account string) ([]model.Order, error) {
	orders, err := s.deps.Orders.ListOrders(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("list orders %s: %w", account, err)
	}
	return orders, nil
}

// Latest returns the last Update computed for account.
func (s *Service) Latest(account string) (Update, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.latest[account]
	return u, ok
}

// compute lists the account's orders, prices their symbols and aggregates.
// A failing price source degrades to last-fill valuation.
func (s *Service) compute(ctx context.Context, account string) (portfolio.Result, error) {
	orders, err := s.Orders(ctx, account)
	if err != nil {
		return portfolio.Result{}, err
	}

	symbols := portfolio.Symbols(orders)
	prices, err := s.deps.Prices.Prices(ctx, symbols)
	if err != nil {
		s.logger.Warn("price lookup failed, valuing at last fill",
			slog.String("account", account), slog.Any("error", err))
		if m := s.deps.Metrics; m != nil {
			m.PriceSourceErrors.WithLabelValues("service").Inc()
		}
		prices = nil
	}

	start := time.Now()
	res := portfolio.Aggregate(orders, prices, portfolio.WithPolicy(s.deps.Policy))
	if m := s.deps.Metrics; m != nil {
		m.AggregationDur.Observe(time.Since(start).Seconds())
		m.AggregationsTotal.Inc()
		for _, d := range res.Diagnostics {
			m.SkippedOrders.WithLabelValues(string(d.Reason)).Inc()
		}
	}
	return res, nil
}

func (s *Service) history(ctx context.Context, account string) []decimal.Decimal {
	if s.deps.Snapshots == nil {
		return nil
	}
	h, err := s.deps.Snapshots.ValueHistory(ctx, account, s.deps.HistoryLimit)
	if err != nil {
		s.logger.Warn("value history unavailable", slog.String("account", account), slog.Any("error", err))
		return nil
	}
	return h
}

// Risk assesses the account's current holdings without recording a
// snapshot or publishing.
func (s *Service) Risk(ctx context.Context, account string) (portfolio.RiskReport, error) {
	res, err := s.compute(ctx, account)
	if err != nil {
		return portfolio.RiskReport{}, err
	}
	return s.deps.Risk.Assess(account, res, s.history(ctx, account)), nil
}

func (s *Service) build(ctx context.Context, account string) (Update, portfolio.Result, error) {
	res, err := s.compute(ctx, account)
	if err != nil {
		return Update{}, res, err
	}
	report := s.deps.Risk.Assess(account, res, s.history(ctx, account))
	return Update{
		Account:     account,
		Summary:     res.Summary,
		Holdings:    res.Sorted(),
		Diagnostics: res.Diagnostics,
		Risk:        report,
		At:          s.now().UTC(),
	}, res, nil
}

// Preview computes the account's current Update without recording,
// publishing or alerting.
func (s *Service) Preview(ctx context.Context, account string) (Update, error) {
	u, _, err := s.build(ctx, account)
	return u, err
}

// Refresh recomputes the account's portfolio, stores a snapshot, publishes
// the Update and dispatches newly raised risk alerts. Only an order source
// failure is returned; downstream failures are logged.
func (s *Service) Refresh(ctx context.Context, account string) (Update, error) {
	u, res, err := s.build(ctx, account)
	if err != nil {
		return Update{}, err
	}
	report := u.Risk

	if s.deps.Snapshots != nil {
		if err := s.deps.Snapshots.SaveSnapshot(ctx, account, res.Summary); err != nil {
			s.logger.Warn("snapshot failed", slog.String("account", account), slog.Any("error", err))
		}
	}

	if m := s.deps.Metrics; m != nil {
		m.OpenHoldings.WithLabelValues(account).Set(float64(res.Summary.Holdings))
		m.PortfolioValue.WithLabelValues(account).Set(res.Summary.TotalValue.InexactFloat64())
		m.PortfolioPnL.WithLabelValues(account).Set(res.Summary.TotalPnL.InexactFloat64())
		m.RiskScore.WithLabelValues(account).Set(float64(report.RiskScore))
	}

	s.mu.Lock()
	s.latest[account] = u
	fresh := s.newAlerts(account, report.Alerts)
	s.mu.Unlock()

	s.publish(ctx, u)
	s.notify(ctx, account, fresh)

	s.logger.Debug("portfolio refreshed",
		slog.String("account", account),
		slog.Int("holdings", res.Summary.Holdings),
		slog.String("value", res.Summary.TotalValue.StringFixed(2)),
		slog.Int("risk_score", report.RiskScore),
	)
	return u, nil
}

// RefreshAll refreshes every account the order source knows about.
func (s *Service) RefreshAll(ctx context.Context) error {
	lister, ok := s.deps.Orders.(AccountLister)
	if !ok {
		return nil
	}
	accounts, err := lister.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var errs []error
	for _, acct := range accounts {
		if _, err := s.Refresh(ctx, acct); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PlaceOrder risk-checks order against the account's current holdings,
// executes it and refreshes the account.
func (s *Service) PlaceOrder(ctx context.Context, order model.Order) (execution.Fill, error) {
	if s.deps.Executor == nil {
		return execution.Fill{}, ErrExecutionDisabled
	}
	if err := order.Validate(true); err != nil {
		s.reject("invalid")
		return execution.Fill{}, err
	}

	price, err := s.checkPrice(ctx, order)
	if err != nil {
		s.reject("no_price")
		return execution.Fill{}, err
	}

	res, err := s.compute(ctx, order.Account)
	if err != nil {
		return execution.Fill{}, err
	}
	if err := s.deps.Risk.Reserve(order.Account, res, order, price); err != nil {
		s.reject(rejectReason(err))
		s.logger.Info("order rejected",
			slog.String("account", order.Account),
			slog.String("symbol", order.Symbol),
			slog.Any("error", err),
		)
		return execution.Fill{}, err
	}

	fill, err := s.deps.Executor.Execute(ctx, order)
	if err != nil {
		s.deps.Risk.Release(order.Account)
		return execution.Fill{}, err
	}
	if m := s.deps.Metrics; m != nil {
		m.FillsTotal.WithLabelValues(string(fill.Order.Side)).Inc()
	}

	if _, err := s.Refresh(ctx, order.Account); err != nil {
		s.logger.Warn("refresh after fill failed", slog.String("account", order.Account), slog.Any("error", err))
	}
	return fill, nil
}

// checkPrice returns the price the risk check values the order at: the
// limit price when given, else the current quote.
func (s *Service) checkPrice(ctx context.Context, order model.Order) (decimal.Decimal, error) {
	if order.Price.IsPositive() {
		return order.Price, nil
	}
	prices, err := s.deps.Prices.Prices(ctx, []string{order.Symbol})
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", order.Symbol, err)
	}
	p, ok := prices[order.Symbol]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("price %s: %w", order.Symbol, execution.ErrNoPrice)
	}
	return p, nil
}

func (s *Service) reject(reason string) {
	if m := s.deps.Metrics; m != nil {
		m.RejectsTotal.WithLabelValues(reason).Inc()
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, portfolio.ErrRestrictedSymbol):
		return "restricted"
	case errors.Is(err, portfolio.ErrPositionLimit):
		return "position_limit"
	case errors.Is(err, portfolio.ErrConcentrationLimit):
		return "concentration"
	case errors.Is(err, portfolio.ErrDailyOrderLimit):
		return "daily_limit"
	}
	return "other"
}

func (s *Service) publish(ctx context.Context, u Update) {
	s.pubMu.RLock()
	pubs := make([]Publisher, len(s.publishers))
	copy(pubs, s.publishers)
	s.pubMu.RUnlock()

	for _, p := range pubs {
		if err := p.PublishUpdate(ctx, u); err != nil {
			s.logger.Warn("publish failed", slog.String("account", u.Account), slog.Any("error", err))
		}
	}
}

// newAlerts returns the alerts whose kind was not raised on the previous
// refresh and remembers the current set. Caller holds s.mu.
func (s *Service) newAlerts(account string, alerts []string) []string {
	prev := s.alerted[account]
	cur := make(map[string]bool, len(alerts))
	var fresh []string
	for _, a := range alerts {
		k := alertKind(a)
		cur[k] = true
		if !prev[k] {
			fresh = append(fresh, a)
		}
	}
	s.alerted[account] = cur
	return fresh
}

// alertKind is the alert text before the first colon, e.g. "HIGH VAR".
func alertKind(alert string) string {
	if i := strings.IndexByte(alert, ':'); i >= 0 {
		return alert[:i]
	}
	return alert
}

func (s *Service) notify(ctx context.Context, account string, alerts []string) {
	if s.deps.Notifier == nil {
		return
	}
	for _, a := range alerts {
		alert := notification.Alert{
			Level:   notification.LevelFor(a),
			Account: account,
			Title:   "Portfolio risk alert",
			Message: a,
		}
		if err := s.deps.Notifier.Send(ctx, alert); err != nil {
			s.logger.Warn("alert delivery failed", slog.String("account", account), slog.Any("error", err))
			continue
		}
		if m := s.deps.Metrics; m != nil {
			m.AlertsTotal.Inc()
		}
	}
}
