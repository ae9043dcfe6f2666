package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"trading-portfolio/internal/model"
)

// z-score of the one-sided 95% normal quantile.
const z95 = 1.645

// fallback VaR when there is not enough history for a volatility estimate.
var flatVaRRate = decimal.RequireFromString("0.02")

// Pre-trade rejections returned by CheckOrder and RiskManager.Reserve.
var (
	ErrRestrictedSymbol   = errors.New("symbol is restricted")
	ErrPositionLimit      = errors.New("position size exceeds limit")
	ErrConcentrationLimit = errors.New("position concentration exceeds limit")
	ErrDailyOrderLimit    = errors.New("daily order limit reached")
)

// RiskLimits defines configurable risk management thresholds.
type RiskLimits struct {
	MaxPositionSize     int64    `json:"max_position_size"`     // max |qty| per symbol
	MaxConcentrationPct float64  `json:"max_concentration_pct"` // max share of gross exposure per symbol (0-100)
	MaxVaRPct           float64  `json:"max_var_pct"`           // max 1-day 95% VaR as % of gross exposure
	MaxDrawdownPct      float64  `json:"max_drawdown_pct"`      // max peak-to-trough drop of total value (0-100)
	MaxDailyOrders      int      `json:"max_daily_orders"`      // per account
	RestrictedSymbols   []string `json:"restricted_symbols,omitempty"`
}

// DefaultRiskLimits returns conservative default limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionSize:     10000,
		MaxConcentrationPct: 25,
		MaxVaRPct:           5,
		MaxDrawdownPct:      10,
		MaxDailyOrders:      200,
	}
}

func (l RiskLimits) restricted(symbol string) bool {
	for _, s := range l.RestrictedSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	return false
}

// RiskReport summarises the risk of a set of holdings.
type RiskReport struct {
	GrossExposure       decimal.Decimal `json:"grossExposure"`
	ValueAtRisk         decimal.Decimal `json:"valueAtRisk"`
	VaRPct              float64         `json:"varPct"`
	Volatility          float64         `json:"volatility"` // stdev of period returns, 0 without history
	MaxConcentrationPct float64         `json:"maxConcentrationPct"`
	ConcentratedSymbol  string          `json:"concentratedSymbol,omitempty"`
	MaxDrawdownPct      float64         `json:"maxDrawdownPct"`
	RiskScore           int             `json:"riskScore"` // 1-10
	Alerts              []string        `json:"alerts"`
}

// Assess computes risk metrics for res. history is the account's past total
// values, oldest first; the current total value is appended to it.
//
// VaR is the 1-day 95% parametric estimate z * stdev(returns) * exposure
// once history yields at least two returns, otherwise a flat 2% of exposure.
func Assess(res Result, history []decimal.Decimal, limits RiskLimits) RiskReport {
	r := RiskReport{
		GrossExposure: decimal.Zero,
		ValueAtRisk:   decimal.Zero,
		Alerts:        []string{},
	}

	var largest decimal.Decimal
	for _, h := range res.Sorted() {
		v := h.CurrentValue.Abs()
		r.GrossExposure = r.GrossExposure.Add(v)
		if v.GreaterThan(largest) {
			largest = v
			r.ConcentratedSymbol = h.Symbol
		}
	}

	if r.GrossExposure.IsPositive() {
		r.MaxConcentrationPct = largest.Div(r.GrossExposure).Mul(hundred).InexactFloat64()
	}

	series := make([]float64, 0, len(history)+1)
	for _, v := range history {
		series = append(series, v.InexactFloat64())
	}
	series = append(series, res.Summary.TotalValue.InexactFloat64())

	returns := periodReturns(series)
	if len(returns) >= 2 {
		r.Volatility = stat.StdDev(returns, nil)
		r.ValueAtRisk = r.GrossExposure.Mul(decimal.NewFromFloat(z95 * r.Volatility))
	} else {
		r.ValueAtRisk = r.GrossExposure.Mul(flatVaRRate)
	}
	if r.GrossExposure.IsPositive() {
		r.VaRPct = r.ValueAtRisk.Div(r.GrossExposure).Mul(hundred).InexactFloat64()
	}
	r.MaxDrawdownPct = maxDrawdown(series)

	r.RiskScore = riskScore(r, limits)

	if r.RiskScore >= 8 {
		r.Alerts = append(r.Alerts, fmt.Sprintf("HIGH RISK: Overall risk score is %d/10", r.RiskScore))
	}
	if limits.MaxConcentrationPct > 0 && r.MaxConcentrationPct > limits.MaxConcentrationPct {
		r.Alerts = append(r.Alerts, fmt.Sprintf("CONCENTRATION RISK: %s is %.2f%% of exposure", r.ConcentratedSymbol, r.MaxConcentrationPct))
	}
	if limits.MaxVaRPct > 0 && r.VaRPct > limits.MaxVaRPct {
		r.Alerts = append(r.Alerts, fmt.Sprintf("HIGH VAR: Value at Risk is %.2f%% of portfolio", r.VaRPct))
	}
	if limits.MaxDrawdownPct > 0 && r.MaxDrawdownPct > limits.MaxDrawdownPct {
		r.Alerts = append(r.Alerts, fmt.Sprintf("DRAWDOWN: %.2f%% from peak", r.MaxDrawdownPct))
	}
	return r
}

// riskScore maps each metric to 0 (well inside), 1 (above 80% of the
// limit) or 3 (breached) and adds them to a base of 1, capped at 10.
func riskScore(r RiskReport, limits RiskLimits) int {
	score := 1
	grade := func(v, limit float64) int {
		switch {
		case limit <= 0:
			return 0
		case v > limit:
			return 3
		case v > 0.8*limit:
			return 1
		}
		return 0
	}
	score += grade(r.MaxConcentrationPct, limits.MaxConcentrationPct)
	score += grade(r.VaRPct, limits.MaxVaRPct)
	score += grade(r.MaxDrawdownPct, limits.MaxDrawdownPct)
	if score > 10 {
		score = 10
	}
	return score
}

// periodReturns skips steps starting from a non-positive value.
func periodReturns(series []float64) []float64 {
	var out []float64
	for i := 1; i < len(series); i++ {
		prev := series[i-1]
		if prev <= 0 {
			continue
		}
		out = append(out, (series[i]-prev)/prev)
	}
	return out
}

func maxDrawdown(series []float64) float64 {
	peak := math.Inf(-1)
	var worst float64
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// CheckOrder validates a prospective order against the holdings in res.
// price is the expected execution price.
func CheckOrder(res Result, order model.Order, price decimal.Decimal, limits RiskLimits) error {
	if limits.restricted(order.Symbol) {
		return fmt.Errorf("%w: %s", ErrRestrictedSymbol, order.Symbol)
	}

	cur := res.Holdings[order.Symbol]
	newQty := cur.Quantity + order.SignedQty()
	if limits.MaxPositionSize > 0 && (newQty > limits.MaxPositionSize || newQty < -limits.MaxPositionSize) {
		return fmt.Errorf("%w: %s would be %d (limit %d)", ErrPositionLimit, order.Symbol, newQty, limits.MaxPositionSize)
	}

	if limits.MaxConcentrationPct <= 0 {
		return nil
	}
	others := decimal.Zero
	for sym, h := range res.Holdings {
		if sym != order.Symbol {
			others = others.Add(h.CurrentValue.Abs())
		}
	}
	if !others.IsPositive() {
		// a single-symbol book is 100% concentrated by definition
		return nil
	}
	own := decimal.NewFromInt(newQty).Mul(price).Abs()
	pct := own.Div(own.Add(others)).Mul(hundred).InexactFloat64()
	if pct > limits.MaxConcentrationPct {
		return fmt.Errorf("%w: %s would be %.2f%% (limit %.2f%%)", ErrConcentrationLimit, order.Symbol, pct, limits.MaxConcentrationPct)
	}
	return nil
}

// RiskManager applies RiskLimits and tracks per-account daily order counts.
type RiskManager struct {
	mu          sync.RWMutex
	limits      RiskLimits
	dailyOrders map[string]int
	logger      *slog.Logger
}

// NewRiskManager creates a RiskManager with the given limits.
func NewRiskManager(limits RiskLimits, logger *slog.Logger) *RiskManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskManager{
		limits:      limits,
		dailyOrders: make(map[string]int),
		logger:      logger.With(slog.String("component", "risk")),
	}
}

// Limits returns the configured limits.
func (rm *RiskManager) Limits() RiskLimits {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.limits
}

// SetLimits replaces the limits used by subsequent checks.
func (rm *RiskManager) SetLimits(limits RiskLimits) {
	rm.mu.Lock()
	rm.limits = limits
	rm.mu.Unlock()
	rm.logger.Info("risk limits updated",
		slog.Int64("max_position_size", limits.MaxPositionSize),
		slog.Float64("max_concentration_pct", limits.MaxConcentrationPct),
		slog.Int("max_daily_orders", limits.MaxDailyOrders),
	)
}

// Reserve checks the daily order budget and CheckOrder and, when both
// pass, counts the order against the budget under the same lock. Call Release if
// the order is not executed.
func (rm *RiskManager) Reserve(account string, res Result, order model.Order, price decimal.Decimal) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	limits := rm.limits
	count := rm.dailyOrders[account]
	if limits.MaxDailyOrders > 0 && count >= limits.MaxDailyOrders {
		return fmt.Errorf("%w: %d/%d", ErrDailyOrderLimit, count, limits.MaxDailyOrders)
	}
	if err := CheckOrder(res, order, price, limits); err != nil {
		return err
	}
	rm.dailyOrders[account] = count + 1
	return nil
}

// Release returns a reservation taken by Reserve.
func (rm *RiskManager) Release(account string) {
	rm.mu.Lock()
	if rm.dailyOrders[account] > 0 {
		rm.dailyOrders[account]--
	}
	rm.mu.Unlock()
}

// DailyOrders returns today's order count for account.
func (rm *RiskManager) DailyOrders(account string) int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.dailyOrders[account]
}

// ResetDaily clears the daily order counters (call at market open).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	rm.dailyOrders = make(map[string]int)
	rm.mu.Unlock()
	rm.logger.Info("daily risk counters reset")
}

// Assess runs Assess with the manager's limits and adds the daily order
// budget alert once 80% of it is used.
func (rm *RiskManager) Assess(account string, res Result, history []decimal.Decimal) RiskReport {
	rm.mu.RLock()
	limits := rm.limits
	count := rm.dailyOrders[account]
	rm.mu.RUnlock()

	report := Assess(res, history, limits)
	if limits.MaxDailyOrders > 0 && float64(count) > 0.8*float64(limits.MaxDailyOrders) {
		report.Alerts = append(report.Alerts, fmt.Sprintf("TRADING LIMIT: %d/%d daily orders used", count, limits.MaxDailyOrders))
	}
	return report
}
