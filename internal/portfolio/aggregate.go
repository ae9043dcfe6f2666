// Package portfolio folds order streams into holdings and portfolio totals,
// and assesses the resulting positions against risk limits.
//
// Aggregate is a pure function: it reads nothing but its arguments and keeps
// no state between calls, so it is safe to call from any goroutine. Book is
// the mutex-guarded state layer that feeds it.
package portfolio

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

var hundred = decimal.NewFromInt(100)

// DiagnosticReason classifies why an input record was skipped or adjusted.
type DiagnosticReason string

const (
	ReasonEmptySymbol    DiagnosticReason = "empty_symbol"
	ReasonUnknownSide    DiagnosticReason = "unknown_side"
	ReasonBadQuantity    DiagnosticReason = "bad_quantity"
	ReasonBadPrice       DiagnosticReason = "bad_price"
	ReasonUnknownStatus  DiagnosticReason = "unknown_status"
	ReasonBadMarketPrice DiagnosticReason = "bad_market_price"
)

// Diagnostic reports an input record the aggregator skipped or could not
// use as given. Index is the order's position in the input slice, or -1
// for price map entries.
type Diagnostic struct {
	Index   int              `json:"index"`
	OrderID string           `json:"orderId,omitempty"`
	Symbol  string           `json:"symbol,omitempty"`
	Reason  DiagnosticReason `json:"reason"`
	Detail  string           `json:"detail"`
}

// Result is the output of Aggregate.
type Result struct {
	Holdings    map[string]model.Holding `json:"holdings"`
	Summary     model.Summary            `json:"summary"`
	Diagnostics []Diagnostic             `json:"diagnostics,omitempty"`
}

// Sorted returns the holdings ordered by symbol.
func (r Result) Sorted() []model.Holding {
	out := make([]model.Holding, 0, len(r.Holdings))
	for _, h := range r.Holdings {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Option configures Aggregate.
type Option func(*options)

type options struct {
	policy Policy
}

// WithPolicy selects the averaging policy. The default is PolicyReprice.
func WithPolicy(p Policy) Option {
	return func(o *options) { o.policy = p }
}

// Aggregate folds orders, in the order given, into per-symbol holdings and
// portfolio totals valued at prices.
//
// Only FILLED orders contribute. A symbol missing from prices (or priced at
// zero or below) is valued at the execution price of the last FILLED order
// processed for it. Holdings that net to zero are left out. Invalid orders
// are skipped and reported in Result.Diagnostics.
func Aggregate(orders []model.Order, prices map[string]decimal.Decimal, opts ...Option) Result {
	o := options{policy: PolicyReprice}
	for _, opt := range opts {
		opt(&o)
	}

	positions := make(map[string]*position)
	var diags []Diagnostic

	for i, ord := range orders {
		if ord.Status != model.StatusFilled {
			if !ord.Status.Valid() {
				diags = append(diags, diagnose(i, ord, ReasonUnknownStatus, "unknown status "+string(ord.Status)))
			}
			continue
		}
		if err := ord.Validate(false); err != nil {
			diags = append(diags, diagnose(i, ord, reasonFor(err), err.Error()))
			continue
		}

		pos, ok := positions[ord.Symbol]
		if !ok {
			pos = &position{}
			positions[ord.Symbol] = pos
		}
		o.policy.apply(pos, ord.SignedQty(), ord.Price)
		pos.lastPrice = ord.Price
	}

	symbols := make([]string, 0, len(positions))
	for sym := range positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	holdings := make(map[string]model.Holding, len(positions))
	for _, sym := range symbols {
		pos := positions[sym]
		if pos.qty == 0 {
			continue
		}

		price := pos.lastPrice
		if p, ok := prices[sym]; ok {
			if p.IsPositive() {
				price = p
			} else {
				diags = append(diags, Diagnostic{
					Index:  -1,
					Symbol: sym,
					Reason: ReasonBadMarketPrice,
					Detail: "market price " + p.String() + " ignored, valued at last fill " + pos.lastPrice.String(),
				})
			}
		}
		holdings[sym] = value(sym, pos, price)
	}

	return Result{
		Holdings:    holdings,
		Summary:     Summarize(holdings),
		Diagnostics: diags,
	}
}

func value(sym string, pos *position, price decimal.Decimal) model.Holding {
	qty := decimal.NewFromInt(pos.qty)
	return model.Holding{
		Symbol:       sym,
		Quantity:     pos.qty,
		AvgPrice:     pos.avg,
		CurrentPrice: price,
		CurrentValue: qty.Mul(price),
		PnL:          price.Sub(pos.avg).Mul(qty),
	}
}

// Summarize totals a set of holdings.
//
// TotalPnLPercent keeps the dashboard's formula TotalPnL / (TotalValue -
// TotalPnL) * 100, which is only computed while TotalValue is positive.
// The denominator equals CostBasis, which is also reported.
func Summarize(holdings map[string]model.Holding) model.Summary {
	s := model.Summary{
		TotalValue:      decimal.Zero,
		TotalPnL:        decimal.Zero,
		TotalPnLPercent: decimal.Zero,
		CostBasis:       decimal.Zero,
		Holdings:        len(holdings),
	}
	for _, h := range holdings {
		s.TotalValue = s.TotalValue.Add(h.CurrentValue)
		s.TotalPnL = s.TotalPnL.Add(h.PnL)
		s.CostBasis = s.CostBasis.Add(h.CostBasis())
	}
	if s.TotalValue.IsPositive() {
		denom := s.TotalValue.Sub(s.TotalPnL)
		if !denom.IsZero() {
			s.TotalPnLPercent = s.TotalPnL.Div(denom).Mul(hundred)
		}
	}
	return s
}

// Symbols returns the distinct symbols of the FILLED orders, sorted.
func Symbols(orders []model.Order) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, o := range orders {
		if o.Status != model.StatusFilled || o.Symbol == "" {
			continue
		}
		if _, ok := seen[o.Symbol]; ok {
			continue
		}
		seen[o.Symbol] = struct{}{}
		out = append(out, o.Symbol)
	}
	sort.Strings(out)
	return out
}

func diagnose(i int, o model.Order, reason DiagnosticReason, detail string) Diagnostic {
	return Diagnostic{Index: i, OrderID: o.ID, Symbol: o.Symbol, Reason: reason, Detail: detail}
}

func reasonFor(err error) DiagnosticReason {
	switch {
	case errors.Is(err, model.ErrEmptySymbol):
		return ReasonEmptySymbol
	case errors.Is(err, model.ErrUnknownSide):
		return ReasonUnknownSide
	case errors.Is(err, model.ErrBadQuantity):
		return ReasonBadQuantity
	default:
		return ReasonBadPrice
	}
}
