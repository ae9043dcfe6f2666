package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

var bpsDivisor = decimal.NewFromInt(10000)

// PaperExecutor simulates order execution without real broker calls.
// Useful for demos and paper trading.
type PaperExecutor struct {
	prices   model.PriceSource
	sink     model.OrderSink
	recorder FillRecorder
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	fills []Fill

	// Simulation parameters
	slippageBps int64 // basis points of slippage (e.g., 5 = 0.05%)

	// OnFill is called after each successful fill (for metrics).
	OnFill func(Fill)
}

// NewPaperExecutor creates a paper trading executor. Fills are persisted
// to sink; recorder may be nil.
func NewPaperExecutor(prices model.PriceSource, sink model.OrderSink, recorder FillRecorder, slippageBps int64, logger *slog.Logger) *PaperExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaperExecutor{
		prices:      prices,
		sink:        sink,
		recorder:    recorder,
		logger:      logger.With(slog.String("component", "paper")),
		now:         time.Now,
		fills:       make([]Fill, 0, 1000),
		slippageBps: slippageBps,
	}
}

// GetFills returns a snapshot of all fills made by this executor.
func (p *PaperExecutor) GetFills() []Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cp := make([]Fill, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// Execute fills order immediately. A positive order price is a limit
// price and fills there; a zero price is a market order and fills at the
// current quote. Slippage moves buys up and sells down.
func (p *PaperExecutor) Execute(ctx context.Context, order model.Order) (Fill, error) {
	if err := order.Validate(true); err != nil {
		return Fill{}, fmt.Errorf("paper execute: %w", err)
	}

	base := order.Price
	if !base.IsPositive() {
		quotes, err := p.prices.Prices(ctx, []string{order.Symbol})
		if err != nil {
			return Fill{}, fmt.Errorf("paper execute %s: %w", order.Symbol, err)
		}
		q, ok := quotes[order.Symbol]
		if !ok || !q.IsPositive() {
			return Fill{}, fmt.Errorf("paper execute %s: %w", order.Symbol, ErrNoPrice)
		}
		base = q
	}

	slippage := base.Mul(decimal.NewFromInt(p.slippageBps)).Div(bpsDivisor)
	fillPrice := base.Add(slippage) // buy higher
	if order.Side == model.SideSell {
		fillPrice = base.Sub(slippage) // sell lower
	}

	// every fill is a new order; a caller-supplied ID never reaches the sink
	filled := order
	filled.ID = uuid.NewString()
	filled.Price = fillPrice
	filled.Status = model.StatusFilled
	filled.Timestamp = p.now().UTC()

	if err := p.sink.SaveOrder(ctx, filled); err != nil {
		return Fill{}, fmt.Errorf("paper persist %s: %w", filled.ID, err)
	}

	fill := Fill{
		Order:          filled,
		RequestedPrice: order.Price,
		Slippage:       slippage,
		FilledAt:       filled.Timestamp,
	}
	if p.recorder != nil {
		if err := p.recorder.RecordFill(ctx, fill); err != nil {
			p.logger.Warn("journal fill failed", slog.String("order", filled.ID), slog.Any("error", err))
		}
	}

	p.mu.Lock()
	p.fills = append(p.fills, fill)
	p.mu.Unlock()

	p.logger.Info("paper fill",
		slog.String("order", filled.ID),
		slog.String("account", filled.Account),
		slog.String("side", string(filled.Side)),
		slog.String("symbol", filled.Symbol),
		slog.Int64("qty", filled.Quantity),
		slog.String("price", fillPrice.String()),
		slog.String("slippage", slippage.String()),
	)
	if p.OnFill != nil {
		p.OnFill(fill)
	}
	return fill, nil
}
