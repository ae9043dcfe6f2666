package pricefeed

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

var minPrice = decimal.NewFromInt(1)

// SimulatorConfig configures the random-walk simulator.
type SimulatorConfig struct {
	Start    Static        // starting prices
	Seed     int64         // same seed, same walk
	MaxStep  float64       // largest absolute move per tick, default 7.5
	Interval time.Duration // tick period for Run, default 2s

	// Gate, when set, pauses ticking while it returns false (e.g. outside
	// market hours). Prices hold their last value.
	Gate func(time.Time) bool
}

// Simulator moves each symbol's price by a uniform random step in
// [-MaxStep, +MaxStep) per tick, floored at 1.00 and rounded to cents.
// It publishes every new quote to its sinks and is itself a PriceSource.
type Simulator struct {
	cfg    SimulatorConfig
	sinks  []model.QuoteSink
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	rng     *rand.Rand
	symbols []string
	prices  map[string]decimal.Decimal

	// OnTick is called after each tick with the number of quotes published.
	OnTick func(n int)
}

// NewSimulator creates a simulator publishing to sinks.
func NewSimulator(cfg SimulatorConfig, logger *slog.Logger, sinks ...model.QuoteSink) *Simulator {
	if cfg.MaxStep <= 0 {
		cfg.MaxStep = 7.5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		cfg:    cfg,
		sinks:  sinks,
		logger: logger.With(slog.String("component", "simulator")),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		prices: make(map[string]decimal.Decimal, len(cfg.Start)),
	}
	for sym, p := range cfg.Start {
		s.symbols = append(s.symbols, sym)
		s.prices[sym] = p
	}
	// fixed iteration order keeps the walk reproducible
	sort.Strings(s.symbols)
	return s
}

// Step advances every symbol by one tick and returns the new quotes.
func (s *Simulator) Step() []model.Quote {
	ts := s.now().UTC()

	s.mu.Lock()
	quotes := make([]model.Quote, 0, len(s.symbols))
	for _, sym := range s.symbols {
		old := s.prices[sym]
		move := (s.rng.Float64() - 0.5) * 2 * s.cfg.MaxStep
		next := old.Add(decimal.NewFromFloat(move)).Round(2)
		if next.LessThan(minPrice) {
			next = minPrice
		}
		s.prices[sym] = next
		quotes = append(quotes, model.Quote{Symbol: sym, Price: next, Change: next.Sub(old), TS: ts})
	}
	s.mu.Unlock()

	return quotes
}

// Publish pushes quotes to every sink. Sink errors are logged.
func (s *Simulator) Publish(ctx context.Context, quotes []model.Quote) {
	for _, q := range quotes {
		for _, sink := range s.sinks {
			if err := sink.SetQuote(ctx, q); err != nil {
				s.logger.Warn("publish quote failed", slog.String("symbol", q.Symbol), slog.Any("error", err))
			}
		}
	}
	if s.OnTick != nil {
		s.OnTick(len(quotes))
	}
}

// Run seeds the sinks with the starting prices, then ticks every Interval
// until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	s.Publish(ctx, s.current())

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("simulator started", slog.Int("symbols", len(s.symbols)), slog.Duration("interval", s.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.cfg.Gate != nil && !s.cfg.Gate(s.now()) {
				continue
			}
			s.Publish(ctx, s.Step())
		}
	}
}

func (s *Simulator) current() []model.Quote {
	ts := s.now().UTC()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Quote, 0, len(s.symbols))
	for _, sym := range s.symbols {
		out = append(out, model.Quote{Symbol: sym, Price: s.prices[sym], TS: ts})
	}
	return out
}

// Quotes returns the current simulated quotes in symbol order.
func (s *Simulator) Quotes(_ context.Context) ([]model.Quote, error) {
	return s.current(), nil
}

// Prices implements model.PriceSource over the simulator's current prices.
func (s *Simulator) Prices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}
