// Package pricefeed provides price sources for portfolio valuation: a
// fixed map, an ordered fallback chain and a seeded random-walk simulator.
package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

// Static is a fixed price map.
type Static map[string]decimal.Decimal

// Prices returns the entries of s for symbols. An empty symbols slice
// returns a copy of the whole map.
func (s Static) Prices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		for k, v := range s {
			out[k] = v
		}
		return out, nil
	}
	for _, sym := range symbols {
		if p, ok := s[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

// ParseSymbols parses "AAPL:150,MSFT:300.5" into a price map.
func ParseSymbols(spec string) (Static, error) {
	out := make(Static)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, px, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("invalid symbol spec %q: want SYMBOL:PRICE", part)
		}
		p, err := decimal.NewFromString(strings.TrimSpace(px))
		if err != nil {
			return nil, fmt.Errorf("invalid price in %q: %w", part, err)
		}
		out[strings.TrimSpace(sym)] = p
	}
	return out, nil
}

// Source is a named PriceSource inside a Chain.
type Source struct {
	Name string
	model.PriceSource
}

// Chain asks each source in order for the symbols the earlier ones did not
// price. A failing source is logged and skipped.
type Chain struct {
	sources []Source
	logger  *slog.Logger

	// OnError is called with the source name when a lookup fails (for metrics).
	OnError func(source string)
}

// NewChain creates a Chain over sources, highest priority first.
func NewChain(logger *slog.Logger, sources ...Source) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{sources: sources, logger: logger.With(slog.String("component", "pricefeed"))}
}

// Prices implements model.PriceSource. It never returns an error: symbols
// no source can price are simply absent.
func (c *Chain) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(symbols))
	remaining := symbols
	for _, src := range c.sources {
		if len(remaining) == 0 {
			break
		}
		got, err := src.Prices(ctx, remaining)
		if err != nil {
			c.logger.Warn("price source failed", slog.String("source", src.Name), slog.Any("error", err))
			if c.OnError != nil {
				c.OnError(src.Name)
			}
			continue
		}
		next := remaining[:0:0]
		for _, sym := range remaining {
			if p, ok := got[sym]; ok {
				out[sym] = p
			} else {
				next = append(next, sym)
			}
		}
		remaining = next
	}
	return out, nil
}

// ChanSink is a QuoteSink that forwards quotes onto a channel without
// blocking. Quotes are dropped while the channel is full.
type ChanSink chan<- model.Quote

// SetQuote implements model.QuoteSink.
func (c ChanSink) SetQuote(_ context.Context, q model.Quote) error {
	select {
	case c <- q:
	default:
	}
	return nil
}
