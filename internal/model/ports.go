package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// ── Port interfaces ──
// These decouple the portfolio service from concrete order stores, price
// caches and the external backend.

// OrderSource returns an account's orders in fill order.
type OrderSource interface {
	ListOrders(ctx context.Context, account string) ([]Order, error)
}

// OrderSink persists a new or updated order.
type OrderSink interface {
	SaveOrder(ctx context.Context, order Order) error
}

// PriceSource returns current prices for the requested symbols.
// Symbols without a known price are omitted from the result.
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// QuoteSink receives price updates from a feed.
type QuoteSink interface {
	SetQuote(ctx context.Context, q Quote) error
}

// QuoteLister returns every known quote, sorted by symbol.
type QuoteLister interface {
	Quotes(ctx context.Context) ([]Quote, error)
}

// MessageService parses and validates raw FIX-style XML trade messages.
// It is implemented by the external backend; nothing in this module parses XML.
type MessageService interface {
	ParseMessage(ctx context.Context, raw string) (ParsedMessage, error)
	ValidateMessage(ctx context.Context, raw, messageType string) (ValidationResult, error)
}

// SnapshotStore persists portfolio summaries over time.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, account string, s Summary) error

	// ValueHistory returns up to limit total values, oldest first.
	ValueHistory(ctx context.Context, account string, limit int) ([]decimal.Decimal, error)
}
