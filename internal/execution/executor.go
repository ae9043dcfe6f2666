// Package execution fills orders. PaperExecutor simulates fills against
// current quotes with configurable slippage; Journal keeps an audit trail
// of every fill in SQLite.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

// ErrNoPrice is returned when a market order has no quote to fill against.
var ErrNoPrice = errors.New("no price available")

// Fill is the outcome of executing one order.
type Fill struct {
	Order          model.Order     `json:"order"` // as persisted: FILLED at the fill price
	RequestedPrice decimal.Decimal `json:"requested_price"`
	Slippage       decimal.Decimal `json:"slippage"` // absolute, per share
	FilledAt       time.Time       `json:"filled_at"`
}

// Executor turns an order request into a filled order.
type Executor interface {
	Execute(ctx context.Context, order model.Order) (Fill, error)
}

// FillRecorder receives every fill (e.g. the Journal).
type FillRecorder interface {
	RecordFill(ctx context.Context, fill Fill) error
}
