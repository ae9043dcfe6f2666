package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holding is a symbol's net open position with valuation fields derived
// from the current price. Quantity is signed: positive = long, negative = short.
type Holding struct {
	Symbol       string          `json:"symbol"`
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avgPrice"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	PnL          decimal.Decimal `json:"pnl"`
}

// CostBasis returns AvgPrice * Quantity.
func (h Holding) CostBasis() decimal.Decimal {
	return h.AvgPrice.Mul(decimal.NewFromInt(h.Quantity))
}

// Summary holds portfolio level totals.
type Summary struct {
	TotalValue      decimal.Decimal `json:"totalValue"`
	TotalPnL        decimal.Decimal `json:"totalPnL"`
	TotalPnLPercent decimal.Decimal `json:"totalPnLPercent"`
	CostBasis       decimal.Decimal `json:"costBasis"`
	Holdings        int             `json:"holdings"`
}

// Quote is the latest market price for a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Change decimal.Decimal `json:"change"`
	TS     time.Time       `json:"ts"`
}
