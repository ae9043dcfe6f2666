package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Sign returns +1 for BUY, -1 for SELL and 0 otherwise.
func (s Side) Sign() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	}
	return 0
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusPending, StatusPartial, StatusFilled, StatusCancelled:
		return true
	}
	return false
}

// ParseSide normalises a side string ("buy", " SELL ").
func ParseSide(s string) (Side, error) {
	side := Side(strings.ToUpper(strings.TrimSpace(s)))
	if !side.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSide, s)
	}
	return side, nil
}

// ParseStatus normalises a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// Order is a single order or fill as observed from an order source.
// Orders are treated as immutable once observed.
type Order struct {
	ID        string          `json:"id,omitempty"`
	Account   string          `json:"account,omitempty"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    Status          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// Validation errors returned by Order.Validate.
var (
	ErrEmptySymbol   = errors.New("empty symbol")
	ErrUnknownSide   = errors.New("unknown side")
	ErrBadQuantity   = errors.New("quantity must be positive")
	ErrBadPrice      = errors.New("price must be positive")
	ErrUnknownStatus = errors.New("unknown status")
)

// Validate checks the fields that matter for aggregation. A zero price is
// accepted when allowMarket is set (market orders priced at fill time).
func (o Order) Validate(allowMarket bool) error {
	if strings.TrimSpace(o.Symbol) == "" {
		return ErrEmptySymbol
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSide, o.Side)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrBadQuantity, o.Quantity)
	}
	if o.Price.IsNegative() || (o.Price.IsZero() && !allowMarket) {
		return fmt.Errorf("%w: %s", ErrBadPrice, o.Price)
	}
	return nil
}

// SignedQty returns the quantity signed by side: positive for BUY.
func (o Order) SignedQty() int64 {
	return o.Side.Sign() * o.Quantity
}
