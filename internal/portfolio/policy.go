package portfolio

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Policy selects how the average entry price reacts to a fill.
type Policy int

const (
	// PolicyReprice applies the incremental weighted average on every fill
	// that leaves the position open, including position-reducing fills:
	//
	//	avg = (avg*qty + price*signedQty) / newQty
	PolicyReprice Policy = iota

	// PolicyCostBasis only reprices on position-increasing fills. Reducing
	// fills keep the average, a fill crossing zero opens the new side at the
	// fill price.
	PolicyCostBasis
)

func (p Policy) String() string {
	switch p {
	case PolicyReprice:
		return "reprice"
	case PolicyCostBasis:
		return "costbasis"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps "reprice" / "costbasis" to a Policy. Empty means reprice.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reprice":
		return PolicyReprice, nil
	case "costbasis", "cost-basis", "cost_basis":
		return PolicyCostBasis, nil
	}
	return PolicyReprice, fmt.Errorf("unknown averaging policy %q", s)
}

// position is the mutable per-symbol state used during a single fold.
type position struct {
	qty       int64
	avg       decimal.Decimal
	lastPrice decimal.Decimal
}

// apply folds one fill into pos.
func (p Policy) apply(pos *position, signedQty int64, price decimal.Decimal) {
	newQty := pos.qty + signedQty
	if newQty == 0 {
		pos.qty = 0
		pos.avg = decimal.Zero
		return
	}

	increasing := pos.qty == 0 || (pos.qty > 0) == (signedQty > 0)
	if p == PolicyReprice || increasing {
		pos.avg = weightedAverage(pos.avg, pos.qty, price, signedQty, newQty)
	} else if (pos.qty > 0) != (newQty > 0) {
		// crossed zero: the remainder is a fresh position at the fill price
		pos.avg = price
	}
	pos.qty = newQty
}

func weightedAverage(avg decimal.Decimal, qty int64, price decimal.Decimal, signedQty, newQty int64) decimal.Decimal {
	held := avg.Mul(decimal.NewFromInt(qty))
	traded := price.Mul(decimal.NewFromInt(signedQty))
	return held.Add(traded).Div(decimal.NewFromInt(newQty))
}
