package portfolio

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-portfolio/internal/model"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func fill(symbol string, side model.Side, qty int64, price string) model.Order {
	return model.Order{
		Symbol:    symbol,
		Side:      side,
		Quantity:  qty,
		Price:     decimal.RequireFromString(price),
		Status:    model.StatusFilled,
		Timestamp: t0,
	}
}

func prices(kv ...string) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = decimal.RequireFromString(kv[i+1])
	}
	return m
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func TestAggregate_SingleBuy(t *testing.T) {
	res := Aggregate([]model.Order{fill("AAPL", model.SideBuy, 100, "150")}, nil)

	require.Len(t, res.Holdings, 1)
	h := res.Holdings["AAPL"]
	assert.Equal(t, int64(100), h.Quantity)
	assertDec(t, "150", h.AvgPrice, "avgPrice")
	assert.Empty(t, res.Diagnostics)
}

func TestAggregate_WeightedAverageOnAccumulation(t *testing.T) {
	res := Aggregate([]model.Order{
		fill("AAPL", model.SideBuy, 100, "150"),
		fill("AAPL", model.SideBuy, 100, "160"),
	}, nil)

	h := res.Holdings["AAPL"]
	assert.Equal(t, int64(200), h.Quantity)
	assertDec(t, "155", h.AvgPrice, "avgPrice")
}

func TestAggregate_NonFilledIgnored(t *testing.T) {
	pending := model.Order{Symbol: "", Side: "HOLD", Quantity: -5, Status: model.StatusPending}
	orders := []model.Order{pending}
	for _, st := range []model.Status{model.StatusNew, model.StatusPartial, model.StatusCancelled} {
		o := fill("MSFT", model.SideBuy, 10, "300")
		o.Status = st
		orders = append(orders, o)
	}

	res := Aggregate(orders, prices("MSFT", "310"))
	assert.Empty(t, res.Holdings)
	assert.Empty(t, res.Diagnostics)
	assertDec(t, "0", res.Summary.TotalValue, "totalValue")
}

func TestAggregate_FallbackPricing(t *testing.T) {
	res := Aggregate([]model.Order{fill("X", model.SideBuy, 10, "20")}, map[string]decimal.Decimal{})

	h := res.Holdings["X"]
	assertDec(t, "20", h.CurrentPrice, "currentPrice")
	assertDec(t, "200", h.CurrentValue, "currentValue")
	assertDec(t, "0", h.PnL, "pnl")
}

func TestAggregate_FallbackUsesLastFillPrice(t *testing.T) {
	res := Aggregate([]model.Order{
		fill("X", model.SideBuy, 10, "20"),
		fill("X", model.SideBuy, 10, "30"),
	}, nil)

	h := res.Holdings["X"]
	assertDec(t, "30", h.CurrentPrice, "currentPrice")
	assertDec(t, "600", h.CurrentValue, "currentValue")
	assertDec(t, "25", h.AvgPrice, "avgPrice")
	assertDec(t, "100", h.PnL, "pnl")
}

// The partial close scenario under the default policy: the reducing SELL
// is folded through the weighted average as well.
func TestAggregate_PartialClose_Reprice(t *testing.T) {
	orders := []model.Order{
		fill("AAPL", model.SideBuy, 100, "150"),
		fill("AAPL", model.SideSell, 40, "170"),
	}
	res := Aggregate(orders, prices("AAPL", "180"))

	h := res.Holdings["AAPL"]
	assert.Equal(t, int64(60), h.Quantity)
	assert.Equal(t, "136.67", h.AvgPrice.StringFixed(2))
	assertDec(t, "10800", h.CurrentValue, "currentValue")
	assert.Equal(t, "2600.00", h.PnL.StringFixed(2))

	assertDec(t, "10800", res.Summary.TotalValue, "totalValue")
	assert.Equal(t, "2600.00", res.Summary.TotalPnL.StringFixed(2))
	assert.Equal(t, "31.7", res.Summary.TotalPnLPercent.StringFixed(1))
}

// Under cost-basis accounting the reducing SELL leaves the average alone,
// which yields the dashboard's documented figures exactly.
func TestAggregate_PartialClose_CostBasis(t *testing.T) {
	orders := []model.Order{
		fill("AAPL", model.SideBuy, 100, "150"),
		fill("AAPL", model.SideSell, 40, "170"),
	}
	res := Aggregate(orders, prices("AAPL", "180"), WithPolicy(PolicyCostBasis))

	h := res.Holdings["AAPL"]
	assert.Equal(t, "AAPL", h.Symbol)
	assert.Equal(t, int64(60), h.Quantity)
	assertDec(t, "150", h.AvgPrice, "avgPrice")
	assertDec(t, "10800", h.CurrentValue, "currentValue")
	assertDec(t, "1800", h.PnL, "pnl")

	assertDec(t, "10800", res.Summary.TotalValue, "totalValue")
	assertDec(t, "1800", res.Summary.TotalPnL, "totalPnL")
	assertDec(t, "20", res.Summary.TotalPnLPercent, "totalPnLPercent")
	assertDec(t, "9000", res.Summary.CostBasis, "costBasis")
}

func TestAggregate_ZeroNetExcluded(t *testing.T) {
	for _, policy := range []Policy{PolicyReprice, PolicyCostBasis} {
		t.Run(policy.String(), func(t *testing.T) {
			res := Aggregate([]model.Order{
				fill("TSLA", model.SideBuy, 30, "200"),
				fill("TSLA", model.SideSell, 10, "210"),
				fill("TSLA", model.SideSell, 20, "190"),
				fill("MSFT", model.SideBuy, 5, "300"),
			}, prices("TSLA", "250"), WithPolicy(policy))

			_, ok := res.Holdings["TSLA"]
			assert.False(t, ok, "flat position must not be reported")
			assert.Len(t, res.Holdings, 1)
			assert.Equal(t, 1, res.Summary.Holdings)
		})
	}
}

func TestAggregate_FlipLongToShort(t *testing.T) {
	orders := []model.Order{
		fill("AAPL", model.SideBuy, 100, "150"),
		fill("AAPL", model.SideSell, 150, "170"),
	}

	res := Aggregate(orders, prices("AAPL", "160"))
	h := res.Holdings["AAPL"]
	assert.Equal(t, int64(-50), h.Quantity)
	// (150*100 + 170*-150) / -50
	assertDec(t, "210", h.AvgPrice, "avgPrice")
	assertDec(t, "-8000", h.CurrentValue, "currentValue")
	assertDec(t, "2500", h.PnL, "pnl")

	res = Aggregate(orders, prices("AAPL", "160"), WithPolicy(PolicyCostBasis))
	h = res.Holdings["AAPL"]
	assert.Equal(t, int64(-50), h.Quantity)
	assertDec(t, "170", h.AvgPrice, "avgPrice")
	assertDec(t, "500", h.PnL, "pnl")
}

func TestAggregate_ShortPosition(t *testing.T) {
	res := Aggregate([]model.Order{fill("GOOGL", model.SideSell, 10, "50")}, prices("GOOGL", "40"))

	h := res.Holdings["GOOGL"]
	assert.Equal(t, int64(-10), h.Quantity)
	assertDec(t, "50", h.AvgPrice, "avgPrice")
	assertDec(t, "-400", h.CurrentValue, "currentValue")
	assertDec(t, "100", h.PnL, "pnl")

	// totals stay signed; percent is only computed for a positive total value
	assertDec(t, "-400", res.Summary.TotalValue, "totalValue")
	assertDec(t, "0", res.Summary.TotalPnLPercent, "totalPnLPercent")
}

func TestAggregate_ReopenAfterFlat(t *testing.T) {
	res := Aggregate([]model.Order{
		fill("AMZN", model.SideBuy, 10, "10"),
		fill("AMZN", model.SideSell, 10, "12"),
		fill("AMZN", model.SideBuy, 5, "20"),
	}, nil)

	h := res.Holdings["AMZN"]
	assert.Equal(t, int64(5), h.Quantity)
	assertDec(t, "20", h.AvgPrice, "avgPrice")
}

func TestAggregate_Diagnostics(t *testing.T) {
	bad := []model.Order{
		fill("", model.SideBuy, 1, "10"),
		fill("AAPL", "HOLD", 1, "10"),
		fill("AAPL", model.SideBuy, 0, "10"),
		fill("AAPL", model.SideBuy, 1, "-1"),
		fill("AAPL", model.SideBuy, 1, "0"),
		fill("AAPL", model.SideBuy, 10, "100"),
	}
	weird := fill("AAPL", model.SideBuy, 1, "10")
	weird.Status = "DONE"
	weird.ID = "ord-7"
	bad = append(bad, weird)

	res := Aggregate(bad, nil)

	require.Len(t, res.Diagnostics, 6)
	want := []struct {
		index  int
		reason DiagnosticReason
	}{
		{0, ReasonEmptySymbol},
		{1, ReasonUnknownSide},
		{2, ReasonBadQuantity},
		{3, ReasonBadPrice},
		{4, ReasonBadPrice},
		{6, ReasonUnknownStatus},
	}
	for i, w := range want {
		assert.Equal(t, w.index, res.Diagnostics[i].Index, "diagnostic %d index", i)
		assert.Equal(t, w.reason, res.Diagnostics[i].Reason, "diagnostic %d reason", i)
	}
	assert.Equal(t, "ord-7", res.Diagnostics[5].OrderID)

	h := res.Holdings["AAPL"]
	assert.Equal(t, int64(10), h.Quantity)
	assertDec(t, "100", h.AvgPrice, "avgPrice")
}

func TestAggregate_BadMarketPriceFallsBack(t *testing.T) {
	res := Aggregate([]model.Order{fill("X", model.SideBuy, 2, "20")}, prices("X", "0"))

	assertDec(t, "40", res.Holdings["X"].CurrentValue, "currentValue")
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, -1, res.Diagnostics[0].Index)
	assert.Equal(t, ReasonBadMarketPrice, res.Diagnostics[0].Reason)
}

func TestAggregate_Empty(t *testing.T) {
	for _, orders := range [][]model.Order{nil, {}} {
		res := Aggregate(orders, nil)
		assert.NotNil(t, res.Holdings)
		assert.Empty(t, res.Holdings)
		assert.Empty(t, res.Diagnostics)
		assertDec(t, "0", res.Summary.TotalValue, "totalValue")
		assertDec(t, "0", res.Summary.TotalPnL, "totalPnL")
		assertDec(t, "0", res.Summary.TotalPnLPercent, "totalPnLPercent")
	}
}

func TestAggregate_MultiSymbolTotals(t *testing.T) {
	res := Aggregate([]model.Order{
		fill("AAPL", model.SideBuy, 10, "100"),
		fill("MSFT", model.SideBuy, 5, "200"),
	}, prices("AAPL", "110", "MSFT", "190"))

	assertDec(t, "2050", res.Summary.TotalValue, "totalValue")
	assertDec(t, "50", res.Summary.TotalPnL, "totalPnL")
	assertDec(t, "2.5", res.Summary.TotalPnLPercent, "totalPnLPercent")

	sorted := res.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, "AAPL", sorted[0].Symbol)
	assert.Equal(t, "MSFT", sorted[1].Symbol)
}

func TestAggregate_Idempotent(t *testing.T) {
	orders := []model.Order{
		fill("AAPL", model.SideBuy, 100, "150"),
		fill("AAPL", model.SideSell, 40, "170"),
		fill("MSFT", model.SideBuy, 7, "301.25"),
		fill("", model.SideBuy, 1, "1"),
	}
	px := prices("AAPL", "180")

	first := Aggregate(orders, px)
	second := Aggregate(orders, px)
	assert.Equal(t, first, second)
}

func TestAggregate_ConcurrentCalls(t *testing.T) {
	orders := []model.Order{
		fill("AAPL", model.SideBuy, 100, "150"),
		fill("AAPL", model.SideBuy, 100, "160"),
	}
	px := prices("AAPL", "170")
	want := Aggregate(orders, px)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Aggregate(orders, px)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, want, r)
	}
}

func TestSymbols(t *testing.T) {
	pending := fill("ZZZ", model.SideBuy, 1, "1")
	pending.Status = model.StatusPending
	got := Symbols([]model.Order{
		fill("MSFT", model.SideBuy, 1, "1"),
		fill("AAPL", model.SideBuy, 1, "1"),
		fill("MSFT", model.SideSell, 1, "1"),
		pending,
	})
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReprice, p)

	p, err = ParsePolicy("CostBasis")
	require.NoError(t, err)
	assert.Equal(t, PolicyCostBasis, p)

	_, err = ParsePolicy("fifo")
	assert.Error(t, err)
}
