package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-portfolio/internal/model"
	"trading-portfolio/internal/store/sqlite"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const ordersJSON = `[
  {"id":"1","account":"ACC","symbol":"AAPL","side":"BUY","quantity":100,"price":"150","status":"FILLED","timestamp":"2024-03-01T14:30:00Z"},
  {"id":"2","account":"ACC","symbol":"AAPL","side":"SELL","quantity":30,"price":"160","status":"FILLED","timestamp":"2024-03-01T15:00:00Z"},
  {"id":"3","account":"ACC","symbol":"MSFT","side":"BUY","quantity":10,"price":"300","status":"PENDING","timestamp":"2024-03-01T15:10:00Z"}
]`

func TestFormatter(t *testing.T) {
	f, err := newFormatter("USD")
	require.NoError(t, err)

	assert.Equal(t, "$10,800.00", f.money(decimal.NewFromInt(10800)))
	assert.Equal(t, "$136.67", f.money(decimal.RequireFromString("136.666666")))
	assert.Equal(t, "+$1,800.00", f.signed(decimal.NewFromInt(1800)))
	assert.Equal(t, "-$12.50", f.signed(decimal.RequireFromString("-12.5")))
	assert.Equal(t, "20.00%", percent(decimal.NewFromInt(20)))

	_, err = newFormatter("XYZ")
	assert.Error(t, err)
}

func TestAggregateCmd_CostBasis(t *testing.T) {
	var out bytes.Buffer
	cmd := &aggregateCmd{
		out:      &out,
		orders:   writeFile(t, "orders.json", ordersJSON),
		prices:   writeFile(t, "prices.json", `{"AAPL":"180"}`),
		policy:   "costbasis",
		currency: "USD",
	}
	require.NoError(t, cmd.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Account ACC")
	assert.Contains(t, text, "AAPL")
	assert.Contains(t, text, "$12,600.00") // 70 * 180
	assert.Contains(t, text, "+$2,100.00") // 70 * (180 - 150)
	assert.NotContains(t, text, "MSFT", "pending orders are not holdings")
}

func TestAggregateCmd_JSON(t *testing.T) {
	var out bytes.Buffer
	cmd := &aggregateCmd{
		out:      &out,
		orders:   writeFile(t, "orders.json", ordersJSON),
		policy:   "reprice",
		currency: "USD",
		account:  "ACC",
		asJSON:   true,
	}
	require.NoError(t, cmd.run(context.Background()))
	assert.Contains(t, out.String(), `"ACC"`)
	assert.Contains(t, out.String(), `"holdings"`)
}

func TestAggregateCmd_Errors(t *testing.T) {
	ctx := context.Background()
	orders := writeFile(t, "orders.json", ordersJSON)

	assert.Error(t, (&aggregateCmd{out: &bytes.Buffer{}, currency: "USD"}).run(ctx))
	assert.Error(t, (&aggregateCmd{out: &bytes.Buffer{}, orders: orders, policy: "fifo", currency: "USD"}).run(ctx))
	assert.Error(t, (&aggregateCmd{out: &bytes.Buffer{}, orders: orders, currency: "???"}).run(ctx))
	assert.Error(t, (&aggregateCmd{out: &bytes.Buffer{}, orders: writeFile(t, "bad.json", "{"), currency: "USD"}).run(ctx))
}

func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portfolio.db")
	store, err := sqlite.Open(path, nil)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	at := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	for i, o := range []model.Order{
		{ID: "a", Account: "ACC", Symbol: "AAPL", Side: model.SideBuy, Quantity: 100, Price: decimal.NewFromInt(150), Status: model.StatusFilled, Timestamp: at},
		{ID: "b", Account: "ACC", Symbol: "MSFT", Side: model.SideBuy, Quantity: 10, Price: decimal.NewFromInt(300), Status: model.StatusFilled, Timestamp: at.Add(time.Minute)},
	} {
		require.NoError(t, store.SaveOrder(ctx, o), "order %d", i)
	}
	for _, v := range []int64{18000, 17000, 18500} {
		require.NoError(t, store.SaveSnapshot(ctx, "ACC", model.Summary{TotalValue: decimal.NewFromInt(v)}))
	}
	return path
}

func TestOrdersCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := &ordersCmd{out: &out, db: seedStore(t), account: "ACC", currency: "USD"}
	require.NoError(t, cmd.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "AAPL")
	assert.Contains(t, text, "$300.00")
	assert.Contains(t, text, "2 orders")
}

func TestOrdersCmd_MissingDatabase(t *testing.T) {
	cmd := &ordersCmd{out: &bytes.Buffer{}, db: filepath.Join(t.TempDir(), "nope.db"), account: "ACC", currency: "USD"}
	assert.Error(t, cmd.run(context.Background()))
}

func TestRiskCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := &riskCmd{
		out:      &out,
		db:       seedStore(t),
		account:  "ACC",
		prices:   writeFile(t, "prices.json", `{"AAPL":"150","MSFT":"300"}`),
		policy:   "reprice",
		currency: "USD",
		history:  10,
	}
	require.NoError(t, cmd.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Account ACC (2 holdings, 3 snapshots)")
	assert.Contains(t, text, "$18,000.00")
	assert.Contains(t, text, "CONCENTRATION RISK") // AAPL is 83% of exposure
}
