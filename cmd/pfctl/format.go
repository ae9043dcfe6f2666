package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// formatter renders amounts in one currency.
type formatter struct {
	cur *money.Currency
}

func newFormatter(code string) (formatter, error) {
	cur := money.GetCurrency(code)
	if cur == nil {
		return formatter{}, fmt.Errorf("unknown currency %q", code)
	}
	return formatter{cur: cur}, nil
}

// money rounds d to the currency's minor unit and formats it, e.g. "$1,800.00".
func (f formatter) money(d decimal.Decimal) string {
	minor := d.Shift(int32(f.cur.Fraction)).Round(0).IntPart()
	return f.cur.Formatter().Format(minor)
}

// signed is money with an explicit sign for non-zero amounts.
func (f formatter) signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + f.money(d)
	}
	return f.money(d)
}

func percent(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

// readPrices loads a JSON object of symbol to price. An empty path is no prices.
func readPrices(path string) (map[string]decimal.Decimal, error) {
	if path == "" {
		return nil, nil
	}
	var prices map[string]decimal.Decimal
	if err := readJSON(path, &prices); err != nil {
		return nil, fmt.Errorf("prices: %w", err)
	}
	return prices, nil
}

func readJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
