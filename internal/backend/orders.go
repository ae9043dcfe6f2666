package backend

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

// wireOrder is the backend's order representation.
type wireOrder struct {
	OrderID   string          `json:"orderId"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	AccountID string          `json:"accountId"`
	CreatedAt string          `json:"createdAt"`
	FilledAt  string          `json:"filledAt"`
}

// backend status names that differ from ours
var statusAliases = map[string]model.Status{
	"PARTIALLY_FILLED": model.StatusPartial,
	"REJECTED":         model.StatusCancelled,
}

// timestamps arrive without a zone and are taken as UTC
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (w wireOrder) toModel() model.Order {
	status := model.Status(strings.ToUpper(w.Status))
	if alias, ok := statusAliases[string(status)]; ok {
		status = alias
	}
	ts := parseTime(w.FilledAt)
	if ts.IsZero() {
		ts = parseTime(w.CreatedAt)
	}
	var qty int64
	// fractional quantities are left at 0 so aggregation reports them
	if w.Quantity.IsInteger() {
		qty = w.Quantity.IntPart()
	}
	return model.Order{
		ID:        w.OrderID,
		Account:   w.AccountID,
		Symbol:    w.Symbol,
		Side:      model.Side(strings.ToUpper(w.Side)),
		Quantity:  qty,
		Price:     w.Price,
		Status:    status,
		Timestamp: ts,
	}
}

// ListOrders fetches orders from the backend in the order it returns them.
// An empty account lists every order visible to the token.
func (c *Client) ListOrders(ctx context.Context, account string) ([]model.Order, error) {
	path := "/api/orders"
	if account != "" {
		path += "/account/" + url.PathEscape(account)
	}

	var wire []wireOrder
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}

	orders := make([]model.Order, len(wire))
	for i, w := range wire {
		orders[i] = w.toModel()
	}
	return orders, nil
}

// ListAccounts returns the distinct accounts among every visible order,
// sorted.
func (c *Client) ListAccounts(ctx context.Context) ([]string, error) {
	orders, err := c.ListOrders(ctx, "")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, o := range orders {
		if o.Account != "" {
			seen[o.Account] = struct{}{}
		}
	}
	accounts := make([]string, 0, len(seen))
	for a := range seen {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts, nil
}
