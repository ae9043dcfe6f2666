package portfolio

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

// Book is an in-memory order log and price board. It is the state layer
// in front of Aggregate: callers record orders and quotes here and ask
// for snapshots, which are recomputed from scratch on every call.
//
// Book satisfies model.OrderSource, model.OrderSink, model.PriceSource and
// model.QuoteSink, so it can stand in for the SQLite store or the Redis
// cache in tests and single-process deployments.
type Book struct {
	mu     sync.RWMutex
	orders map[string][]model.Order // key = account
	index  map[string]orderRef      // key = order ID
	quotes map[string]model.Quote   // key = symbol
}

type orderRef struct {
	account string
	pos     int
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{
		orders: make(map[string][]model.Order),
		index:  make(map[string]orderRef),
		quotes: make(map[string]model.Quote),
	}
}

// SaveOrder appends an order to its account's log. An order whose ID is
// already known replaces the earlier entry in place, keeping its position
// in the sequence. Orders without an ID are assigned one.
func (b *Book) SaveOrder(_ context.Context, o model.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if ref, ok := b.index[o.ID]; ok && ref.account == o.Account {
		b.orders[ref.account][ref.pos] = o
		return nil
	}
	b.orders[o.Account] = append(b.orders[o.Account], o)
	b.index[o.ID] = orderRef{account: o.Account, pos: len(b.orders[o.Account]) - 1}
	return nil
}

// ListOrders returns a copy of the account's orders in recorded order.
func (b *Book) ListOrders(_ context.Context, account string) ([]model.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	src := b.orders[account]
	cp := make([]model.Order, len(src))
	copy(cp, src)
	return cp, nil
}

// ListAccounts returns the accounts that have at least one order, sorted.
func (b *Book) ListAccounts(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.orders))
	for acct := range b.orders {
		out = append(out, acct)
	}
	sort.Strings(out)
	return out, nil
}

// SetQuote stores the latest quote for a symbol.
func (b *Book) SetQuote(_ context.Context, q model.Quote) error {
	if q.TS.IsZero() {
		q.TS = time.Now().UTC()
	}
	b.mu.Lock()
	b.quotes[q.Symbol] = q
	b.mu.Unlock()
	return nil
}

// SetPrice is SetQuote for callers that only have a price.
func (b *Book) SetPrice(symbol string, price decimal.Decimal) {
	_ = b.SetQuote(context.Background(), model.Quote{Symbol: symbol, Price: price})
}

// Prices returns the known prices for symbols. A nil or empty symbols
// slice returns every known price.
func (b *Book) Prices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(symbols))
	if len(symbols) == 0 {
		for sym, q := range b.quotes {
			out[sym] = q.Price
		}
		return out, nil
	}
	for _, sym := range symbols {
		if q, ok := b.quotes[sym]; ok {
			out[sym] = q.Price
		}
	}
	return out, nil
}

// Quotes returns a snapshot of all quotes, sorted by symbol.
func (b *Book) Quotes(_ context.Context) ([]model.Quote, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]model.Quote, 0, len(b.quotes))
	for _, q := range b.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// Snapshot aggregates the account's orders against the current quotes.
func (b *Book) Snapshot(account string, opts ...Option) Result {
	orders, _ := b.ListOrders(context.Background(), account)
	prices, _ := b.Prices(context.Background(), Symbols(orders))
	return Aggregate(orders, prices, opts...)
}
