package execution

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Journal persists fills to SQLite for analysis and audit.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal creates the fills table on db (typically the order store's
// connection) and returns a Journal over it.
func NewJournal(db *sql.DB) (*Journal, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS fills (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT NOT NULL,
		account     TEXT NOT NULL,
		symbol      TEXT NOT NULL,
		side        TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		requested   TEXT NOT NULL,
		price       TEXT NOT NULL,
		slippage    TEXT NOT NULL,
		filled_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_account ON fills(account, id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// RecordFill persists a fill to the journal.
func (j *Journal) RecordFill(ctx context.Context, fill Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	o := fill.Order
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO fills (order_id, account, symbol, side, qty, requested, price, slippage, filled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID,
		o.Account,
		o.Symbol,
		string(o.Side),
		o.Quantity,
		fill.RequestedPrice.String(),
		o.Price.String(),
		fill.Slippage.String(),
		fill.FilledAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// TradeRecord represents a row from the fills table.
type TradeRecord struct {
	ID        int64  `json:"id"`
	OrderID   string `json:"order_id"`
	Account   string `json:"account"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Qty       int64  `json:"qty"`
	Requested string `json:"requested"`
	Price     string `json:"price"`
	Slippage  string `json:"slippage"`
	FilledAt  string `json:"filled_at"`
}

// GetTrades returns the account's last limit fills, newest first.
func (j *Journal) GetTrades(ctx context.Context, account string, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, order_id, account, symbol, side, qty, requested, price, slippage, filled_at
		 FROM fills WHERE account = ? ORDER BY id DESC LIMIT ?`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Account, &t.Symbol, &t.Side,
			&t.Qty, &t.Requested, &t.Price, &t.Slippage, &t.FilledAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
