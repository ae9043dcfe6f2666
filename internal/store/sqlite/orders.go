package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

const upsertOrder = `
	INSERT INTO orders (id, account, symbol, side, quantity, price, status, ts)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		account  = excluded.account,
		symbol   = excluded.symbol,
		side     = excluded.side,
		quantity = excluded.quantity,
		price    = excluded.price,
		status   = excluded.status,
		ts       = excluded.ts
`

const selectOrder = `SELECT id, account, symbol, side, quantity, price, status, ts FROM orders`

// SaveOrder inserts the order, or updates it in place when its ID exists.
// An empty ID is replaced by a new UUID.
func (s *Store) SaveOrder(ctx context.Context, o model.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, upsertOrder, orderArgs(o)...)
	if err != nil {
		return fmt.Errorf("sqlite save order %s: %w", o.ID, err)
	}
	return nil
}

// SaveOrders upserts a batch of orders in a single transaction.
func (s *Store) SaveOrders(ctx context.Context, orders []model.Order) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, upsertOrder)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, o := range orders {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if _, err := stmt.ExecContext(ctx, orderArgs(o)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite save order %s: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	s.logger.Debug("committed orders", "count", len(orders), "took", time.Since(start))
	return nil
}

func orderArgs(o model.Order) []any {
	return []any{o.ID, o.Account, o.Symbol, string(o.Side), o.Quantity, o.Price.String(), string(o.Status), o.Timestamp.UnixMicro()}
}

// UpdateStatus changes an order's status. Returns ErrNotFound for an
// unknown ID.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("sqlite update status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite update status %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetOrder loads one order by ID.
func (s *Store) GetOrder(ctx context.Context, id string) (model.Order, error) {
	row := s.db.QueryRowContext(ctx, selectOrder+` WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOrders returns the account's orders ordered by timestamp, then by
// insertion order for equal timestamps.
func (s *Store) ListOrders(ctx context.Context, account string) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx, selectOrder+` WHERE account = ? ORDER BY ts ASC, seq ASC`, account)
	if err != nil {
		return nil, fmt.Errorf("sqlite query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListAccounts returns the distinct accounts with orders, sorted.
func (s *Store) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT account FROM orders ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query accounts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("sqlite scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (model.Order, error) {
	var (
		o            model.Order
		side, status string
		price        string
		tsMicro      int64
	)
	if err := sc.Scan(&o.ID, &o.Account, &o.Symbol, &side, &o.Quantity, &price, &status, &tsMicro); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("sqlite scan order: %w", err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return o, fmt.Errorf("sqlite order %s price %q: %w", o.ID, price, err)
	}
	o.Side = model.Side(side)
	o.Status = model.Status(status)
	o.Price = p
	o.Timestamp = time.UnixMicro(tsMicro).UTC()
	return o, nil
}
