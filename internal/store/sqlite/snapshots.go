package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-portfolio/internal/model"
)

// Snapshot is a persisted portfolio summary.
type Snapshot struct {
	At      time.Time     `json:"at"`
	Summary model.Summary `json:"summary"`
}

// SaveSnapshot records the account's summary at the current time.
func (s *Store) SaveSnapshot(ctx context.Context, account string, sum model.Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (account, ts, total_value, total_pnl, pnl_pct, cost_basis, holdings)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, account, s.now().UnixMicro(), sum.TotalValue.String(), sum.TotalPnL.String(),
		sum.TotalPnLPercent.String(), sum.CostBasis.String(), sum.Holdings)
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}
	return nil
}

// Snapshots returns up to limit of the account's most recent snapshots,
// oldest first.
func (s *Store) Snapshots(ctx context.Context, account string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, total_value, total_pnl, pnl_pct, cost_basis, holdings FROM (
			SELECT id, ts, total_value, total_pnl, pnl_pct, cost_basis, holdings
			FROM snapshots WHERE account = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			ts                    int64
			value, pnl, pct, cost string
			snap                  Snapshot
		)
		if err := rows.Scan(&ts, &value, &pnl, &pct, &cost, &snap.Summary.Holdings); err != nil {
			return nil, fmt.Errorf("sqlite scan snapshot: %w", err)
		}
		snap.At = time.UnixMicro(ts).UTC()
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&snap.Summary.TotalValue, value},
			{&snap.Summary.TotalPnL, pnl},
			{&snap.Summary.TotalPnLPercent, pct},
			{&snap.Summary.CostBasis, cost},
		} {
			d, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("sqlite snapshot decimal %q: %w", f.src, err)
			}
			*f.dst = d
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ValueHistory returns up to limit of the account's most recent total
// values, oldest first.
func (s *Store) ValueHistory(ctx context.Context, account string, limit int) ([]decimal.Decimal, error) {
	snaps, err := s.Snapshots(ctx, account, limit)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(snaps))
	for i, sn := range snaps {
		out[i] = sn.Summary.TotalValue
	}
	return out, nil
}

// PruneSnapshots keeps only the newest keep snapshots per account.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY account ORDER BY id DESC) AS rn
				FROM snapshots
			) WHERE rn > ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
