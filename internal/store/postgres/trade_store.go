package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimansour/coinwatch/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. The closed-trade
// log is append-only; rows are never updated or deleted.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Append inserts one closed trade.
func (s *TradeStore) Append(ctx context.Context, t domain.ClosedTrade) error {
	const query = `
		INSERT INTO closed_trades (
			id, tenant_id, asset, quantity, avg_buy_price, avg_sell_price,
			pnl, pnl_percent, duration_days, highest_price, lowest_price,
			entry_capital_percent, exit_quantity_percent, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.TenantID, t.Asset, t.Quantity, t.AvgBuyPrice, t.AvgSellPrice,
		t.PnL, t.PnLPercent, t.DurationDays, t.HighestPrice, t.LowestPrice,
		t.EntryCapitalPercent, t.ExitQuantityPercent, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append closed trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByTenant returns trades newest-first, up to limit (0 = no limit).
func (s *TradeStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]domain.ClosedTrade, error) {
	query := `
		SELECT id, tenant_id, asset, quantity, avg_buy_price, avg_sell_price,
		       pnl, pnl_percent, duration_days, highest_price, lowest_price,
		       entry_capital_percent, exit_quantity_percent, closed_at
		FROM closed_trades WHERE tenant_id = $1
		ORDER BY closed_at DESC`
	args := []any{tenantID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var trades []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		if err := rows.Scan(
			&t.ID, &t.TenantID, &t.Asset, &t.Quantity, &t.AvgBuyPrice, &t.AvgSellPrice,
			&t.PnL, &t.PnLPercent, &t.DurationDays, &t.HighestPrice, &t.LowestPrice,
			&t.EntryCapitalPercent, &t.ExitQuantityPercent, &t.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan closed trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
