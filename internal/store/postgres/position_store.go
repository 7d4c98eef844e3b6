package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimansour/coinwatch/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Positions
// are keyed (tenant_id, asset); a closed position is deleted, not marked.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `tenant_id, asset, total_amount_bought, total_cost,
	avg_buy_price, total_amount_sold, realized_value,
	highest_price, lowest_price, opened_at, entry_capital_percent`

// GetAll returns the tenant's open positions keyed by asset.
func (s *PositionStore) GetAll(ctx context.Context, tenantID string) (map[string]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get positions for %s: %w", tenantID, err)
	}
	defer rows.Close()

	positions := make(map[string]domain.Position)
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.TenantID, &p.Asset, &p.TotalAmountBought, &p.TotalCost,
			&p.AvgBuyPrice, &p.TotalAmountSold, &p.RealizedValue,
			&p.HighestPrice, &p.LowestPrice, &p.OpenedAt, &p.EntryCapitalPercent,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions[p.Asset] = p
	}
	return positions, rows.Err()
}

// Upsert writes the full position state for (tenant, asset).
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			tenant_id, asset, total_amount_bought, total_cost,
			avg_buy_price, total_amount_sold, realized_value,
			highest_price, lowest_price, opened_at, entry_capital_percent, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (tenant_id, asset) DO UPDATE SET
			total_amount_bought   = EXCLUDED.total_amount_bought,
			total_cost            = EXCLUDED.total_cost,
			avg_buy_price         = EXCLUDED.avg_buy_price,
			total_amount_sold     = EXCLUDED.total_amount_sold,
			realized_value        = EXCLUDED.realized_value,
			highest_price         = EXCLUDED.highest_price,
			lowest_price          = EXCLUDED.lowest_price,
			entry_capital_percent = EXCLUDED.entry_capital_percent,
			updated_at            = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.TenantID, p.Asset, p.TotalAmountBought, p.TotalCost,
		p.AvgBuyPrice, p.TotalAmountSold, p.RealizedValue,
		p.HighestPrice, p.LowestPrice, p.OpenedAt, p.EntryCapitalPercent,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.TenantID, p.Asset, err)
	}
	return nil
}

// Delete removes the (tenant, asset) position. Deleting an absent position
// is not an error; a close may race a manual cleanup.
func (s *PositionStore) Delete(ctx context.Context, tenantID, asset string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE tenant_id = $1 AND asset = $2`, tenantID, asset)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s/%s: %w", tenantID, asset, err)
	}
	return nil
}
