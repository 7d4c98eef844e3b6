package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimansour/coinwatch/internal/domain"
)

// MovementStore implements domain.MovementStore using PostgreSQL.
type MovementStore struct {
	pool *pgxpool.Pool
}

// NewMovementStore creates a MovementStore backed by the given pool.
func NewMovementStore(pool *pgxpool.Pool) *MovementStore {
	return &MovementStore{pool: pool}
}

// Upsert inserts or replaces the tenant's threshold for one asset.
func (s *MovementStore) Upsert(ctx context.Context, o domain.MovementOverride) error {
	const query = `
		INSERT INTO movement_overrides (tenant_id, asset, threshold_pct, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id, asset) DO UPDATE SET
			threshold_pct = EXCLUDED.threshold_pct,
			updated_at    = NOW()`

	_, err := s.pool.Exec(ctx, query, o.TenantID, o.Asset, o.ThresholdPct)
	if err != nil {
		return fmt.Errorf("postgres: upsert movement override %s/%s: %w", o.TenantID, o.Asset, err)
	}
	return nil
}

// ListByTenant returns the tenant's overrides.
func (s *MovementStore) ListByTenant(ctx context.Context, tenantID string) ([]domain.MovementOverride, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, asset, threshold_pct, updated_at
		FROM movement_overrides WHERE tenant_id = $1
		ORDER BY asset`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list movement overrides for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var overrides []domain.MovementOverride
	for rows.Next() {
		var o domain.MovementOverride
		if err := rows.Scan(&o.TenantID, &o.Asset, &o.ThresholdPct, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan movement override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// Delete removes the override, reverting the asset to the global threshold.
// Absence is not an error.
func (s *MovementStore) Delete(ctx context.Context, tenantID, asset string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM movement_overrides WHERE tenant_id = $1 AND asset = $2`,
		tenantID, asset)
	if err != nil {
		return fmt.Errorf("postgres: delete movement override %s/%s: %w", tenantID, asset, err)
	}
	return nil
}
