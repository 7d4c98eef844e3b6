package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimansour/coinwatch/internal/domain"
)

// BaselineStore implements domain.BaselineStore using PostgreSQL. The balance
// map is stored as JSONB; pgx handles the map conversion both ways.
type BaselineStore struct {
	pool *pgxpool.Pool
}

// NewBaselineStore creates a BaselineStore backed by the given pool.
func NewBaselineStore(pool *pgxpool.Pool) *BaselineStore {
	return &BaselineStore{pool: pool}
}

// Get returns ErrNotFound when no baseline has been seeded yet.
func (s *BaselineStore) Get(ctx context.Context, tenantID string) (domain.ReconBaseline, error) {
	const query = `
		SELECT tenant_id, balances, total_value, captured_at
		FROM recon_baselines WHERE tenant_id = $1`

	var b domain.ReconBaseline
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&b.TenantID, &b.Amounts, &b.TotalValue, &b.CapturedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReconBaseline{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ReconBaseline{}, fmt.Errorf("postgres: get baseline %s: %w", tenantID, err)
	}
	return b, nil
}

// Save replaces the tenant's baseline.
func (s *BaselineStore) Save(ctx context.Context, b domain.ReconBaseline) error {
	const query = `
		INSERT INTO recon_baselines (tenant_id, balances, total_value, captured_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE SET
			balances    = EXCLUDED.balances,
			total_value = EXCLUDED.total_value,
			captured_at = EXCLUDED.captured_at`

	_, err := s.pool.Exec(ctx, query, b.TenantID, b.Amounts, b.TotalValue, b.CapturedAt)
	if err != nil {
		return fmt.Errorf("postgres: save baseline %s: %w", b.TenantID, err)
	}
	return nil
}

// Delete removes the tenant's baseline. Absence is not an error.
func (s *BaselineStore) Delete(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM recon_baselines WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("postgres: delete baseline %s: %w", tenantID, err)
	}
	return nil
}
