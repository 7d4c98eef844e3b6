package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimansour/coinwatch/internal/domain"
)

// AlertStore implements domain.AlertStore using PostgreSQL.
type AlertStore struct {
	pool *pgxpool.Pool
}

// NewAlertStore creates an AlertStore backed by the given pool.
func NewAlertStore(pool *pgxpool.Pool) *AlertStore {
	return &AlertStore{pool: pool}
}

// Create registers a one-shot price alert.
func (s *AlertStore) Create(ctx context.Context, a domain.PriceAlert) error {
	const query = `
		INSERT INTO price_alerts (id, tenant_id, instrument_id, direction, target, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.TenantID, a.InstrumentID, string(a.Direction), a.Target, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create alert %s: %w", a.ID, err)
	}
	return nil
}

// ListByTenant returns the tenant's pending alerts.
func (s *AlertStore) ListByTenant(ctx context.Context, tenantID string) ([]domain.PriceAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, instrument_id, direction, target, created_at
		FROM price_alerts WHERE tenant_id = $1
		ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list alerts for %s: %w", tenantID, err)
	}
	defer rows.Close()

	var alerts []domain.PriceAlert
	for rows.Next() {
		var a domain.PriceAlert
		var direction string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.InstrumentID, &direction, &a.Target, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan alert: %w", err)
		}
		a.Direction = domain.AlertDirection(direction)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Delete retires a fired alert. Absence is not an error; two checks may race.
func (s *AlertStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM price_alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete alert %s: %w", id, err)
	}
	return nil
}
