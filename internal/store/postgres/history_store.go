package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimansour/coinwatch/internal/domain"
)

// HistoryStore implements domain.HistoryStore using PostgreSQL.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a HistoryStore backed by the given pool.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Append inserts one total-value observation.
func (s *HistoryStore) Append(ctx context.Context, p domain.HistoryPoint) error {
	const query = `
		INSERT INTO portfolio_history (tenant_id, kind, total_value, captured_at)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query, p.TenantID, string(p.Kind), p.TotalValue, p.CapturedAt)
	if err != nil {
		return fmt.Errorf("postgres: append history point: %w", err)
	}
	return nil
}

// Prune deletes all but the newest keep entries for (tenant, kind).
func (s *HistoryStore) Prune(ctx context.Context, tenantID string, kind domain.HistoryKind, keep int) error {
	const query = `
		DELETE FROM portfolio_history
		WHERE tenant_id = $1 AND kind = $2 AND id NOT IN (
			SELECT id FROM portfolio_history
			WHERE tenant_id = $1 AND kind = $2
			ORDER BY captured_at DESC
			LIMIT $3
		)`

	_, err := s.pool.Exec(ctx, query, tenantID, string(kind), keep)
	if err != nil {
		return fmt.Errorf("postgres: prune history for %s/%s: %w", tenantID, kind, err)
	}
	return nil
}

// List returns points newest-first, up to limit (0 = no limit).
func (s *HistoryStore) List(ctx context.Context, tenantID string, kind domain.HistoryKind, limit int) ([]domain.HistoryPoint, error) {
	query := `
		SELECT tenant_id, kind, total_value, captured_at
		FROM portfolio_history
		WHERE tenant_id = $1 AND kind = $2
		ORDER BY captured_at DESC`
	args := []any{tenantID, string(kind)}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list history for %s/%s: %w", tenantID, kind, err)
	}
	defer rows.Close()

	var points []domain.HistoryPoint
	for rows.Next() {
		var p domain.HistoryPoint
		var kindStr string
		if err := rows.Scan(&p.TenantID, &kindStr, &p.TotalValue, &p.CapturedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan history point: %w", err)
		}
		p.Kind = domain.HistoryKind(kindStr)
		points = append(points, p)
	}
	return points, rows.Err()
}
