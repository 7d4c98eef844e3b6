package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alimansour/coinwatch/internal/domain"
)

// CredentialStore implements domain.CredentialStore using PostgreSQL. Values
// are already ciphertext by the time they reach this layer.
type CredentialStore struct {
	pool *pgxpool.Pool
}

// NewCredentialStore creates a CredentialStore backed by the given pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Upsert writes the record atomically; readers never see a partial row.
func (s *CredentialStore) Upsert(ctx context.Context, rec domain.EncryptedCredential) error {
	const query = `
		INSERT INTO user_credentials (tenant_id, api_key, api_secret, passphrase, iv, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			api_key    = EXCLUDED.api_key,
			api_secret = EXCLUDED.api_secret,
			passphrase = EXCLUDED.passphrase,
			iv         = EXCLUDED.iv,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		rec.TenantID, rec.APIKey, rec.APISecret, rec.Passphrase, rec.IV,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert credential %s: %w", rec.TenantID, err)
	}
	return nil
}

// Get returns ErrNotFound when the tenant has no record.
func (s *CredentialStore) Get(ctx context.Context, tenantID string) (domain.EncryptedCredential, error) {
	const query = `
		SELECT tenant_id, api_key, api_secret, passphrase, iv, updated_at
		FROM user_credentials WHERE tenant_id = $1`

	var rec domain.EncryptedCredential
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(
		&rec.TenantID, &rec.APIKey, &rec.APISecret, &rec.Passphrase, &rec.IV, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.EncryptedCredential{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.EncryptedCredential{}, fmt.Errorf("postgres: get credential %s: %w", tenantID, err)
	}
	return rec, nil
}

// Delete removes the tenant's record; a missing row is ErrNotFound.
func (s *CredentialStore) Delete(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM user_credentials WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("postgres: delete credential %s: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListTenants returns every tenant with a stored credential record.
func (s *CredentialStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id FROM user_credentials ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
