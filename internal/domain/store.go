package domain

import (
	"context"
	"io"
	"time"
)

// CredentialStore persists encrypted credential records keyed by tenant.
// Upsert must be atomic: readers never observe a partially written record.
type CredentialStore interface {
	Upsert(ctx context.Context, rec EncryptedCredential) error
	// Get returns ErrNotFound when the tenant has no record.
	Get(ctx context.Context, tenantID string) (EncryptedCredential, error)
	Delete(ctx context.Context, tenantID string) error
	// ListTenants returns every tenant with a stored credential record.
	ListTenants(ctx context.Context) ([]string, error)
}

// PositionStore persists the per-tenant position map keyed by asset.
type PositionStore interface {
	GetAll(ctx context.Context, tenantID string) (map[string]Position, error)
	Upsert(ctx context.Context, p Position) error
	Delete(ctx context.Context, tenantID, asset string) error
}

// TradeStore is the append-only closed-trade log.
type TradeStore interface {
	Append(ctx context.Context, t ClosedTrade) error
	// ListByTenant returns trades newest-first, up to limit (0 = no limit).
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]ClosedTrade, error)
}

// BaselineStore persists each tenant's reconciliation baseline.
type BaselineStore interface {
	// Get returns ErrNotFound when no baseline has been seeded yet.
	Get(ctx context.Context, tenantID string) (ReconBaseline, error)
	Save(ctx context.Context, b ReconBaseline) error
	Delete(ctx context.Context, tenantID string) error
}

// HistoryStore persists capped portfolio total-value history.
type HistoryStore interface {
	Append(ctx context.Context, p HistoryPoint) error
	// Prune deletes all but the newest keep entries for (tenant, kind).
	Prune(ctx context.Context, tenantID string, kind HistoryKind, keep int) error
	List(ctx context.Context, tenantID string, kind HistoryKind, limit int) ([]HistoryPoint, error)
}

// AlertStore persists one-shot price alerts per tenant.
type AlertStore interface {
	Create(ctx context.Context, a PriceAlert) error
	ListByTenant(ctx context.Context, tenantID string) ([]PriceAlert, error)
	Delete(ctx context.Context, id string) error
}

// MovementStore persists per-asset movement-alert threshold overrides.
type MovementStore interface {
	Upsert(ctx context.Context, o MovementOverride) error
	ListByTenant(ctx context.Context, tenantID string) ([]MovementOverride, error)
	Delete(ctx context.Context, tenantID, asset string) error
}

// SignalStore persists the last reported pattern signal per instrument, so
// restarts and other replicas do not repeat a signal that was already
// delivered.
type SignalStore interface {
	// LastSignal returns ErrNotFound when the instrument has no recorded
	// signal.
	LastSignal(ctx context.Context, instrumentID string) (string, error)
	SaveSignal(ctx context.Context, instrumentID, signal string) error
}

// QuoteCache mirrors the market-data hub's quote set for consumers outside
// the hub process (replicas, reporting).
type QuoteCache interface {
	SetQuotes(ctx context.Context, quotes []PriceQuote) error
	GetQuote(ctx context.Context, instrumentID string) (PriceQuote, error)
	GetQuotes(ctx context.Context, instrumentIDs []string) (map[string]PriceQuote, error)
}

// LockManager provides distributed mutual exclusion, used to run slow-tier
// jobs once across replicas.
type LockManager interface {
	// Acquire returns ErrLockHeld when another holder owns the lock. The
	// returned release function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads opaque objects (tenant state backups) to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
