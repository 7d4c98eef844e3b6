// Package service holds the tenant-facing application services built on the
// vault, the market-data hub, and the venue client: portfolio snapshots and
// history, price/movement alerts, closed-trade statistics, and candle
// pattern scans.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alimansour/coinwatch/internal/domain"
)

// History caps: roughly five weeks of daily points and three days of hourly.
const (
	dailyHistoryKeep  = 35
	hourlyHistoryKeep = 72
)

// CredentialSource resolves a tenant's decrypted credential.
type CredentialSource interface {
	Load(ctx context.Context, tenantID string) (domain.Credential, error)
}

// PriceSource answers current quotes for every traded instrument.
type PriceSource interface {
	GetPrices(ctx context.Context) (map[string]domain.PriceQuote, error)
}

// VenueAccount is the authenticated venue surface the services need.
type VenueAccount interface {
	FetchBalances(ctx context.Context, cred domain.Credential) (map[string]float64, error)
	FetchPortfolio(ctx context.Context, cred domain.Credential, prices map[string]domain.PriceQuote) (domain.Portfolio, error)
}

// PortfolioService produces valued portfolio snapshots and maintains the
// capped total-value history per tenant.
type PortfolioService struct {
	creds   CredentialSource
	prices  PriceSource
	venue   VenueAccount
	history domain.HistoryStore
	logger  *slog.Logger
}

// NewPortfolioService creates a PortfolioService.
func NewPortfolioService(
	creds CredentialSource,
	prices PriceSource,
	venue VenueAccount,
	history domain.HistoryStore,
	logger *slog.Logger,
) *PortfolioService {
	return &PortfolioService{
		creds:   creds,
		prices:  prices,
		venue:   venue,
		history: history,
		logger:  logger.With(slog.String("component", "portfolio_service")),
	}
}

// Snapshot joins the tenant's balances with current quotes into a valued,
// dust-filtered portfolio.
func (s *PortfolioService) Snapshot(ctx context.Context, tenantID string) (domain.Portfolio, error) {
	cred, err := s.creds.Load(ctx, tenantID)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: credential for %q: %w", tenantID, err)
	}

	prices, err := s.prices.GetPrices(ctx)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: prices: %w", err)
	}

	pf, err := s.venue.FetchPortfolio(ctx, cred, prices)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("portfolio_service: portfolio for %q: %w", tenantID, err)
	}
	return pf, nil
}

// Balances fetches the tenant's raw per-asset balances.
func (s *PortfolioService) Balances(ctx context.Context, tenantID string) (domain.BalanceSnapshot, error) {
	cred, err := s.creds.Load(ctx, tenantID)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("portfolio_service: credential for %q: %w", tenantID, err)
	}

	amounts, err := s.venue.FetchBalances(ctx, cred)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("portfolio_service: balances for %q: %w", tenantID, err)
	}
	if amounts == nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("portfolio_service: balances for %q: empty venue response", tenantID)
	}

	return domain.BalanceSnapshot{
		TenantID:   tenantID,
		Amounts:    amounts,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// RecordHistory appends one total-value observation at the given cadence and
// prunes the series back to its cap.
func (s *PortfolioService) RecordHistory(ctx context.Context, tenantID string, kind domain.HistoryKind) error {
	pf, err := s.Snapshot(ctx, tenantID)
	if err != nil {
		return err
	}

	point := domain.HistoryPoint{
		TenantID:   tenantID,
		Kind:       kind,
		TotalValue: pf.TotalValue,
		CapturedAt: pf.CapturedAt,
	}
	if err := s.history.Append(ctx, point); err != nil {
		return fmt.Errorf("portfolio_service: append history: %w", err)
	}

	keep := hourlyHistoryKeep
	if kind == domain.HistoryDaily {
		keep = dailyHistoryKeep
	}
	if err := s.history.Prune(ctx, tenantID, kind, keep); err != nil {
		// The next record attempt prunes again; an oversized series is
		// tolerable in the meantime.
		s.logger.WarnContext(ctx, "history prune failed",
			slog.String("tenant", tenantID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "portfolio history recorded",
		slog.String("tenant", tenantID),
		slog.String("kind", string(kind)),
		slog.Float64("total_value", pf.TotalValue),
	)
	return nil
}

// History lists recorded total-value points, newest first.
func (s *PortfolioService) History(ctx context.Context, tenantID string, kind domain.HistoryKind, limit int) ([]domain.HistoryPoint, error) {
	points, err := s.history.List(ctx, tenantID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("portfolio_service: list history: %w", err)
	}
	return points, nil
}
