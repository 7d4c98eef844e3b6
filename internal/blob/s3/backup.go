package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alimansour/coinwatch/internal/domain"
)

// backupTradeLimit bounds how much closed-trade history one backup carries.
const backupTradeLimit = 500

// tenantBackup is the JSON document uploaded per tenant per run.
type tenantBackup struct {
	TenantID  string                     `json:"tenant_id"`
	Positions map[string]domain.Position `json:"positions"`
	Baseline  *domain.ReconBaseline      `json:"baseline,omitempty"`
	Trades    []domain.ClosedTrade       `json:"trades"`
	CreatedAt time.Time                  `json:"created_at"`
}

// BackupArchiver snapshots a tenant's ledger state to object storage and
// keeps only the newest N backups per tenant.
type BackupArchiver struct {
	client    *s3.Client
	bucket    string
	writer    *Writer
	positions domain.PositionStore
	baselines domain.BaselineStore
	trades    domain.TradeStore
	keep      int
	logger    *slog.Logger
}

// NewBackupArchiver creates a BackupArchiver retaining keep backups per
// tenant.
func NewBackupArchiver(
	c *Client,
	positions domain.PositionStore,
	baselines domain.BaselineStore,
	trades domain.TradeStore,
	keep int,
	logger *slog.Logger,
) *BackupArchiver {
	if keep <= 0 {
		keep = 10
	}
	return &BackupArchiver{
		client:    c.S3(),
		bucket:    c.Bucket(),
		writer:    NewWriter(c),
		positions: positions,
		baselines: baselines,
		trades:    trades,
		keep:      keep,
		logger:    logger.With(slog.String("component", "backup")),
	}
}

// Backup uploads one snapshot for the tenant and prunes old ones.
func (a *BackupArchiver) Backup(ctx context.Context, tenantID string) error {
	doc, err := a.collect(ctx, tenantID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal backup for %s: %w", tenantID, err)
	}

	key := backupKey(tenantID, doc.CreatedAt)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "backup uploaded",
		slog.String("tenant", tenantID),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)

	return a.prune(ctx, tenantID)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (a *BackupArchiver) collect(ctx context.Context, tenantID string) (tenantBackup, error) {
	positions, err := a.positions.GetAll(ctx, tenantID)
	if err != nil {
		return tenantBackup{}, fmt.Errorf("s3blob: backup positions for %s: %w", tenantID, err)
	}

	doc := tenantBackup{
		TenantID:  tenantID,
		Positions: positions,
		CreatedAt: time.Now().UTC(),
	}

	baseline, err := a.baselines.Get(ctx, tenantID)
	switch {
	case err == nil:
		doc.Baseline = &baseline
	case errors.Is(err, domain.ErrNotFound):
		// A tenant that has never reconciled has no baseline to save.
	default:
		return tenantBackup{}, fmt.Errorf("s3blob: backup baseline for %s: %w", tenantID, err)
	}

	trades, err := a.trades.ListByTenant(ctx, tenantID, backupTradeLimit)
	if err != nil {
		return tenantBackup{}, fmt.Errorf("s3blob: backup trades for %s: %w", tenantID, err)
	}
	doc.Trades = trades

	return doc, nil
}

// prune deletes everything but the newest keep backups under the tenant's
// prefix. Keys embed an RFC3339-like timestamp, so lexicographic order is
// chronological.
func (a *BackupArchiver) prune(ctx context.Context, tenantID string) error {
	prefix := "backups/" + tenantID + "/"

	var keys []string
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("s3blob: list backups for %s: %w", tenantID, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.NextContinuationToken == nil {
			break
		}
		token = out.NextContinuationToken
	}

	if len(keys) <= a.keep {
		return nil
	}

	sort.Strings(keys)
	for _, key := range keys[:len(keys)-a.keep] {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("s3blob: delete old backup %s: %w", key, err)
		}
		a.logger.DebugContext(ctx, "old backup removed", slog.String("key", key))
	}
	return nil
}

func backupKey(tenantID string, at time.Time) string {
	return fmt.Sprintf("backups/%s/%s.json", tenantID, at.Format("2006-01-02T15-04-05Z"))
}
