package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alimansour/coinwatch/internal/domain"
)

// signalTTL keeps dedupe records around long enough that a cross is never
// re-announced within its own lifetime, while letting records for delisted
// instruments age out.
const signalTTL = 90 * 24 * time.Hour

// SignalCache implements domain.SignalStore on Redis, one plain key per
// instrument at "cross:{instrumentID}".
type SignalCache struct {
	rdb *redis.Client
}

// NewSignalCache creates a SignalCache backed by the given Client.
func NewSignalCache(c *Client) *SignalCache {
	return &SignalCache{rdb: c.Underlying()}
}

func signalKey(instrumentID string) string {
	return "cross:" + instrumentID
}

// LastSignal returns domain.ErrNotFound when no signal has been recorded.
func (sc *SignalCache) LastSignal(ctx context.Context, instrumentID string) (string, error) {
	val, err := sc.rdb.Get(ctx, signalKey(instrumentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get signal %s: %w", instrumentID, err)
	}
	return val, nil
}

// SaveSignal records the signal, refreshing its expiry.
func (sc *SignalCache) SaveSignal(ctx context.Context, instrumentID, signal string) error {
	if err := sc.rdb.Set(ctx, signalKey(instrumentID), signal, signalTTL).Err(); err != nil {
		return fmt.Errorf("redis: save signal %s: %w", instrumentID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalCache)(nil)
