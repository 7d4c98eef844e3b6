package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alimansour/coinwatch/internal/domain"
)

// quoteTTL bounds how long a mirrored quote can outlive its stream. A dead
// mirror writer leaves stale hashes behind; expiry turns those into misses.
const quoteTTL = 30 * time.Second

// QuoteCache implements domain.QuoteCache using Redis hashes. Each instrument
// is a hash at "quote:{instrumentID}" with the full ticker fields, so readers
// outside the hub process see the same data the hub streams.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(instrumentID string) string {
	return "quote:" + instrumentID
}

// SetQuotes writes the batch through one pipeline.
func (qc *QuoteCache) SetQuotes(ctx context.Context, quotes []domain.PriceQuote) error {
	if len(quotes) == 0 {
		return nil
	}

	pipe := qc.rdb.Pipeline()
	for _, q := range quotes {
		key := quoteKey(q.InstrumentID)
		pipe.HSet(ctx, key, map[string]interface{}{
			"last":       strconv.FormatFloat(q.Last, 'f', -1, 64),
			"open_24h":   strconv.FormatFloat(q.Open24h, 'f', -1, 64),
			"change_24h": strconv.FormatFloat(q.Change24h, 'f', -1, 64),
			"volume_24h": strconv.FormatFloat(q.Volume24h, 'f', -1, 64),
			"ts":         strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
		})
		pipe.Expire(ctx, key, quoteTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quotes: %w", err)
	}
	return nil
}

// GetQuote returns domain.ErrNotFound when the instrument is not mirrored.
func (qc *QuoteCache) GetQuote(ctx context.Context, instrumentID string) (domain.PriceQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(instrumentID)).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", instrumentID, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, domain.ErrNotFound
	}

	q, err := parseQuoteHash(instrumentID, vals)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote %s: %w", instrumentID, err)
	}
	return q, nil
}

// GetQuotes fetches multiple instruments through one pipeline. Instruments
// without a mirrored quote are omitted from the result.
func (qc *QuoteCache) GetQuotes(ctx context.Context, instrumentIDs []string) (map[string]domain.PriceQuote, error) {
	if len(instrumentIDs) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(instrumentIDs))
	for _, id := range instrumentIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.PriceQuote, len(instrumentIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuoteHash(id, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}
	return result, nil
}

func parseQuoteHash(instrumentID string, vals map[string]string) (domain.PriceQuote, error) {
	last, err := strconv.ParseFloat(vals["last"], 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse last: %w", err)
	}
	open, err := strconv.ParseFloat(vals["open_24h"], 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse open_24h: %w", err)
	}
	change, err := strconv.ParseFloat(vals["change_24h"], 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse change_24h: %w", err)
	}
	volume, err := strconv.ParseFloat(vals["volume_24h"], 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse volume_24h: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("parse ts: %w", err)
	}

	return domain.PriceQuote{
		InstrumentID: instrumentID,
		Last:         last,
		Open24h:      open,
		Change24h:    change,
		Volume24h:    volume,
		ObservedAt:   time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
