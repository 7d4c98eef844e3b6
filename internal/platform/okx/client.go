package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alimansour/coinwatch/internal/domain"
)

const (
	// candlePageSize is the venue's maximum history-candles page size.
	candlePageSize = 100
	// candlePageDelay paces paginated candle fetches against rate limits.
	candlePageDelay = 250 * time.Millisecond
)

// Client is the REST client for the OKX v5 API. It is stateless given a
// credential set; public endpoints need no credential at all.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewClient creates a new REST client.
//
// baseURL is the API root, e.g. "https://www.okx.com".
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "okx")),
		now:    time.Now,
	}
}

// FetchTickers returns the current spot tickers for every USDT-quoted
// instrument.
func (c *Client) FetchTickers(ctx context.Context) ([]domain.PriceQuote, error) {
	body, err := c.get(ctx, "/api/v5/market/tickers?instType=SPOT", nil)
	if err != nil {
		return nil, fmt.Errorf("okx: fetch tickers: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("okx: decode tickers: %w", err)
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx: tickers returned code %s: %s", resp.Code, resp.Msg)
	}

	quotes, err := ParseTickers(resp.Data, c.now())
	if err != nil {
		return nil, fmt.Errorf("okx: decode ticker rows: %w", err)
	}
	return quotes, nil
}

// ParseTickers decodes ticker rows (REST data array or WebSocket push data)
// into quotes for USDT-quoted instruments. Rows with an unparsable last price
// are skipped.
func ParseTickers(data json.RawMessage, observed time.Time) ([]domain.PriceQuote, error) {
	var rows []tickerRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}

	quotes := make([]domain.PriceQuote, 0, len(rows))
	for _, row := range rows {
		if !strings.HasSuffix(row.InstID, "-"+domain.StableAsset) {
			continue
		}
		last, err := strconv.ParseFloat(row.Last, 64)
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(row.Open24h, 64)
		vol, _ := strconv.ParseFloat(row.VolCcy24h, 64)

		change := 0.0
		if open > 0 {
			change = (last - open) / open
		}

		quotes = append(quotes, domain.PriceQuote{
			InstrumentID: row.InstID,
			Last:         last,
			Open24h:      open,
			Change24h:    change,
			Volume24h:    vol,
			ObservedAt:   observed,
		})
	}

	return quotes, nil
}

// FetchBalances returns the tenant's per-asset equity (free + frozen). A
// malformed or partial venue payload returns (nil, nil) rather than an error,
// so callers can distinguish "no comparable data yet" from "zero balance".
// Transport failures still return an error.
func (c *Client) FetchBalances(ctx context.Context, cred domain.Credential) (map[string]float64, error) {
	body, err := c.get(ctx, "/api/v5/account/balance", &cred)
	if err != nil {
		return nil, fmt.Errorf("okx: fetch balances: %w", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.logger.WarnContext(ctx, "malformed balance payload",
			slog.String("tenant", cred.TenantID),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}
	if resp.Code != "0" {
		c.logger.WarnContext(ctx, "balance request rejected",
			slog.String("tenant", cred.TenantID),
			slog.String("code", resp.Code),
			slog.String("msg", resp.Msg),
		)
		return nil, nil
	}

	var data []balanceData
	if err := json.Unmarshal(resp.Data, &data); err != nil || len(data) == 0 || data[0].Details == nil {
		c.logger.WarnContext(ctx, "balance payload missing details",
			slog.String("tenant", cred.TenantID),
		)
		return nil, nil
	}

	balances := make(map[string]float64, len(data[0].Details))
	for _, d := range data[0].Details {
		eq, err := strconv.ParseFloat(d.Eq, 64)
		if err != nil {
			continue
		}
		balances[d.Ccy] = eq
	}

	return balances, nil
}

// FetchPortfolio joins the tenant's balances with current quotes to produce
// valued holdings, filters out holdings under the dust threshold, and sorts
// descending by value.
func (c *Client) FetchPortfolio(ctx context.Context, cred domain.Credential, prices map[string]domain.PriceQuote) (domain.Portfolio, error) {
	balances, err := c.FetchBalances(ctx, cred)
	if err != nil {
		return domain.Portfolio{}, err
	}
	if balances == nil {
		return domain.Portfolio{}, fmt.Errorf("okx: portfolio for %s: balance payload not usable", cred.TenantID)
	}
	return ValuePortfolio(cred.TenantID, balances, prices, c.now()), nil
}

// ValuePortfolio values a balance map against quotes. The stable asset is
// always worth 1; assets without a quote are skipped.
func ValuePortfolio(tenantID string, balances map[string]float64, prices map[string]domain.PriceQuote, at time.Time) domain.Portfolio {
	p := domain.Portfolio{TenantID: tenantID, CapturedAt: at}

	for asset, amount := range balances {
		price := 0.0
		if asset == domain.StableAsset {
			price = 1
		} else if q, ok := prices[asset+"-"+domain.StableAsset]; ok {
			price = q.Last
		}
		value := amount * price
		p.TotalValue += value

		if asset == domain.StableAsset {
			p.StableValue = value
		}
		if value < domain.DustThreshold {
			continue
		}
		p.Holdings = append(p.Holdings, domain.Holding{
			Asset:  asset,
			Amount: amount,
			Price:  price,
			Value:  value,
		})
	}

	sort.Slice(p.Holdings, func(i, j int) bool {
		return p.Holdings[i].Value > p.Holdings[j].Value
	})

	return p
}

// FetchCandles returns up to total OHLCV bars for an instrument, newest
// first, paging the history endpoint via a `before` cursor set to the oldest
// timestamp of the previous page. Page size is capped by the venue at 100.
func (c *Client) FetchCandles(ctx context.Context, instrumentID, bar string, total int) ([]domain.Candle, error) {
	var candles []domain.Candle
	cursor := ""

	for len(candles) < total {
		limit := total - len(candles)
		if limit > candlePageSize {
			limit = candlePageSize
		}

		params := url.Values{}
		params.Set("instId", instrumentID)
		params.Set("bar", bar)
		params.Set("limit", strconv.Itoa(limit))
		if cursor != "" {
			params.Set("before", cursor)
		}

		body, err := c.get(ctx, "/api/v5/market/history-candles?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("okx: fetch candles %s: %w", instrumentID, err)
		}

		var resp apiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("okx: decode candles %s: %w", instrumentID, err)
		}
		if resp.Code != "0" {
			return nil, fmt.Errorf("okx: candles %s returned code %s: %s", instrumentID, resp.Code, resp.Msg)
		}

		var rows [][]string
		if err := json.Unmarshal(resp.Data, &rows); err != nil {
			return nil, fmt.Errorf("okx: decode candle rows %s: %w", instrumentID, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			candle, err := parseCandle(row)
			if err != nil {
				continue
			}
			candles = append(candles, candle)
		}

		// Cursor advances to the oldest (last) timestamp of this page.
		cursor = rows[len(rows)-1][0]

		if len(rows) < limit {
			break
		}
		if len(candles) >= total {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(candlePageDelay):
		}
	}

	if len(candles) > total {
		candles = candles[:total]
	}
	return candles, nil
}

// parseCandle decodes one [ts, o, h, l, c, vol, ...] row.
func parseCandle(row []string) (domain.Candle, error) {
	if len(row) < 6 {
		return domain.Candle{}, fmt.Errorf("okx: candle row too short: %d fields", len(row))
	}
	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("okx: candle timestamp: %w", err)
	}

	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("okx: candle field %d: %w", i+1, err)
		}
		vals[i] = v
	}

	return domain.Candle{
		Timestamp: time.UnixMilli(ms).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// get performs a GET request against the API root, signing it when cred is
// non-nil. It returns the raw response body.
func (c *Client) get(ctx context.Context, path string, cred *domain.Credential) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if cred != nil {
		headers, err := SignedHeadersAt(*cred, http.MethodGet, path, "", c.now())
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("status 429: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("status 401: %w", domain.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body[:min(len(body), 256)])))
	}

	return body, nil
}
