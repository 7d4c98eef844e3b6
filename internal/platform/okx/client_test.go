package okx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimansour/coinwatch/internal/domain"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC) }
	return c
}

func TestFetchTickersFiltersStablePairs(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/market/tickers", r.URL.Path)
		assert.Equal(t, "SPOT", r.URL.Query().Get("instType"))
		fmt.Fprint(w, `{"code":"0","msg":"","data":[
			{"instId":"BTC-USDT","last":"50000","open24h":"40000","volCcy24h":"123456"},
			{"instId":"ETH-BTC","last":"0.05","open24h":"0.04","volCcy24h":"99"},
			{"instId":"SOL-USDT","last":"150","open24h":"0","volCcy24h":"777"}
		]}`)
	})

	quotes, err := c.FetchTickers(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, "BTC-USDT", quotes[0].InstrumentID)
	assert.Equal(t, 50000.0, quotes[0].Last)
	assert.InDelta(t, 0.25, quotes[0].Change24h, 1e-9)

	// Zero 24h open must not divide.
	assert.Equal(t, "SOL-USDT", quotes[1].InstrumentID)
	assert.Equal(t, 0.0, quotes[1].Change24h)
}

func TestFetchBalancesSignsRequest(t *testing.T) {
	var gotKey, gotSign, gotTS, gotPhrase string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("OK-ACCESS-KEY")
		gotSign = r.Header.Get("OK-ACCESS-SIGN")
		gotTS = r.Header.Get("OK-ACCESS-TIMESTAMP")
		gotPhrase = r.Header.Get("OK-ACCESS-PASSPHRASE")
		fmt.Fprint(w, `{"code":"0","data":[{"details":[
			{"ccy":"BTC","eq":"0.5"},
			{"ccy":"USDT","eq":"1000"},
			{"ccy":"BAD","eq":"not-a-number"}
		]}]}`)
	})

	balances, err := c.FetchBalances(context.Background(), testCred)
	require.NoError(t, err)

	assert.Equal(t, "my-key", gotKey)
	assert.Equal(t, "my-phrase", gotPhrase)
	assert.Equal(t, "2024-03-15T10:30:00.000Z", gotTS)
	assert.Equal(t, expectedSig("my-secret", gotTS+"GET/api/v5/account/balance"), gotSign)

	assert.Equal(t, map[string]float64{"BTC": 0.5, "USDT": 1000}, balances)
}

func TestFetchBalancesMalformedReturnsNil(t *testing.T) {
	cases := map[string]string{
		"not json":        `<html>oops</html>`,
		"error code":      `{"code":"50111","msg":"key invalid"}`,
		"empty data":      `{"code":"0","data":[]}`,
		"missing details": `{"code":"0","data":[{}]}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, payload)
			})

			balances, err := c.FetchBalances(context.Background(), testCred)
			require.NoError(t, err)
			assert.Nil(t, balances)
		})
	}
}

func TestFetchBalancesTransportErrors(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchBalances(context.Background(), testCred)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestValuePortfolio(t *testing.T) {
	balances := map[string]float64{
		"BTC":  0.01,
		"SOL":  2,
		"DOGE": 0.5, // 0.5 * 0.1 = 0.05, under dust
		"XYZ":  100, // no quote
		"USDT": 250,
	}
	prices := map[string]domain.PriceQuote{
		"BTC-USDT":  {InstrumentID: "BTC-USDT", Last: 50000},
		"SOL-USDT":  {InstrumentID: "SOL-USDT", Last: 150},
		"DOGE-USDT": {InstrumentID: "DOGE-USDT", Last: 0.1},
	}

	p := ValuePortfolio("tenant-1", balances, prices, time.Now())

	require.Len(t, p.Holdings, 3)
	assert.Equal(t, "BTC", p.Holdings[0].Asset) // 500
	assert.Equal(t, "SOL", p.Holdings[1].Asset) // 300
	assert.Equal(t, "USDT", p.Holdings[2].Asset)

	assert.InDelta(t, 500+300+0.05+250, p.TotalValue, 1e-9)
	assert.Equal(t, 250.0, p.StableValue)
	assert.InDelta(t, 250/1050.05*100, p.CashPercent(), 1e-9)
}

func TestFetchCandlesPaginates(t *testing.T) {
	var befores []string
	page := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		befores = append(befores, r.URL.Query().Get("before"))
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))

		// Two full pages, newest first, then the caller has enough.
		base := 1710000000000 - int64(page)*100*60000
		rows := ""
		for i := 0; i < 100; i++ {
			if i > 0 {
				rows += ","
			}
			ts := base - int64(i)*60000
			rows += fmt.Sprintf(`["%d","100","110","90","105","12"]`, ts)
		}
		page++
		fmt.Fprintf(w, `{"code":"0","data":[%s]}`, rows)
	})

	candles, err := c.FetchCandles(context.Background(), "BTC-USDT", "1m", 200)
	require.NoError(t, err)
	assert.Len(t, candles, 200)

	// First request carries no cursor; the second carries the oldest
	// timestamp of page one.
	require.Len(t, befores, 2)
	assert.Equal(t, "", befores[0])
	assert.Equal(t, fmt.Sprintf("%d", 1710000000000-int64(99)*60000), befores[1])

	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, 12.0, candles[0].Volume)
}

func TestFetchCandlesStopsOnShortPage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"0","data":[["1710000000000","1","2","0.5","1.5","9"]]}`)
	})

	candles, err := c.FetchCandles(context.Background(), "BTC-USDT", "1m", 250)
	require.NoError(t, err)
	assert.Len(t, candles, 1)
}
