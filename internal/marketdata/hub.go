// Package marketdata maintains the one shared venue-wide ticker stream and
// answers "current price of X" for every tenant, falling back to REST when
// the streamed cache goes stale.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/alimansour/coinwatch/internal/domain"
	"github.com/alimansour/coinwatch/internal/platform/okx"
)

// writeWait is the time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// RestSource is the REST fallback for quote data.
type RestSource interface {
	FetchTickers(ctx context.Context) ([]domain.PriceQuote, error)
}

// Config tunes the hub's stream and cache behavior.
type Config struct {
	WsURL string
	// PingInterval is the text-level keepalive cadence. The venue answers
	// with a text "pong"; no explicit pong tracking is needed because a
	// stale cache naturally falls back to REST.
	PingInterval time.Duration
	// ReconnectDelay is the flat delay before reconnecting. The public
	// stream is venue-critical and shared, so aggressive flat reconnection
	// is preferred over backoff growth.
	ReconnectDelay time.Duration
	// QuoteTTL is how long the streamed quote set stays fresh.
	QuoteTTL time.Duration
}

// quoteSet is the atomically-replaced cache slot. It is never mutated in
// place: stream updates copy the map, apply the push, and swap the pointer.
type quoteSet struct {
	quotes map[string]domain.PriceQuote
	at     time.Time
}

// Hub owns the shared public ticker WebSocket and the short-TTL quote cache.
type Hub struct {
	cfg    Config
	rest   RestSource
	mirror domain.QuoteCache // optional write-through for other consumers
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	slot   atomic.Pointer[quoteSet]
	sf     singleflight.Group
	done   chan struct{}
}

// New creates a Hub. mirror may be nil.
func New(cfg Config, rest RestSource, mirror domain.QuoteCache, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		rest:   rest,
		mirror: mirror,
		logger: logger.With(slog.String("component", "marketdata")),
		done:   make(chan struct{}),
	}
}

// Connect establishes the public stream and subscribes to the venue-wide
// spot ticker channel. The read and keepalive loops run until Close.
func (h *Hub) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("marketdata: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, h.cfg.WsURL, nil)
	if err != nil {
		return fmt.Errorf("marketdata: connect: %w", err)
	}
	h.conn = conn

	sub := okx.WSRequest{
		Op:   "subscribe",
		Args: []any{okx.SubscribeArg{Channel: "tickers", InstType: "SPOT"}},
	}
	if err := h.send(conn, sub); err != nil {
		conn.Close()
		return fmt.Errorf("marketdata: subscribe tickers: %w", err)
	}

	go h.readLoop(conn)
	go h.pingLoop(conn)

	return nil
}

// Close shuts down the stream. It is idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)

	if h.conn != nil {
		_ = h.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return h.conn.Close()
	}
	return nil
}

// GetPrices returns the freshest quote set available: the streamed cache
// while it is within its TTL, otherwise a REST fetch. The REST path is the
// only one that can fail; it returns an explicit error rather than panicking
// because this call sits on many hot paths.
func (h *Hub) GetPrices(ctx context.Context) (map[string]domain.PriceQuote, error) {
	if set := h.slot.Load(); set != nil && time.Since(set.at) < h.cfg.QuoteTTL {
		return set.quotes, nil
	}

	// Collapse concurrent REST fallbacks into one upstream call.
	v, err, _ := h.sf.Do("tickers", func() (any, error) {
		quotes, err := h.rest.FetchTickers(ctx)
		if err != nil {
			return nil, err
		}

		m := make(map[string]domain.PriceQuote, len(quotes))
		for _, q := range quotes {
			m[q.InstrumentID] = q
		}
		h.slot.Store(&quoteSet{quotes: m, at: time.Now()})
		h.mirrorQuotes(ctx, quotes)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: rest fallback: %w", err)
	}
	return v.(map[string]domain.PriceQuote), nil
}

// Price is a convenience lookup for a single instrument.
func (h *Hub) Price(ctx context.Context, instrumentID string) (domain.PriceQuote, error) {
	prices, err := h.GetPrices(ctx)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	q, ok := prices[instrumentID]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotFound
	}
	return q, nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (h *Hub) send(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes ticker pushes until the connection drops, then hands off
// to reconnect.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-h.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-h.done:
				return
			default:
			}
			h.logger.Warn("public stream closed", slog.String("error", err.Error()))
			h.reconnect()
			return
		}

		h.handleMessage(message)
	}
}

// pingLoop sends the venue's text-level "ping" on a fixed interval. The text
// "pong" replies are dropped in handleMessage.
func (h *Hub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (h *Hub) handleMessage(raw []byte) {
	if string(raw) == "pong" {
		return
	}

	var msg okx.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // silently drop unparseable frames
	}

	switch {
	case msg.Event == "error":
		h.logger.Warn("public stream error frame",
			slog.String("code", msg.Code),
			slog.String("msg", msg.Msg),
		)
	case msg.Arg.Channel == "tickers" && len(msg.Data) > 0:
		quotes, err := okx.ParseTickers(msg.Data, time.Now())
		if err != nil || len(quotes) == 0 {
			return
		}
		h.applyPush(quotes)
	}
}

// applyPush merges a ticker push into a copy of the current quote set and
// swaps the slot pointer.
func (h *Hub) applyPush(quotes []domain.PriceQuote) {
	old := h.slot.Load()

	var next map[string]domain.PriceQuote
	if old == nil {
		next = make(map[string]domain.PriceQuote, len(quotes))
	} else {
		next = make(map[string]domain.PriceQuote, len(old.quotes)+len(quotes))
		for k, v := range old.quotes {
			next[k] = v
		}
	}
	for _, q := range quotes {
		next[q.InstrumentID] = q
	}

	h.slot.Store(&quoteSet{quotes: next, at: time.Now()})
	h.mirrorQuotes(context.Background(), quotes)
}

// mirrorQuotes writes quotes through to the shared cache, best effort.
func (h *Hub) mirrorQuotes(ctx context.Context, quotes []domain.PriceQuote) {
	if h.mirror == nil {
		return
	}
	mctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.mirror.SetQuotes(mctx, quotes); err != nil {
		h.logger.Debug("quote mirror write failed", slog.String("error", err.Error()))
	}
}

// reconnect re-establishes the stream after a flat delay, retrying until it
// succeeds or the hub is closed.
func (h *Hub) reconnect() {
	for {
		select {
		case <-h.done:
			return
		case <-time.After(h.cfg.ReconnectDelay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := h.Connect(ctx)
		cancel()

		if err == nil {
			h.logger.Info("public stream reconnected")
			return
		}
		h.logger.Warn("public stream reconnect failed", slog.String("error", err.Error()))
	}
}
