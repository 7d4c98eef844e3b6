// Package stream manages per-tenant private account WebSocket sessions. Each
// session authenticates with the tenant's credentials, subscribes to the
// private account channel, and emits balance-dirty hints; it owns its own
// keepalive and flat-delay reconnect loop so one tenant's failures never
// touch another's.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alimansour/coinwatch/internal/domain"
	"github.com/alimansour/coinwatch/internal/platform/okx"
)

// writeWait is the time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// Config tunes a session's keepalive and reconnect behavior.
type Config struct {
	WsURL string
	// PingInterval is the text-level keepalive cadence.
	PingInterval time.Duration
	// ReconnectDelay is the flat delay before reconnecting. Flat backoff is
	// intentional: venue rate limits apply per API key, and reconnection
	// storms are mitigated by staggering tenant startup, not by exponential
	// backoff per session.
	ReconnectDelay time.Duration
}

// Session is one tenant's private account stream. Lifecycle per connection:
// connecting → authenticating → subscribed → disconnected; a reconnect starts
// the cycle over on a fresh connection.
type Session struct {
	cfg    Config
	cred   domain.Credential
	hints  chan<- string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	done chan struct{}
}

func newSession(cfg Config, cred domain.Credential, hints chan<- string, logger *slog.Logger) *Session {
	return &Session{
		cfg:   cfg,
		cred:  cred,
		hints: hints,
		logger: logger.With(
			slog.String("component", "stream"),
			slog.String("tenant", cred.TenantID),
		),
		done: make(chan struct{}),
	}
}

// run drives the connect/authenticate/subscribe/read cycle until Stop. It is
// started exactly once, by the Manager, on its own goroutine.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, err := s.dial()
		if err != nil {
			s.logger.Warn("private stream connect failed", slog.String("error", err.Error()))
			if !s.waitReconnect() {
				return
			}
			continue
		}

		if err := s.login(conn); err != nil {
			// A structurally incomplete credential can never authenticate;
			// retrying would loop forever. The operator revokes it.
			s.logger.Error("private stream login frame failed", slog.String("error", err.Error()))
			conn.Close()
			if errors.Is(err, domain.ErrConfiguration) {
				return
			}
			if !s.waitReconnect() {
				return
			}
			continue
		}

		connDone := make(chan struct{})
		go s.pingLoop(conn, connDone)

		s.readLoop(conn)
		close(connDone)
		conn.Close()

		select {
		case <-s.done:
			return
		default:
		}

		s.logger.Warn("private stream closed, scheduling reconnect",
			slog.Duration("delay", s.cfg.ReconnectDelay),
		)
		if !s.waitReconnect() {
			return
		}
	}
}

// Stop cancels the keepalive, closes the transport with a normal-closure
// code, and ends the reconnect loop. It is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		_ = s.conn.Close()
	}
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (s *Session) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.WsURL, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil, domain.ErrWSDisconnect
	}
	s.conn = conn
	s.mu.Unlock()

	return conn, nil
}

// login sends the authentication frame. The subscribe frame follows once the
// venue acknowledges the login (see readLoop).
func (s *Session) login(conn *websocket.Conn) error {
	args, err := okx.LoginArgsFor(s.cred)
	if err != nil {
		return err
	}
	return s.send(conn, okx.WSRequest{Op: "login", Args: []any{args}})
}

func (s *Session) send(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop consumes frames until the connection drops. It returns rather
// than reconnecting itself; run owns the reconnect cycle.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleMessage(conn, message)
	}
}

func (s *Session) handleMessage(conn *websocket.Conn, raw []byte) {
	if string(raw) == "pong" {
		return
	}

	var msg okx.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch {
	case msg.Event == "login" && msg.Code == "0":
		s.logger.Info("private stream authenticated")
		sub := okx.WSRequest{
			Op:   "subscribe",
			Args: []any{okx.SubscribeArg{Channel: "account"}},
		}
		if err := s.send(conn, sub); err != nil {
			s.logger.Warn("account subscribe failed", slog.String("error", err.Error()))
		}

	case msg.Event == "error":
		// Authentication failures land here; the venue closes the
		// connection next and the normal reconnect path takes over.
		// Repeatedly failing credentials are the caller's problem to revoke.
		s.logger.Warn("private stream error frame",
			slog.String("code", msg.Code),
			slog.String("msg", msg.Msg),
		)

	case msg.Arg.Channel == "account":
		// The frame payload is unreliable for reconciliation; emit a hint
		// and let the receiver fetch an authoritative snapshot. Dropping
		// the hint when the receiver is saturated is fine — the scheduler
		// fallback covers it.
		select {
		case s.hints <- s.cred.TenantID:
		default:
		}
	}
}

// pingLoop sends the text-level keepalive until the connection or session
// ends. connDone scopes the loop to one connection so a reconnect never
// leaves two keepalives running.
func (s *Session) pingLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// waitReconnect blocks for the flat reconnect delay. It returns false when
// the session was stopped while waiting.
func (s *Session) waitReconnect() bool {
	select {
	case <-s.done:
		return false
	case <-time.After(s.cfg.ReconnectDelay):
		return true
	}
}
