package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alimansour/coinwatch/internal/domain"
)

// Manager is the concurrent session registry. Sessions are retrieved only by
// tenant key; no other component holds a session reference.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	hints chan string
}

// NewManager creates an empty registry. The hint channel is buffered so a
// burst of account frames never blocks a session's read loop.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "stream-manager")),
		sessions: make(map[string]*Session),
		hints:    make(chan string, 64),
	}
}

// Hints is the fan-in of balance-dirty tenant IDs emitted by all sessions.
func (m *Manager) Hints() <-chan string {
	return m.hints
}

// StartSession (re)starts the tenant's private stream with cred, replacing
// any existing session. It satisfies the vault's SessionController.
func (m *Manager) StartSession(ctx context.Context, cred domain.Credential) {
	m.mu.Lock()
	if old, ok := m.sessions[cred.TenantID]; ok {
		old.Stop()
	}
	s := newSession(m.cfg, cred, m.hints, m.logger)
	m.sessions[cred.TenantID] = s
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "account stream starting", slog.String("tenant", cred.TenantID))
	go s.run()
}

// StopSession stops and removes the tenant's session. Safe to call when no
// session is running.
func (m *Manager) StopSession(tenantID string) {
	m.mu.Lock()
	s, ok := m.sessions[tenantID]
	if ok {
		delete(m.sessions, tenantID)
	}
	m.mu.Unlock()

	if ok {
		s.Stop()
		m.logger.Info("account stream stopped", slog.String("tenant", tenantID))
	}
}

// Active reports whether the tenant currently has a registered session. The
// scheduler's reconciliation fallback only runs for inactive tenants.
func (m *Manager) Active(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[tenantID]
	return ok
}

// StopAll stops every session, for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
