package execctx

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/storage"
)

// Manager maps the transport's opaque session identifier to a stable UUID
// session_id. Lookup has three tiers: in-memory cache, durable table lookup,
// otherwise create-and-persist. The stable ID survives transport reconnects
// because the binding is durable.
type Manager struct {
	store storage.Store
	log   *logger.Logger

	mu    sync.RWMutex
	cache map[string]string // transport_session_id -> session_id
}

// NewManager creates a session identity manager.
func NewManager(store storage.Store, log *logger.Logger) *Manager {
	return &Manager{
		store: store,
		log:   log,
		cache: make(map[string]string),
	}
}

// Resolve returns the stable session ID for a transport session, creating
// and persisting a new binding on first contact.
func (m *Manager) Resolve(ctx context.Context, transportSessionID, repoRoot string, mode Mode) (string, error) {
	if transportSessionID == "" {
		// Hosts that do not surface a transport session get a per-process one.
		transportSessionID = "local"
	}

	m.mu.RLock()
	if id, ok := m.cache[transportSessionID]; ok {
		m.mu.RUnlock()
		return id, nil
	}
	m.mu.RUnlock()

	sess, err := m.store.GetSessionByTransportID(ctx, transportSessionID)
	if err != nil {
		return "", err
	}
	if sess != nil {
		m.remember(transportSessionID, sess.SessionID)
		return sess.SessionID, nil
	}

	sessionID := uuid.New().String()
	err = m.store.CreateSession(ctx, &storage.AgentSession{
		SessionID:          sessionID,
		TransportSessionID: transportSessionID,
		RepoRoot:           repoRoot,
		Mode:               string(mode),
		Status:             storage.SessionActive,
	})
	if err != nil {
		return "", err
	}
	m.remember(transportSessionID, sessionID)
	m.log.Debug("created session binding",
		zap.String("session_id", sessionID),
		zap.String("transport_session_id", transportSessionID))
	return sessionID, nil
}

// Heartbeat refreshes the session lease; resolution failures are reported by
// the storage layer.
func (m *Manager) Heartbeat(ctx context.Context, sessionID string) error {
	return m.store.HeartbeatSession(ctx, sessionID)
}

// Forget drops a transport binding from the cache; used when a session ends.
func (m *Manager) Forget(transportSessionID string) {
	m.mu.Lock()
	delete(m.cache, transportSessionID)
	m.mu.Unlock()
}

func (m *Manager) remember(transportSessionID, sessionID string) {
	m.mu.Lock()
	m.cache[transportSessionID] = sessionID
	m.mu.Unlock()
}
