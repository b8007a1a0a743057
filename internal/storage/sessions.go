package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// GetSessionByTransportID looks up the active session bound to a transport
// session identifier. Returns nil when no binding exists yet.
func (s *SQLStore) GetSessionByTransportID(ctx context.Context, transportSessionID string) (*AgentSession, error) {
	row := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT session_id, transport_session_id, agent_id, repo_root, mode, started_at, last_active_at, status, metadata
		FROM scribe_sessions
		WHERE transport_session_id = ? AND status = 'active'
		ORDER BY started_at DESC LIMIT 1`), transportSessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

// CreateSession persists a new session row.
func (s *SQLStore) CreateSession(ctx context.Context, sess *AgentSession) error {
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = now
	}
	if sess.Status == "" {
		sess.Status = SessionActive
	}
	meta, err := json.Marshal(orEmpty(sess.Metadata))
	if err != nil {
		meta = []byte("{}")
	}
	_, err = s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO scribe_sessions (session_id, transport_session_id, agent_id, repo_root, mode, started_at, last_active_at, status, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sess.SessionID, sess.TransportSessionID, sess.AgentID, sess.RepoRoot, sess.Mode,
		sess.StartedAt, sess.LastActiveAt, sess.Status, string(meta))
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// HeartbeatSession refreshes the lease on an active session.
func (s *SQLStore) HeartbeatSession(ctx context.Context, sessionID string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE scribe_sessions SET last_active_at = ? WHERE session_id = ? AND status = 'active'`),
		time.Now().UTC(), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scriberr.SessionExpired(sessionID)
	}
	return nil
}

// EndSession marks a session as ended.
func (s *SQLStore) EndSession(ctx context.Context, sessionID string) error {
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE scribe_sessions SET status = 'ended', last_active_at = ? WHERE session_id = ?`),
		time.Now().UTC(), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scriberr.NotFound("session", sessionID)
	}
	return nil
}

// GetSession retrieves a session by its stable ID.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*AgentSession, error) {
	row := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT session_id, transport_session_id, agent_id, repo_root, mode, started_at, last_active_at, status, metadata
		FROM scribe_sessions WHERE session_id = ?`), sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scriberr.NotFound("session", sessionID)
	}
	return sess, err
}

// ExpireIdleSessions marks active sessions idle past the TTL as expired and
// returns how many were affected.
func (s *SQLStore) ExpireIdleSessions(ctx context.Context, idleMinutes int) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(idleMinutes) * time.Minute)
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE scribe_sessions SET status = 'expired' WHERE status = 'active' AND last_active_at < ?`),
		cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSession(row rowScanner) (*AgentSession, error) {
	sess := &AgentSession{}
	var meta string
	err := row.Scan(&sess.SessionID, &sess.TransportSessionID, &sess.AgentID, &sess.RepoRoot,
		&sess.Mode, &sess.StartedAt, &sess.LastActiveAt, &sess.Status, &meta)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(meta), &sess.Metadata)
	return sess, nil
}
