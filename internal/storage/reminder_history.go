package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scribe-dev/scribe/internal/db/dialect"
)

// InsertReminderHistory records one reminder shown to a session. Rows are
// cascade-deleted with their parent session.
func (s *SQLStore) InsertReminderHistory(ctx context.Context, r *ReminderHistoryEntry) error {
	if r.ShownAt.IsZero() {
		r.ShownAt = time.Now().UTC()
	}
	if r.OperationStatus == "" {
		r.OperationStatus = StatusNeutral
	}
	meta, err := json.Marshal(orEmpty(r.ContextMetadata))
	if err != nil {
		meta = []byte("{}")
	}
	id, err := dialect.InsertReturningID(ctx, s.writer(), `
		INSERT INTO reminder_history (session_id, reminder_hash, project_root, agent_id, tool_name, reminder_key, shown_at, operation_status, context_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.ReminderHash, r.ProjectRoot, r.AgentID, r.ToolName,
		r.ReminderKey, r.ShownAt, r.OperationStatus, string(meta))
	if err != nil {
		return fmt.Errorf("insert reminder history: %w", err)
	}
	r.ID = id
	return nil
}

// LastShown returns the most recent history row for a reminder hash within a
// session, or nil when it has never been shown.
func (s *SQLStore) LastShown(ctx context.Context, sessionID, reminderHash string) (*ReminderHistoryEntry, error) {
	r := &ReminderHistoryEntry{}
	var meta string
	err := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT id, session_id, reminder_hash, project_root, agent_id, tool_name, reminder_key, shown_at, operation_status, context_metadata
		FROM reminder_history
		WHERE session_id = ? AND reminder_hash = ?
		ORDER BY shown_at DESC, id DESC LIMIT 1`), sessionID, reminderHash).
		Scan(&r.ID, &r.SessionID, &r.ReminderHash, &r.ProjectRoot, &r.AgentID,
			&r.ToolName, &r.ReminderKey, &r.ShownAt, &r.OperationStatus, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(meta), &r.ContextMetadata)
	return r, nil
}

// CountShownInSession counts how often a reminder key has been shown within
// one session; used for the teaching-category cap.
func (s *SQLStore) CountShownInSession(ctx context.Context, sessionID, reminderKey string) (int64, error) {
	var count int64
	err := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT COUNT(*) FROM reminder_history WHERE session_id = ? AND reminder_key = ?`),
		sessionID, reminderKey).Scan(&count)
	return count, err
}
