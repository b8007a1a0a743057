package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scribe-dev/scribe/internal/db/dialect"
)

// InsertAgentEvent appends one audit record. Events are never updated.
func (s *SQLStore) InsertAgentEvent(ctx context.Context, e *AgentEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	contextJSON, err := json.Marshal(e.Context)
	if err != nil || e.Context == nil {
		contextJSON = []byte("{}")
	}
	id, err := dialect.InsertReturningID(ctx, s.writer(), `
		INSERT INTO agent_events (event_type, agent_id, from_project, to_project, version_info, success, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventType, e.AgentID, e.FromProject, e.ToProject, e.VersionInfo,
		dialect.BoolToInt(e.Success), string(contextJSON), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent event: %w", err)
	}
	e.ID = id
	return nil
}

// ListAgentEvents returns audit events, newest first.
func (s *SQLStore) ListAgentEvents(ctx context.Context, f AgentEventFilter) ([]*AgentEvent, error) {
	var (
		conds []string
		args  []any
	)
	if f.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, f.AgentID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, f.EventType)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, event_type, agent_id, from_project, to_project, version_info, success, context, created_at
		FROM agent_events %s ORDER BY created_at DESC, id DESC LIMIT %d`, where, limit)

	rows, err := s.reader().QueryContext(ctx, s.reader().Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*AgentEvent
	for rows.Next() {
		e := &AgentEvent{}
		var fromProject, toProject sql.NullString
		var success int
		var contextJSON string
		if err := rows.Scan(&e.ID, &e.EventType, &e.AgentID, &fromProject, &toProject,
			&e.VersionInfo, &success, &contextJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if fromProject.Valid {
			e.FromProject = &fromProject.String
		}
		if toProject.Valid {
			e.ToProject = &toProject.String
		}
		e.Success = success != 0
		_ = json.Unmarshal([]byte(contextJSON), &e.Context)
		events = append(events, e)
	}
	return events, rows.Err()
}
