package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// GetAgentProject returns the agent's current-project pointer, or nil when
// the agent has never set one.
func (s *SQLStore) GetAgentProject(ctx context.Context, agentID string) (*AgentProject, error) {
	ap := &AgentProject{}
	var projectName sql.NullString
	err := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT agent_id, project_name, version, updated_at, updated_by, session_id
		FROM agent_projects WHERE agent_id = ?`), agentID).
		Scan(&ap.AgentID, &projectName, &ap.Version, &ap.UpdatedAt, &ap.UpdatedBy, &ap.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if projectName.Valid {
		ap.ProjectName = &projectName.String
	}
	return ap, nil
}

// UpsertAgentProject sets the pointer without an expected version: inserting
// at version 1 or bumping the stored version by one.
func (s *SQLStore) UpsertAgentProject(ctx context.Context, ap *AgentProject) (*AgentProject, error) {
	ap.UpdatedAt = time.Now().UTC()
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		INSERT INTO agent_projects (agent_id, project_name, version, updated_at, updated_by, session_id)
		VALUES (?, ?, 1, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			project_name = excluded.project_name,
			version = agent_projects.version + 1,
			updated_at = excluded.updated_at,
			updated_by = excluded.updated_by,
			session_id = excluded.session_id`),
		ap.AgentID, ap.ProjectName, ap.UpdatedAt, ap.UpdatedBy, ap.SessionID)
	if err != nil {
		return nil, fmt.Errorf("upsert agent project: %w", err)
	}
	return s.GetAgentProject(ctx, ap.AgentID)
}

// CompareAndSwapAgentProject updates the pointer only when the stored version
// equals expectedVersion. Zero rows affected is surfaced as a conflict; the
// UPDATE's WHERE clause is what linearizes concurrent writers.
func (s *SQLStore) CompareAndSwapAgentProject(ctx context.Context, ap *AgentProject, expectedVersion int64) (*AgentProject, error) {
	ap.UpdatedAt = time.Now().UTC()
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE agent_projects
		SET project_name = ?, version = version + 1, updated_at = ?, updated_by = ?, session_id = ?
		WHERE agent_id = ? AND version = ?`),
		ap.ProjectName, ap.UpdatedAt, ap.UpdatedBy, ap.SessionID, ap.AgentID, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("cas agent project: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		current, getErr := s.GetAgentProject(ctx, ap.AgentID)
		conflict := scriberr.Conflict("version mismatch for agent %s: expected %d", ap.AgentID, expectedVersion).
			WithField("expected_version", expectedVersion)
		if getErr == nil && current != nil {
			conflict = conflict.WithField("current_version", current.Version)
		}
		return nil, conflict
	}
	return s.GetAgentProject(ctx, ap.AgentID)
}
