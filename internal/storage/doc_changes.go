package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scribe-dev/scribe/internal/db/dialect"
)

// docChangeRetention is how many change records are kept per project.
const docChangeRetention = 500

// InsertDocChange records one successful document mutation and prunes
// records beyond the retention window for that project.
func (s *SQLStore) InsertDocChange(ctx context.Context, c *DocumentChange) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(orEmpty(c.Metadata))
	if err != nil {
		meta = []byte("{}")
	}

	id, err := dialect.InsertReturningID(ctx, s.writer(), `
		INSERT INTO doc_changes (project_id, doc_name, section, action, agent, metadata, sha_before, sha_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ProjectID, c.DocName, c.Section, c.Action, c.Agent, string(meta),
		c.SHABefore, c.SHAAfter, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert doc change: %w", err)
	}
	c.ID = id

	_, err = s.writer().ExecContext(ctx, s.writer().Rebind(`
		DELETE FROM doc_changes
		WHERE project_id = ? AND id NOT IN (
			SELECT id FROM doc_changes WHERE project_id = ? ORDER BY id DESC LIMIT ?
		)`), c.ProjectID, c.ProjectID, docChangeRetention)
	if err != nil {
		return fmt.Errorf("prune doc changes: %w", err)
	}
	return nil
}

// ListDocChanges returns the most recent change records for a project.
func (s *SQLStore) ListDocChanges(ctx context.Context, projectID int64, limit int) ([]*DocumentChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.reader().QueryContext(ctx, s.reader().Rebind(`
		SELECT id, project_id, doc_name, section, action, agent, metadata, sha_before, sha_after, created_at
		FROM doc_changes WHERE project_id = ? ORDER BY id DESC LIMIT ?`), projectID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var changes []*DocumentChange
	for rows.Next() {
		c := &DocumentChange{}
		var section sql.NullString
		var meta string
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.DocName, &section, &c.Action,
			&c.Agent, &meta, &c.SHABefore, &c.SHAAfter, &c.CreatedAt); err != nil {
			return nil, err
		}
		if section.Valid {
			c.Section = &section.String
		}
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
