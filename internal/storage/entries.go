package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scribe-dev/scribe/internal/db/dialect"
)

// InsertEntry inserts one log entry with ON CONFLICT DO NOTHING semantics on
// its deterministic ID, updates the per-project metrics counters, and stamps
// the project's last_entry_at, all in one transaction. Returns false when
// the entry already existed (idempotent replay).
func (s *SQLStore) InsertEntry(ctx context.Context, e *LogEntry) (bool, error) {
	meta, err := json.Marshal(orEmpty(e.Meta))
	if err != nil {
		meta = []byte("{}")
	}

	tx, err := s.writer().BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO scribe_entries (id, project_id, ts, emoji, agent, message, meta, raw_line, sha256, priority, category, tags, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		e.ID, e.ProjectID, e.Timestamp, e.Emoji, e.Agent, e.Message, string(meta),
		e.RawLine, e.SHA256, e.Priority, e.Category, e.Tags, e.Confidence)
	if err != nil {
		return false, fmt.Errorf("insert entry: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		// Replay of an already-recorded event; counters stay untouched.
		return false, tx.Commit()
	}

	successInc, warnInc, errorInc := counterIncrements(e.Emoji)
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO scribe_metrics (project_id, total_entries, success_count, warn_count, error_count, last_update)
		VALUES (?, 1, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			total_entries = scribe_metrics.total_entries + 1,
			success_count = scribe_metrics.success_count + excluded.success_count,
			warn_count = scribe_metrics.warn_count + excluded.warn_count,
			error_count = scribe_metrics.error_count + excluded.error_count,
			last_update = excluded.last_update`),
		e.ProjectID, successInc, warnInc, errorInc, now); err != nil {
		return false, fmt.Errorf("update metrics: %w", err)
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE scribe_projects SET last_entry_at = ?, updated_at = ? WHERE id = ?`),
		e.Timestamp, now, e.ProjectID); err != nil {
		return false, fmt.Errorf("stamp project: %w", err)
	}

	return true, tx.Commit()
}

// counterIncrements maps the entry emoji to metric counter deltas.
func counterIncrements(emoji string) (success, warn, errc int) {
	switch emoji {
	case "✅":
		return 1, 0, 0
	case "⚠️":
		return 0, 1, 0
	case "❌", "🐞":
		return 0, 0, 1
	}
	return 0, 0, 0
}

// QueryEntries returns entries matching the filter, most recent first unless
// priority sorting is requested (priority ASC, timestamp DESC).
func (s *SQLStore) QueryEntries(ctx context.Context, f EntryFilter) ([]*LogEntry, error) {
	var (
		conds []string
		args  []any
	)
	conds = append(conds, "project_id = ?")
	args = append(args, f.ProjectID)

	if f.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, f.Priority)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Agent != "" {
		conds = append(conds, "agent = ?")
		args = append(args, f.Agent)
	}
	if f.MinConfidence > 0 {
		conds = append(conds, "confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if f.Since != nil {
		conds = append(conds, "ts >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.Until != nil {
		conds = append(conds, "ts <= ?")
		args = append(args, f.Until.UTC())
	}
	if f.MessageLike != "" {
		conds = append(conds, "message "+dialect.Like(s.driver)+" ?")
		args = append(args, "%"+f.MessageLike+"%")
	}

	order := "ts DESC"
	if f.PrioritySort {
		// Priority rank ascending (critical first), then newest.
		order = `CASE priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'medium' THEN 2
			ELSE 3 END ASC, ts DESC`
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, project_id, ts, emoji, agent, message, meta, raw_line, sha256, priority, category, tags, confidence
		FROM scribe_entries
		WHERE %s
		ORDER BY %s
		LIMIT %d OFFSET %d`,
		strings.Join(conds, " AND "), order, limit, f.Offset)

	rows, err := s.reader().QueryContext(ctx, s.reader().Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*LogEntry
	for rows.Next() {
		e := &LogEntry{}
		var meta string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Timestamp, &e.Emoji, &e.Agent, &e.Message,
			&meta, &e.RawLine, &e.SHA256, &e.Priority, &e.Category, &e.Tags, &e.Confidence); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(meta), &e.Meta)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountEntries returns the total entries recorded for a project.
func (s *SQLStore) CountEntries(ctx context.Context, projectID int64) (int64, error) {
	var count int64
	err := s.reader().QueryRowContext(ctx, s.reader().Rebind(
		`SELECT COUNT(*) FROM scribe_entries WHERE project_id = ?`), projectID).Scan(&count)
	return count, err
}

// LastEntryTime returns the most recent entry for a project, or nil.
func (s *SQLStore) LastEntryTime(ctx context.Context, projectID int64) (*LogEntry, error) {
	e := &LogEntry{}
	var meta string
	err := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT id, project_id, ts, emoji, agent, message, meta, raw_line, sha256, priority, category, tags, confidence
		FROM scribe_entries WHERE project_id = ? ORDER BY ts DESC LIMIT 1`), projectID).
		Scan(&e.ID, &e.ProjectID, &e.Timestamp, &e.Emoji, &e.Agent, &e.Message,
			&meta, &e.RawLine, &e.SHA256, &e.Priority, &e.Category, &e.Tags, &e.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(meta), &e.Meta)
	return e, nil
}

// GetMetrics returns the per-project counters; zero-valued when no entries
// have been recorded yet.
func (s *SQLStore) GetMetrics(ctx context.Context, projectID int64) (*Metrics, error) {
	m := &Metrics{ProjectID: projectID}
	err := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT project_id, total_entries, success_count, warn_count, error_count, last_update
		FROM scribe_metrics WHERE project_id = ?`), projectID).
		Scan(&m.ProjectID, &m.TotalEntries, &m.SuccessCount, &m.WarnCount, &m.ErrorCount, &m.LastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return &Metrics{ProjectID: projectID}, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
