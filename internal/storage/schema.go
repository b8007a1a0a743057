package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/db/dialect"
)

// migration is one forward-only schema step. Steps must be idempotent: the
// policy is additive only, so re-running any step is a no-op.
type migration struct {
	version int
	name    string
	apply   func(s *SQLStore, ctx context.Context) error
}

func (s *SQLStore) autoID() string {
	if dialect.IsPostgres(s.driver) {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (s *SQLStore) timestampType() string {
	if dialect.IsPostgres(s.driver) {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(query), args...)
	return err
}

// migrate runs the versioned, forward-only migration steps. Setup is
// idempotent: re-running initialization against an up-to-date database does
// nothing.
func (s *SQLStore) migrate(ctx context.Context) error {
	if err := s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS scribe_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at %s NOT NULL
	)`, s.timestampType())); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.writer().QueryContext(ctx, `SELECT version FROM scribe_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			_ = rows.Close()
			return err
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, m := range s.migrations() {
		if applied[m.version] {
			continue
		}
		if err := m.apply(s, ctx); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := s.exec(ctx,
			`INSERT INTO scribe_migrations (version, name, applied_at) VALUES (?, ?, `+dialect.Now(s.driver)+`)`,
			m.version, m.name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if s.log != nil {
			s.log.Debug("applied migration", zap.Int("version", m.version), zap.String("name", m.name))
		}
	}
	return nil
}

func (s *SQLStore) migrations() []migration {
	return []migration{
		{1, "core tables", (*SQLStore).migrateCoreTables},
		{2, "session tables", (*SQLStore).migrateSessionTables},
		{3, "document and reminder tables", (*SQLStore).migrateDocReminderTables},
		{4, "entry indexes", (*SQLStore).migrateIndexes},
	}
}

func (s *SQLStore) migrateCoreTables(ctx context.Context) error {
	ts := s.timestampType()
	if err := s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS scribe_projects (
		id %s,
		name TEXT NOT NULL UNIQUE,
		repo_root TEXT NOT NULL,
		progress_log_path TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'planning',
		description TEXT DEFAULT '',
		tags TEXT DEFAULT '',
		meta TEXT DEFAULT '{}',
		created_at %s NOT NULL,
		updated_at %s NOT NULL,
		last_entry_at %s,
		last_access_at %s,
		last_status_change %s
	)`, s.autoID(), ts, ts, ts, ts, ts)); err != nil {
		return err
	}

	if err := s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS scribe_entries (
		id TEXT PRIMARY KEY,
		project_id BIGINT NOT NULL REFERENCES scribe_projects(id),
		ts %s NOT NULL,
		emoji TEXT NOT NULL,
		agent TEXT NOT NULL,
		message TEXT NOT NULL,
		meta TEXT DEFAULT '{}',
		raw_line TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		priority TEXT NOT NULL DEFAULT 'medium',
		category TEXT DEFAULT '',
		tags TEXT DEFAULT '',
		confidence REAL NOT NULL DEFAULT 1.0
	)`, ts)); err != nil {
		return err
	}

	return s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS scribe_metrics (
		project_id BIGINT PRIMARY KEY REFERENCES scribe_projects(id),
		total_entries BIGINT NOT NULL DEFAULT 0,
		success_count BIGINT NOT NULL DEFAULT 0,
		warn_count BIGINT NOT NULL DEFAULT 0,
		error_count BIGINT NOT NULL DEFAULT 0,
		last_update %s NOT NULL
	)`, ts))
}

func (s *SQLStore) migrateSessionTables(ctx context.Context) error {
	ts := s.timestampType()
	if err := s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS scribe_sessions (
		session_id TEXT PRIMARY KEY,
		transport_session_id TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		repo_root TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT 'project',
		started_at %s NOT NULL,
		last_active_at %s NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		metadata TEXT DEFAULT '{}'
	)`, ts, ts)); err != nil {
		return err
	}
	if err := s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_sessions_transport ON scribe_sessions(transport_session_id)`); err != nil {
		return err
	}

	if err := s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS agent_projects (
		agent_id TEXT PRIMARY KEY,
		project_name TEXT,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at %s NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT ''
	)`, ts)); err != nil {
		return err
	}

	return s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS agent_events (
		id %s,
		event_type TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		from_project TEXT,
		to_project TEXT,
		version_info TEXT DEFAULT '',
		success INTEGER NOT NULL DEFAULT 1,
		context TEXT DEFAULT '{}',
		created_at %s NOT NULL
	)`, s.autoID(), ts))
}

func (s *SQLStore) migrateDocReminderTables(ctx context.Context) error {
	ts := s.timestampType()
	if err := s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS doc_changes (
		id %s,
		project_id BIGINT NOT NULL REFERENCES scribe_projects(id),
		doc_name TEXT NOT NULL,
		section TEXT,
		action TEXT NOT NULL,
		agent TEXT NOT NULL DEFAULT '',
		metadata TEXT DEFAULT '{}',
		sha_before TEXT NOT NULL,
		sha_after TEXT NOT NULL,
		created_at %s NOT NULL
	)`, s.autoID(), ts)); err != nil {
		return err
	}

	if err := s.exec(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS reminder_history (
		id %s,
		session_id TEXT NOT NULL REFERENCES scribe_sessions(session_id) ON DELETE CASCADE,
		reminder_hash TEXT NOT NULL,
		project_root TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL DEFAULT '',
		reminder_key TEXT NOT NULL,
		shown_at %s NOT NULL,
		operation_status TEXT NOT NULL DEFAULT 'neutral'
			CHECK (operation_status IN ('success','failure','neutral')),
		context_metadata TEXT DEFAULT '{}'
	)`, s.autoID(), ts)); err != nil {
		return err
	}

	if err := s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_reminder_session_hash ON reminder_history(session_id, reminder_hash)`); err != nil {
		return err
	}
	if err := s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_reminder_shown_at ON reminder_history(shown_at)`); err != nil {
		return err
	}
	return s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_reminder_session_tool ON reminder_history(session_id, tool_name)`)
}

func (s *SQLStore) migrateIndexes(ctx context.Context) error {
	if err := s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_entries_priority_ts ON scribe_entries(priority, ts)`); err != nil {
		return err
	}
	if err := s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_entries_category_ts ON scribe_entries(category, ts)`); err != nil {
		return err
	}
	if err := s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_entries_project_priority_category ON scribe_entries(project_id, priority, category)`); err != nil {
		return err
	}
	return s.exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_doc_changes_project ON doc_changes(project_id, created_at)`)
}
