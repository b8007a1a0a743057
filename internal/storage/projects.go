package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scribe-dev/scribe/internal/db/dialect"
	"github.com/scribe-dev/scribe/internal/scriberr"
)

// CreateProject inserts a new project row. Name collisions surface as a
// conflict error because projects are unique per repository.
func (s *SQLStore) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = ProjectPlanning
	}
	meta, err := json.Marshal(orEmpty(p.Meta))
	if err != nil {
		meta = []byte("{}")
	}

	id, err := dialect.InsertReturningID(ctx, s.writer(), `
		INSERT INTO scribe_projects (name, repo_root, progress_log_path, status, description, tags, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.RepoRoot, p.ProgressLogPath, p.Status, p.Description, p.Tags, string(meta), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create project %q: %w", p.Name, err)
	}
	p.ID = id
	return nil
}

// GetProject retrieves a project by name.
func (s *SQLStore) GetProject(ctx context.Context, name string) (*Project, error) {
	row := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT id, name, repo_root, progress_log_path, status, description, tags, meta,
		       created_at, updated_at, last_entry_at, last_access_at, last_status_change
		FROM scribe_projects WHERE name = ?`), name)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, scriberr.NotFound("project", name)
	}
	return p, err
}

// ListProjects returns all projects ordered by most recent access.
func (s *SQLStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.reader().QueryContext(ctx, `
		SELECT id, name, repo_root, progress_log_path, status, description, tags, meta,
		       created_at, updated_at, last_entry_at, last_access_at, last_status_change
		FROM scribe_projects
		ORDER BY last_access_at DESC NULLS LAST, name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectStatus transitions the project's status and stamps the change.
func (s *SQLStore) UpdateProjectStatus(ctx context.Context, name, status string) error {
	switch status {
	case ProjectPlanning, ProjectInProgress, ProjectPaused, ProjectCompleted, ProjectArchived:
	default:
		return scriberr.Validation("status", "invalid project status %q", status)
	}
	now := time.Now().UTC()
	res, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE scribe_projects SET status = ?, updated_at = ?, last_status_change = ? WHERE name = ?`),
		status, now, now, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scriberr.NotFound("project", name)
	}
	return nil
}

// TouchProjectAccess stamps last_access_at; called whenever an agent selects
// or reads the project.
func (s *SQLStore) TouchProjectAccess(ctx context.Context, name string) error {
	now := time.Now().UTC()
	_, err := s.writer().ExecContext(ctx, s.writer().Rebind(`
		UPDATE scribe_projects SET last_access_at = ?, updated_at = ? WHERE name = ?`),
		now, now, name)
	return err
}

// MostRecentProject returns the most recently accessed project within the
// window, or nil. Used for the "no project configured" hint.
func (s *SQLStore) MostRecentProject(ctx context.Context, withinMinutes int) (*Project, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(withinMinutes) * time.Minute)
	row := s.reader().QueryRowContext(ctx, s.reader().Rebind(`
		SELECT id, name, repo_root, progress_log_path, status, description, tags, meta,
		       created_at, updated_at, last_entry_at, last_access_at, last_status_change
		FROM scribe_projects
		WHERE last_access_at >= ?
		ORDER BY last_access_at DESC
		LIMIT 1`), cutoff)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var meta string
	var lastEntry, lastAccess, lastStatus sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.RepoRoot, &p.ProgressLogPath, &p.Status,
		&p.Description, &p.Tags, &meta,
		&p.CreatedAt, &p.UpdatedAt, &lastEntry, &lastAccess, &lastStatus)
	if err != nil {
		return nil, err
	}
	if lastEntry.Valid {
		p.LastEntryAt = &lastEntry.Time
	}
	if lastAccess.Valid {
		p.LastAccessAt = &lastAccess.Time
	}
	if lastStatus.Valid {
		p.LastStatusChange = &lastStatus.Time
	}
	_ = json.Unmarshal([]byte(meta), &p.Meta)
	return p, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
