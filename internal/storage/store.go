// Package storage persists Scribe's durable records: projects, log entries,
// sessions, agent project pointers, audit events, document changes, and
// reminder history. Two drivers are supported through the same SQL layer:
// embedded SQLite for single-node deployments (the default) and PostgreSQL
// for shared ones. All queries are parameterized and rebound per driver.
package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/db"
	"github.com/scribe-dev/scribe/internal/db/dialect"
)

// Store is the storage interface the rest of Scribe programs against.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	UpdateProjectStatus(ctx context.Context, name, status string) error
	TouchProjectAccess(ctx context.Context, name string) error
	MostRecentProject(ctx context.Context, withinMinutes int) (*Project, error)

	// Entries
	InsertEntry(ctx context.Context, e *LogEntry) (inserted bool, err error)
	QueryEntries(ctx context.Context, f EntryFilter) ([]*LogEntry, error)
	CountEntries(ctx context.Context, projectID int64) (int64, error)
	LastEntryTime(ctx context.Context, projectID int64) (*LogEntry, error)
	GetMetrics(ctx context.Context, projectID int64) (*Metrics, error)

	// Sessions
	GetSessionByTransportID(ctx context.Context, transportSessionID string) (*AgentSession, error)
	CreateSession(ctx context.Context, s *AgentSession) error
	HeartbeatSession(ctx context.Context, sessionID string) error
	EndSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*AgentSession, error)
	ExpireIdleSessions(ctx context.Context, idleMinutes int) (int64, error)

	// Agent project pointers
	GetAgentProject(ctx context.Context, agentID string) (*AgentProject, error)
	UpsertAgentProject(ctx context.Context, ap *AgentProject) (*AgentProject, error)
	CompareAndSwapAgentProject(ctx context.Context, ap *AgentProject, expectedVersion int64) (*AgentProject, error)

	// Audit events
	InsertAgentEvent(ctx context.Context, e *AgentEvent) error
	ListAgentEvents(ctx context.Context, f AgentEventFilter) ([]*AgentEvent, error)

	// Document changes
	InsertDocChange(ctx context.Context, c *DocumentChange) error
	ListDocChanges(ctx context.Context, projectID int64, limit int) ([]*DocumentChange, error)

	// Reminder history
	InsertReminderHistory(ctx context.Context, r *ReminderHistoryEntry) error
	LastShown(ctx context.Context, sessionID, reminderHash string) (*ReminderHistoryEntry, error)
	CountShownInSession(ctx context.Context, sessionID, reminderKey string) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// SQLStore implements Store over the shared pool.
type SQLStore struct {
	pool   *db.Pool
	driver string
	log    *logger.Logger
}

var _ Store = (*SQLStore)(nil)

// Open opens the configured backend, runs migrations, and returns the store.
func Open(cfg config.StorageConfig, log *logger.Logger) (*SQLStore, error) {
	var (
		writer *sqlx.DB
		reader *sqlx.DB
		driver string
	)

	switch cfg.Backend {
	case "embedded", "":
		w, err := db.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open embedded database: %w", err)
		}
		r, err := db.OpenSQLiteReader(cfg.DBPath)
		if err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("open embedded reader: %w", err)
		}
		writer = sqlx.NewDb(w, dialect.SQLite3)
		reader = sqlx.NewDb(r, dialect.SQLite3)
		driver = dialect.SQLite3
	case "server":
		conn, err := db.OpenPostgres(cfg.DBURL, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, fmt.Errorf("open server database: %w", err)
		}
		writer = sqlx.NewDb(conn, dialect.PGX)
		reader = writer
		driver = dialect.PGX
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	store := &SQLStore{pool: db.NewPool(writer, reader), driver: driver, log: log}
	if err := store.migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// NewWithPool wraps an existing pool; used by tests.
func NewWithPool(pool *db.Pool, driver string, log *logger.Logger) (*SQLStore, error) {
	store := &SQLStore{pool: pool, driver: driver, log: log}
	if err := store.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLStore) writer() *sqlx.DB { return s.pool.Writer() }
func (s *SQLStore) reader() *sqlx.DB { return s.pool.Reader() }

// Ping verifies connectivity on the writer pool.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.writer().PingContext(ctx)
}

// Close closes both pools.
func (s *SQLStore) Close() error {
	return s.pool.Close()
}
