package storage

import "time"

// Project status values. Projects are archived, never deleted.
const (
	ProjectPlanning   = "planning"
	ProjectInProgress = "in_progress"
	ProjectPaused     = "paused"
	ProjectCompleted  = "completed"
	ProjectArchived   = "archived"
)

// Session status values.
const (
	SessionActive  = "active"
	SessionExpired = "expired"
	SessionEnded   = "ended"
)

// Agent event types recorded for project-context changes.
const (
	EventSessionStarted   = "session_started"
	EventSessionEnded     = "session_ended"
	EventProjectSet       = "project_set"
	EventProjectSwitched  = "project_switched"
	EventConflictDetected = "conflict_detected"
)

// Operation status values recorded with reminder history.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusNeutral = "neutral"
)

// Project is the unit of agent work within a repository.
type Project struct {
	ID               int64             `db:"id"`
	Name             string            `db:"name"`
	RepoRoot         string            `db:"repo_root"`
	ProgressLogPath  string            `db:"progress_log_path"`
	Status           string            `db:"status"`
	Description      string            `db:"description"`
	Tags             string            `db:"tags"`
	Meta             map[string]string `db:"-"`
	CreatedAt        time.Time         `db:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at"`
	LastEntryAt      *time.Time        `db:"last_entry_at"`
	LastAccessAt     *time.Time        `db:"last_access_at"`
	LastStatusChange *time.Time        `db:"last_status_change"`
}

// LogEntry is one appended record; also one line of the progress log.
type LogEntry struct {
	ID         string            `db:"id"` // deterministic 32-hex
	ProjectID  int64             `db:"project_id"`
	Timestamp  time.Time         `db:"ts"`
	Emoji      string            `db:"emoji"`
	Agent      string            `db:"agent"`
	Message    string            `db:"message"`
	Meta       map[string]string `db:"-"`
	RawLine    string            `db:"raw_line"`
	SHA256     string            `db:"sha256"`
	Priority   string            `db:"priority"`
	Category   string            `db:"category"`
	Tags       string            `db:"tags"`
	Confidence float64           `db:"confidence"`
}

// EntryFilter narrows entry queries.
type EntryFilter struct {
	ProjectID     int64
	Priority      string
	Category      string
	Agent         string
	MinConfidence float64
	Since         *time.Time
	Until         *time.Time
	MessageLike   string
	Limit         int
	Offset        int
	PrioritySort  bool
}

// AgentSession is a long-lived agent identity tied to a transport session.
type AgentSession struct {
	SessionID          string            `db:"session_id"`
	TransportSessionID string            `db:"transport_session_id"`
	AgentID            string            `db:"agent_id"`
	RepoRoot           string            `db:"repo_root"`
	Mode               string            `db:"mode"`
	StartedAt          time.Time         `db:"started_at"`
	LastActiveAt       time.Time         `db:"last_active_at"`
	Status             string            `db:"status"`
	Metadata           map[string]string `db:"-"`
}

// AgentProject is the per-agent current-project pointer with an optimistic
// version. Updates go through compare-and-swap only.
type AgentProject struct {
	AgentID     string    `db:"agent_id"`
	ProjectName *string   `db:"project_name"`
	Version     int64     `db:"version"`
	UpdatedAt   time.Time `db:"updated_at"`
	UpdatedBy   string    `db:"updated_by"`
	SessionID   string    `db:"session_id"`
}

// AgentEvent is the append-only audit record for context changes.
type AgentEvent struct {
	ID          int64          `db:"id"`
	EventType   string         `db:"event_type"`
	AgentID     string         `db:"agent_id"`
	FromProject *string        `db:"from_project"`
	ToProject   *string        `db:"to_project"`
	VersionInfo string         `db:"version_info"`
	Success     bool           `db:"success"`
	Context     map[string]any `db:"-"`
	CreatedAt   time.Time      `db:"created_at"`
}

// AgentEventFilter narrows event queries.
type AgentEventFilter struct {
	AgentID   string
	EventType string
	Limit     int
}

// DocumentChange records one successful document mutation.
type DocumentChange struct {
	ID        int64             `db:"id"`
	ProjectID int64             `db:"project_id"`
	DocName   string            `db:"doc_name"`
	Section   *string           `db:"section"`
	Action    string            `db:"action"`
	Agent     string            `db:"agent"`
	Metadata  map[string]string `db:"-"`
	SHABefore string            `db:"sha_before"`
	SHAAfter  string            `db:"sha_after"`
	CreatedAt time.Time         `db:"created_at"`
}

// ReminderHistoryEntry records one reminder shown to one session.
type ReminderHistoryEntry struct {
	ID              int64             `db:"id"`
	SessionID       string            `db:"session_id"`
	ReminderHash    string            `db:"reminder_hash"`
	ProjectRoot     string            `db:"project_root"`
	AgentID         string            `db:"agent_id"`
	ToolName        string            `db:"tool_name"`
	ReminderKey     string            `db:"reminder_key"`
	ShownAt         time.Time         `db:"shown_at"`
	OperationStatus string            `db:"operation_status"`
	ContextMetadata map[string]string `db:"-"`
}

// Metrics holds the per-project entry counters maintained in the same
// transaction as entry inserts.
type Metrics struct {
	ProjectID    int64     `db:"project_id"`
	TotalEntries int64     `db:"total_entries"`
	SuccessCount int64     `db:"success_count"`
	WarnCount    int64     `db:"warn_count"`
	ErrorCount   int64     `db:"error_count"`
	LastUpdate   time.Time `db:"last_update"`
}
