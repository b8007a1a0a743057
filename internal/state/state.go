// Package state maintains the persisted JSON state file: the repository's
// current project, recent projects and tools, and agent activity. The file
// is a cache hint for hosts; the database remains authoritative for
// per-agent project pointers.
package state

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/fileio"
)

const (
	recentToolsCap    = 20
	recentProjectsCap = 10
)

// ProjectConfig is the per-project slice of the state file.
type ProjectConfig struct {
	Name            string `json:"name"`
	ProgressLogPath string `json:"progress_log_path,omitempty"`
	Status          string `json:"status,omitempty"`
}

// ToolInvocation is one entry of the recent-tools ring buffer.
type ToolInvocation struct {
	Name string    `json:"name"`
	TS   time.Time `json:"ts"`
}

// AgentState is the free-form per-agent activity slice.
type AgentState struct {
	LastAgentID string            `json:"last_agent_id,omitempty"`
	ActivityLog []string          `json:"activity_log,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Document is the serialized state file.
type Document struct {
	CurrentProject     string                   `json:"current_project,omitempty"`
	Projects           map[string]ProjectConfig `json:"projects"`
	RecentProjects     []string                 `json:"recent_projects"`
	SessionProjects    map[string]ProjectConfig `json:"session_projects"`
	RecentTools        []ToolInvocation         `json:"recent_tools"`
	LastActivityAt     time.Time                `json:"last_activity_at"`
	SessionStartedAt   time.Time                `json:"session_started_at"`
	Version            int64                    `json:"version"`
	LastUpdatedBy      string                   `json:"last_updated_by,omitempty"`
	OperationTimestamp time.Time                `json:"operation_timestamp"`
	AgentState         AgentState               `json:"agent_state"`
}

// File guards the state document with an in-process mutex and writes it via
// temp-and-rename.
type File struct {
	log  *logger.Logger
	path string
	now  func() time.Time

	mu  sync.Mutex
	doc Document
}

// Open loads the state file, creating an empty document when absent or
// unreadable.
func Open(path string, log *logger.Logger) *File {
	f := &File{log: log, path: path, now: time.Now}
	f.doc = Document{
		Projects:         map[string]ProjectConfig{},
		SessionProjects:  map[string]ProjectConfig{},
		SessionStartedAt: time.Now().UTC(),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return f
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn("state file unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		return f
	}
	if doc.Projects == nil {
		doc.Projects = map[string]ProjectConfig{}
	}
	if doc.SessionProjects == nil {
		doc.SessionProjects = map[string]ProjectConfig{}
	}
	f.doc = doc
	return f
}

// Path returns where the state file is persisted.
func (f *File) Path() string { return f.path }

// Snapshot returns a copy of the current document.
func (f *File) Snapshot() Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyLocked()
}

func (f *File) copyLocked() Document {
	doc := f.doc
	doc.Projects = make(map[string]ProjectConfig, len(f.doc.Projects))
	for k, v := range f.doc.Projects {
		doc.Projects[k] = v
	}
	doc.SessionProjects = make(map[string]ProjectConfig, len(f.doc.SessionProjects))
	for k, v := range f.doc.SessionProjects {
		doc.SessionProjects[k] = v
	}
	doc.RecentProjects = append([]string(nil), f.doc.RecentProjects...)
	doc.RecentTools = append([]ToolInvocation(nil), f.doc.RecentTools...)
	return doc
}

// RecordTool appends to the recent-tools ring and stamps activity.
func (f *File) RecordTool(name, agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now().UTC()
	f.doc.RecentTools = append(f.doc.RecentTools, ToolInvocation{Name: name, TS: now})
	if len(f.doc.RecentTools) > recentToolsCap {
		f.doc.RecentTools = f.doc.RecentTools[len(f.doc.RecentTools)-recentToolsCap:]
	}
	f.doc.LastActivityAt = now
	f.doc.OperationTimestamp = now
	if agentID != "" {
		f.doc.AgentState.LastAgentID = agentID
	}
	f.bumpLocked(agentID)
	f.persistLocked()
}

// SetCurrentProject updates the repository-level current project hint and
// the session binding.
func (f *File) SetCurrentProject(sessionID, agentID string, project ProjectConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc.CurrentProject = project.Name
	f.doc.Projects[project.Name] = project
	if sessionID != "" {
		f.doc.SessionProjects[sessionID] = project
	}
	f.touchRecentLocked(project.Name)
	f.bumpLocked(agentID)
	f.persistLocked()
}

// ClearSessionProject drops a session's project binding.
func (f *File) ClearSessionProject(sessionID, agentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.doc.SessionProjects, sessionID)
	f.bumpLocked(agentID)
	f.persistLocked()
}

// RecentProjects returns the ordered recent-project names, newest first.
func (f *File) RecentProjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.doc.RecentProjects...)
}

func (f *File) touchRecentLocked(name string) {
	out := make([]string, 0, len(f.doc.RecentProjects)+1)
	out = append(out, name)
	for _, p := range f.doc.RecentProjects {
		if p != name {
			out = append(out, p)
		}
	}
	if len(out) > recentProjectsCap {
		out = out[:recentProjectsCap]
	}
	f.doc.RecentProjects = out
}

func (f *File) bumpLocked(agentID string) {
	f.doc.Version++
	if agentID != "" {
		f.doc.LastUpdatedBy = agentID
	}
	f.doc.OperationTimestamp = f.now().UTC()
}

// persistLocked writes the document best-effort; the state file is a hint
// and write failures must not fail tool calls.
func (f *File) persistLocked() {
	if f.path == "" {
		return
	}
	data, err := json.MarshalIndent(f.doc, "", "  ")
	if err != nil {
		return
	}
	if err := fileio.WriteAtomic(f.path, data, 0o644); err != nil {
		f.log.Warn("persist state file failed", zap.String("path", f.path), zap.Error(err))
	}
}
