// Package agentctx maintains the per-agent current-project pointer with
// optimistic concurrency control, session leases, and the audit trail of
// every project switch.
package agentctx

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/storage"
)

// Service owns agent project context operations.
type Service struct {
	store          storage.Store
	log            *logger.Logger
	idleTTLMinutes int

	// Bootstrap settings for first-run project creation.
	repoRoot        string
	devPlansDir     string
	progressLogName string
}

// Config wires the service's collaborators and bootstrap settings.
type Config struct {
	Store           storage.Store
	Logger          *logger.Logger
	IdleTTLMinutes  int
	RepoRoot        string
	DevPlansDir     string
	ProgressLogName string
}

// NewService creates the agent project-context service.
func NewService(cfg Config) *Service {
	ttl := cfg.IdleTTLMinutes
	if ttl <= 0 {
		ttl = 45
	}
	return &Service{
		store:           cfg.Store,
		log:             cfg.Logger,
		idleTTLMinutes:  ttl,
		repoRoot:        cfg.RepoRoot,
		devPlansDir:     cfg.DevPlansDir,
		progressLogName: cfg.ProgressLogName,
	}
}

// ProjectPointer is the caller-visible view of an agent's current project.
type ProjectPointer struct {
	ProjectName *string   `json:"project_name"`
	Version     int64     `json:"version"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StartSession creates or refreshes an AgentSession and grants a lease.
func (s *Service) StartSession(ctx context.Context, agentID string, metadata map[string]string) (string, error) {
	sessionID := uuid.New().String()
	err := s.store.CreateSession(ctx, &storage.AgentSession{
		SessionID:          sessionID,
		TransportSessionID: sessionID, // direct sessions self-bind
		AgentID:            agentID,
		RepoRoot:           s.repoRoot,
		Mode:               "project",
		Metadata:           metadata,
		Status:             storage.SessionActive,
	})
	if err != nil {
		return "", err
	}
	_ = s.store.InsertAgentEvent(ctx, &storage.AgentEvent{
		EventType: storage.EventSessionStarted,
		AgentID:   agentID,
		Success:   true,
		Context:   map[string]any{"session_id": sessionID},
	})
	return sessionID, nil
}

// SetCurrentProject validates the session lease and performs the project
// switch. When expectedVersion is non-nil the update is a strict
// compare-and-swap; otherwise it is an upsert that bumps the version by one.
// Every outcome, including CAS conflicts, is recorded as an AgentEvent.
func (s *Service) SetCurrentProject(ctx context.Context, agentID string, projectName *string, sessionID string, expectedVersion *int64) (*ProjectPointer, error) {
	if err := s.validateLease(ctx, agentID, sessionID); err != nil {
		return nil, err
	}

	prior, err := s.store.GetAgentProject(ctx, agentID)
	if err != nil {
		return nil, err
	}
	var fromProject *string
	if prior != nil {
		fromProject = prior.ProjectName
	}

	if projectName != nil {
		if err := s.ensureProjectExists(ctx, *projectName); err != nil {
			return nil, err
		}
	}

	pointer := &storage.AgentProject{
		AgentID:     agentID,
		ProjectName: projectName,
		UpdatedBy:   agentID,
		SessionID:   sessionID,
	}

	var updated *storage.AgentProject
	if expectedVersion != nil {
		updated, err = s.store.CompareAndSwapAgentProject(ctx, pointer, *expectedVersion)
	} else {
		updated, err = s.store.UpsertAgentProject(ctx, pointer)
	}
	if err != nil {
		if scriberr.IsConflict(err) {
			_ = s.store.InsertAgentEvent(ctx, &storage.AgentEvent{
				EventType:   storage.EventConflictDetected,
				AgentID:     agentID,
				FromProject: fromProject,
				ToProject:   projectName,
				VersionInfo: versionInfo(prior, expectedVersion, nil),
				Success:     false,
			})
		}
		return nil, err
	}

	eventType := storage.EventProjectSet
	if fromProject != nil && projectName != nil && *fromProject != *projectName {
		eventType = storage.EventProjectSwitched
	}
	_ = s.store.InsertAgentEvent(ctx, &storage.AgentEvent{
		EventType:   eventType,
		AgentID:     agentID,
		FromProject: fromProject,
		ToProject:   projectName,
		VersionInfo: versionInfo(prior, expectedVersion, updated),
		Success:     true,
		Context:     map[string]any{"session_id": sessionID},
	})

	if projectName != nil {
		_ = s.store.TouchProjectAccess(ctx, *projectName)
	}

	s.log.Info("project context updated",
		zap.String("agent_id", agentID),
		zap.String("event", eventType),
		zap.Int64("version", updated.Version))

	return &ProjectPointer{
		ProjectName: updated.ProjectName,
		Version:     updated.Version,
		UpdatedAt:   updated.UpdatedAt,
	}, nil
}

// GetCurrentProject returns the agent's pointer, or nil when unset.
func (s *Service) GetCurrentProject(ctx context.Context, agentID string) (*ProjectPointer, error) {
	ap, err := s.store.GetAgentProject(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if ap == nil {
		return nil, nil
	}
	return &ProjectPointer{
		ProjectName: ap.ProjectName,
		Version:     ap.Version,
		UpdatedAt:   ap.UpdatedAt,
	}, nil
}

// HeartbeatSession refreshes a lease.
func (s *Service) HeartbeatSession(ctx context.Context, sessionID string) error {
	return s.store.HeartbeatSession(ctx, sessionID)
}

// EndSession ends a session and records the audit event.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.store.EndSession(ctx, sessionID); err != nil {
		return err
	}
	_ = s.store.InsertAgentEvent(ctx, &storage.AgentEvent{
		EventType: storage.EventSessionEnded,
		AgentID:   sess.AgentID,
		Success:   true,
		Context:   map[string]any{"session_id": sessionID},
	})
	return nil
}

// CleanupExpiredSessions marks idle sessions as expired and returns a count.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	return s.store.ExpireIdleSessions(ctx, s.idleTTLMinutes)
}

// RunCleanupLoop expires idle sessions on a fixed interval until ctx ends.
func (s *Service) RunCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanupExpiredSessions(ctx)
			if err != nil {
				s.log.Warn("session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("expired idle sessions", zap.Int64("count", n))
			}
		}
	}
}

// GetAgentEvents returns audit events for inspection.
func (s *Service) GetAgentEvents(ctx context.Context, agentID, eventType string, limit int) ([]*storage.AgentEvent, error) {
	return s.store.ListAgentEvents(ctx, storage.AgentEventFilter{
		AgentID:   agentID,
		EventType: eventType,
		Limit:     limit,
	})
}

// validateLease checks that the session exists, is active, and belongs to
// the agent. A mismatched or inactive lease never mutates state.
func (s *Service) validateLease(ctx context.Context, agentID, sessionID string) error {
	if sessionID == "" {
		return scriberr.SessionExpired("(empty)")
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if scriberr.IsNotFound(err) {
			return scriberr.SessionExpired(sessionID)
		}
		return err
	}
	if sess.Status != storage.SessionActive {
		return scriberr.SessionExpired(sessionID)
	}
	if sess.AgentID != "" && sess.AgentID != agentID {
		return scriberr.SessionExpired(sessionID).
			WithSuggestion("the session lease belongs to a different agent; call start_session first")
	}
	return nil
}

// ensureProjectExists creates the project row on first use, based on the
// repository discovery settings. Projects are only bootstrapped under the
// configured repository root; there is no fallback location.
func (s *Service) ensureProjectExists(ctx context.Context, name string) error {
	_, err := s.store.GetProject(ctx, name)
	if err == nil {
		return nil
	}
	if !scriberr.IsNotFound(err) {
		return err
	}
	if s.repoRoot == "" {
		return scriberr.NotFound("project", name).
			WithSuggestion("no repository root is configured; create the project explicitly")
	}
	logPath := filepath.Join(s.repoRoot, s.devPlansDir, name, s.progressLogName)
	return s.store.CreateProject(ctx, &storage.Project{
		Name:            name,
		RepoRoot:        s.repoRoot,
		ProgressLogPath: logPath,
		Status:          storage.ProjectPlanning,
	})
}

func versionInfo(prior *storage.AgentProject, expected *int64, updated *storage.AgentProject) string {
	before := int64(0)
	if prior != nil {
		before = prior.Version
	}
	exp := "none"
	if expected != nil {
		exp = fmt.Sprintf("%d", *expected)
	}
	after := "n/a"
	if updated != nil {
		after = fmt.Sprintf("%d", updated.Version)
	}
	return fmt.Sprintf("before=%d expected=%s after=%s", before, exp, after)
}
