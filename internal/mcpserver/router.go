package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/execctx"
	"github.com/scribe-dev/scribe/internal/reminder"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/storage"
	"github.com/scribe-dev/scribe/internal/telemetry"
)

const recentProjectWindowMinutes = 15

// toolFunc is the body of one tool: it receives the installed execution
// context and returns the success fields of the response envelope.
type toolFunc func(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error)

// handle wraps a tool body with the invocation pipeline: execution context
// resolution, state recording, deadline, tracing, reminder merging, and the
// response envelope.
func (s *Server) handle(toolName string, fn toolFunc) mcpsrv.ToolHandlerFunc {
	tracer := telemetry.Tracer("scribe/mcpserver")
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, cancel := context.WithTimeout(ctx, s.deps.Cfg.Server.ToolTimeoutDuration())
		defer cancel()
		ctx, span := tracer.Start(ctx, "tool."+toolName)
		span.SetAttributes(attribute.String("tool.name", toolName))
		defer span.End()

		ec, err := s.resolveExecutionContext(ctx, req)
		if err != nil {
			return s.respond(ctx, toolName, nil, nil, err), nil
		}
		ctx = execctx.Install(ctx, ec)
		s.deps.State.RecordTool(toolName, ec.AgentID(""))

		fields, err := fn(ctx, ec, req)
		return s.respond(ctx, toolName, ec, fields, err), nil
	}
}

// resolveExecutionContext builds the immutable per-call context from the
// transport session and host-provided identity.
func (s *Server) resolveExecutionContext(ctx context.Context, req mcp.CallToolRequest) (*execctx.ExecutionContext, error) {
	transportID := ""
	if cs := mcpsrv.ClientSessionFromContext(ctx); cs != nil {
		transportID = cs.SessionID()
	}
	mode := execctx.ModeProject
	if req.GetString("mode", "") == string(execctx.ModeSentinel) {
		mode = execctx.ModeSentinel
	}
	sessionID, err := s.deps.Sessions.Resolve(ctx, transportID, s.repoRoot(), mode)
	if err != nil {
		return nil, err
	}
	_ = s.deps.Sessions.Heartbeat(ctx, sessionID)

	now := time.Now().UTC()
	return &execctx.ExecutionContext{
		RepoRoot:           s.repoRoot(),
		Mode:               mode,
		SessionID:          sessionID,
		ExecutionID:        newExecutionID(),
		TransportSessionID: transportID,
		Agent: execctx.AgentIdentity{
			Kind:        config.EnvAgentKind(),
			Model:       config.EnvAgentModel(),
			DisplayName: req.GetString("agent", ""),
		},
		Timestamp:   now,
		SentinelDay: now.Format("2006-01-02"),
	}, nil
}

// respond shapes the final envelope: success fields or the structured error,
// plus the shared reminders and recent-projects tail.
func (s *Server) respond(ctx context.Context, toolName string, ec *execctx.ExecutionContext, fields map[string]any, err error) *mcp.CallToolResult {
	envelope := make(map[string]any, len(fields)+4)
	status := storage.StatusSuccess
	if err != nil {
		status = storage.StatusFailure
		se, ok := scriberr.As(err)
		if !ok || se.Kind == scriberr.KindInternal {
			correlationID := ""
			if ec != nil {
				correlationID = ec.ExecutionID
			}
			s.deps.Log.Error("tool failed",
				zap.String("tool", toolName),
				zap.String("execution_id", correlationID),
				zap.Error(err))
			envelope["ok"] = false
			envelope["error"] = "internal error"
			envelope["correlation_id"] = correlationID
		} else {
			envelope["ok"] = false
			envelope["error"] = se.Message
			envelope["kind"] = string(se.Kind)
			if se.Code != "" {
				envelope["code"] = se.Code
			}
			if se.Suggestion != "" {
				envelope["suggestion"] = se.Suggestion
			}
			for k, v := range se.Fields {
				envelope[k] = v
			}
		}
	} else {
		envelope["ok"] = true
		for k, v := range fields {
			envelope[k] = v
		}
	}

	if ec != nil {
		if shown := s.evaluateReminders(ctx, toolName, ec, status); len(shown) > 0 {
			envelope["reminders"] = shown
		}
	}
	if recent := s.deps.State.RecentProjects(); len(recent) > 0 {
		envelope["recent_projects"] = recent
	}

	data, merr := json.MarshalIndent(envelope, "", "  ")
	if merr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode response: %v", merr))
	}
	return mcp.NewToolResultText(string(data))
}

// evaluateReminders assembles the reminder context for the call and runs the
// selector. Reminder failures never fail the tool.
func (s *Server) evaluateReminders(ctx context.Context, toolName string, ec *execctx.ExecutionContext, status string) []reminder.Shown {
	rc := &reminder.Context{
		ToolName:        toolName,
		ProjectRoot:     s.repoRoot(),
		AgentID:         ec.AgentID(""),
		SessionID:       ec.SessionID,
		OperationStatus: status,
	}
	if sess, err := s.deps.Store.GetSession(ctx, ec.SessionID); err == nil {
		rc.SessionAgeMinutes = time.Since(sess.StartedAt).Minutes()
	}
	if project, err := s.currentProject(ctx, ec, ""); err == nil && project != nil {
		rc.ProjectName = project.Name
		if total, err := s.deps.Store.CountEntries(ctx, project.ID); err == nil {
			rc.TotalEntries = total
		}
		if last, err := s.deps.Store.LastEntryTime(ctx, project.ID); err == nil && last != nil {
			rc.LastLogTime = &last.Timestamp
			rc.MinutesSinceLog = time.Since(last.Timestamp).Minutes()
		}
		rc.DocStatus = s.docStatus(project)
		rc.CurrentPhase = s.currentPhase(project)
		if changes, err := s.deps.Store.ListDocChanges(ctx, project.ID, 5); err == nil {
			for _, c := range changes {
				rc.ChangedDocs = append(rc.ChangedDocs, c.DocName)
			}
		}
	}
	shown := s.deps.Reminders.Evaluate(ctx, rc)
	s.deps.Reminders.Persist()
	return shown
}

// noProjectError is the distinguished response for project-scoped tools
// invoked without a current project. The hint names the most recently
// accessed project within the last few minutes.
func (s *Server) noProjectError(ctx context.Context) error {
	err := scriberr.NewCode(scriberr.KindNotFound, scriberr.CodeNoProjectConfigured,
		"no project is configured for this agent")
	if recent, rerr := s.deps.Store.MostRecentProject(ctx, recentProjectWindowMinutes); rerr == nil && recent != nil {
		return err.WithSuggestion(fmt.Sprintf("call set_project; %q was active recently", recent.Name)).
			WithField("recent_project", recent.Name)
	}
	return err.WithSuggestion("call set_project with a project name first")
}

// currentProject resolves the project for a project-scoped tool: explicit
// name, then the agent's durable pointer.
func (s *Server) currentProject(ctx context.Context, ec *execctx.ExecutionContext, explicit string) (*storage.Project, error) {
	if explicit != "" {
		return s.deps.Store.GetProject(ctx, explicit)
	}
	pointer, err := s.deps.Agents.GetCurrentProject(ctx, ec.AgentID(""))
	if err != nil {
		return nil, err
	}
	if pointer == nil || pointer.ProjectName == nil {
		return nil, nil
	}
	return s.deps.Store.GetProject(ctx, *pointer.ProjectName)
}

// requireProject is currentProject with the distinguished error on absence.
func (s *Server) requireProject(ctx context.Context, ec *execctx.ExecutionContext, explicit string) (*storage.Project, error) {
	project, err := s.currentProject(ctx, ec, explicit)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, s.noProjectError(ctx)
	}
	return project, nil
}

// Entry-limit defaults per response format.
var entryLimits = map[string]int{
	"summary":    50,
	"readable":   50,
	"expandable": 50,
	"full":       10,
	"compact":    200,
	"structured": 100,
}

// entryLimit resolves the effective entry cap for a list response.
func entryLimit(format string, override int) int {
	if override > 0 {
		return override
	}
	if limit, ok := entryLimits[format]; ok {
		return limit
	}
	return entryLimits["structured"]
}
