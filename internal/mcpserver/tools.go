package mcpserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/scribe-dev/scribe/internal/docs"
	"github.com/scribe-dev/scribe/internal/execctx"
	"github.com/scribe-dev/scribe/internal/fileio"
	"github.com/scribe-dev/scribe/internal/logbook"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/sentinel"
	"github.com/scribe-dev/scribe/internal/state"
	"github.com/scribe-dev/scribe/internal/storage"
)

func (s *Server) registerTools() {
	// Project context tools
	s.mcp.AddTool(
		mcp.NewTool("set_project",
			mcp.WithDescription("Make a project the agent's current project. Creates the project on first use."),
			mcp.WithString("project",
				mcp.Description("The project name to switch to"),
			),
			mcp.WithBoolean("clear",
				mcp.Description("Clear the current project instead of setting one"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent display name used for identity derivation (optional)"),
			),
			mcp.WithNumber("expected_version",
				mcp.Description("Expected pointer version for compare-and-swap (optional)"),
			),
		),
		s.handle("set_project", s.setProject),
	)
	s.mcp.AddTool(
		mcp.NewTool("get_project",
			mcp.WithDescription("Report the agent's current project with status and entry metrics."),
			mcp.WithString("agent",
				mcp.Description("Agent display name (optional)"),
			),
		),
		s.handle("get_project", s.getProject),
	)
	s.mcp.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List known projects with status and entry counts."),
		),
		s.handle("list_projects", s.listProjects),
	)

	// Logging tools
	s.mcp.AddTool(
		mcp.NewTool("append_entry",
			mcp.WithDescription("Append one progress log entry, or many when 'items' is given. "+
				"Entries are idempotent: re-appending identical content returns the same entry_id without a duplicate."),
			mcp.WithString("message",
				mcp.Description("The entry message (single-entry mode)"),
			),
			mcp.WithString("status",
				mcp.Description("Status keyword: info, success, warn, error, bug, plan"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent display name recorded in the entry"),
			),
			mcp.WithString("project",
				mcp.Description("Project name override; defaults to the agent's current project"),
			),
			mcp.WithString("log_type",
				mcp.Description("Target stream: progress, doc_updates, security, bugs"),
			),
			mcp.WithString("priority",
				mcp.Description("Explicit priority: critical, high, medium, low"),
			),
			mcp.WithString("category",
				mcp.Description("Free-form category label"),
			),
			mcp.WithString("timestamp",
				mcp.Description("Explicit timestamp, 'YYYY-MM-DD HH:MM:SS UTC' or RFC 3339"),
			),
			mcp.WithObject("meta",
				mcp.Description("Key-value metadata; non-progress streams require specific keys"),
			),
			mcp.WithNumber("confidence",
				mcp.Description("Confidence in [0,1]; out-of-range values are clamped to 1.0"),
			),
			mcp.WithArray("items",
				mcp.Description("Bulk mode: list of entry objects, each with the single-entry fields"),
			),
		),
		s.handle("append_entry", s.appendEntry),
	)
	s.mcp.AddTool(
		mcp.NewTool("read_recent",
			mcp.WithDescription("Read the most recent entries from the project's progress log file."),
			mcp.WithString("project",
				mcp.Description("Project name override"),
			),
			mcp.WithNumber("n",
				mcp.Description("How many entries to return (default 10)"),
			),
			mcp.WithString("agent",
				mcp.Description("Only entries by this agent"),
			),
		),
		s.handle("read_recent", s.readRecent),
	)
	s.mcp.AddTool(
		mcp.NewTool("query_entries",
			mcp.WithDescription("Search stored entries by time range, priority, category, agent, or message text."),
			mcp.WithString("project",
				mcp.Description("Project name override"),
			),
			mcp.WithString("priority",
				mcp.Description("Filter by priority"),
			),
			mcp.WithString("category",
				mcp.Description("Filter by category"),
			),
			mcp.WithString("agent",
				mcp.Description("Filter by agent"),
			),
			mcp.WithString("contains",
				mcp.Description("Substring match on the message"),
			),
			mcp.WithString("since",
				mcp.Description("Lower time bound"),
			),
			mcp.WithString("until",
				mcp.Description("Upper time bound"),
			),
			mcp.WithNumber("min_confidence",
				mcp.Description("Minimum confidence"),
			),
			mcp.WithString("format",
				mcp.Description("Response format: structured (default), compact, summary, readable, expandable, full"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Entry cap override; defaults depend on format"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Pagination offset"),
			),
			mcp.WithBoolean("priority_sort",
				mcp.Description("Sort by priority rank before recency"),
			),
		),
		s.handle("query_entries", s.queryEntries),
	)

	// Document tools
	s.mcp.AddTool(
		mcp.NewTool("manage_docs",
			mcp.WithDescription("Run one document operation: replace_section, append, apply_patch, replace_range, "+
				"create_doc, generate_toc, normalize_headers, validate_crosslinks, list_checklist_items."),
			mcp.WithString("action",
				mcp.Required(),
				mcp.Description("The document action to run"),
			),
			mcp.WithString("doc",
				mcp.Description("Document name: architecture, phase_plan, checklist, progress_log, or a literal *.md name"),
			),
			mcp.WithString("project",
				mcp.Description("Project name override"),
			),
			mcp.WithString("content",
				mcp.Description("New content for content-bearing actions"),
			),
			mcp.WithString("template",
				mcp.Description("Template text with {placeholders}; used when content is empty"),
			),
			mcp.WithString("section_id",
				mcp.Description("Section marker ID for replace_section"),
			),
			mcp.WithString("patch",
				mcp.Description("Unified diff text for apply_patch"),
			),
			mcp.WithString("patch_mode",
				mcp.Description("apply_patch mode: unified (default) or structured"),
			),
			mcp.WithObject("edit",
				mcp.Description("Structured edit object: {type, start_line, end_line, anchor, content}"),
			),
			mcp.WithNumber("start_line",
				mcp.Description("First body line for replace_range (1-indexed, inclusive)"),
			),
			mcp.WithNumber("end_line",
				mcp.Description("Last body line for replace_range (inclusive)"),
			),
			mcp.WithString("patch_source_hash",
				mcp.Description("Expected before-hash; mismatch returns HASH_MISMATCH"),
			),
			mcp.WithObject("frontmatter",
				mcp.Description("YAML front matter for create_doc"),
			),
			mcp.WithString("target_dir",
				mcp.Description("Subdirectory for create_doc"),
			),
			mcp.WithBoolean("dry_run",
				mcp.Description("Compute the diff preview without writing"),
			),
			mcp.WithBoolean("check_anchors",
				mcp.Description("validate_crosslinks: also verify heading anchors"),
			),
			mcp.WithString("text",
				mcp.Description("list_checklist_items: filter by item text"),
			),
			mcp.WithBoolean("case_sensitive",
				mcp.Description("list_checklist_items: case-sensitive text match"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent recorded with the document change"),
			),
			mcp.WithObject("meta",
				mcp.Description("Metadata recorded with the document change"),
			),
		),
		s.handle("manage_docs", s.manageDocs),
	)
	s.mcp.AddTool(
		mcp.NewTool("generate_doc_templates",
			mcp.WithDescription("Scaffold the standard document set for the current project. Existing files are kept."),
			mcp.WithString("project",
				mcp.Description("Project name override"),
			),
		),
		s.handle("generate_doc_templates", s.generateDocTemplates),
	)
	s.mcp.AddTool(
		mcp.NewTool("rotate_log",
			mcp.WithDescription("Archive the current progress log and truncate it, extending the archive hash chain."),
			mcp.WithString("project",
				mcp.Description("Project name override"),
			),
		),
		s.handle("rotate_log", s.rotateLog),
	)

	// Session tools
	s.mcp.AddTool(
		mcp.NewTool("start_session",
			mcp.WithDescription("Start an agent session and grant a lease for project-context changes."),
			mcp.WithString("agent",
				mcp.Description("Agent display name"),
			),
			mcp.WithObject("metadata",
				mcp.Description("Free-form session metadata"),
			),
		),
		s.handle("start_session", s.startSession),
	)
	s.mcp.AddTool(
		mcp.NewTool("heartbeat_session",
			mcp.WithDescription("Refresh a session lease."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session to refresh"),
			),
		),
		s.handle("heartbeat_session", s.heartbeatSession),
	)
	s.mcp.AddTool(
		mcp.NewTool("end_session",
			mcp.WithDescription("End a session and release its lease."),
			mcp.WithString("session_id",
				mcp.Required(),
				mcp.Description("The session to end"),
			),
		),
		s.handle("end_session", s.endSession),
	)

	// Sentinel tools
	s.mcp.AddTool(
		mcp.NewTool("append_event",
			mcp.WithDescription("Record a cross-project sentinel event for the current UTC day."),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The event message"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent display name"),
			),
			mcp.WithObject("meta",
				mcp.Description("Key-value metadata"),
			),
		),
		s.handle("append_event", s.appendEvent),
	)
	s.mcp.AddTool(
		mcp.NewTool("open_bug",
			mcp.WithDescription("Open a bug case with a per-day monotonic BUG-YYYY-MM-DD-NNNN ID."),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The bug description"),
			),
			mcp.WithString("severity",
				mcp.Description("Severity label"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent display name"),
			),
			mcp.WithObject("meta",
				mcp.Description("Key-value metadata"),
			),
		),
		s.handle("open_bug", s.openBug),
	)
	s.mcp.AddTool(
		mcp.NewTool("open_security",
			mcp.WithDescription("Open a security case with a per-day monotonic SEC-YYYY-MM-DD-NNNN ID."),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("The finding description"),
			),
			mcp.WithString("severity",
				mcp.Description("Severity label"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent display name"),
			),
			mcp.WithObject("meta",
				mcp.Description("Key-value metadata"),
			),
		),
		s.handle("open_security", s.openSecurity),
	)
	s.mcp.AddTool(
		mcp.NewTool("link_fix",
			mcp.WithDescription("Link a fix to an existing bug or security case."),
			mcp.WithString("case_id",
				mcp.Required(),
				mcp.Description("The case being fixed, BUG-... or SEC-..."),
			),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("What the fix did"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent display name"),
			),
		),
		s.handle("link_fix", s.linkFix),
	)

	s.mcp.AddTool(
		mcp.NewTool("get_agent_events",
			mcp.WithDescription("List the audit trail of project switches, conflicts, and session lifecycle events."),
			mcp.WithString("agent",
				mcp.Description("Agent whose events to list; defaults to the calling agent"),
			),
			mcp.WithString("event_type",
				mcp.Description("Filter by event type, e.g. project_switched or conflict_detected"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum events to return (default 50)"),
			),
		),
		s.handle("get_agent_events", s.getAgentEvents),
	)

	// Maintenance tools
	s.mcp.AddTool(
		mcp.NewTool("reset_cooldowns",
			mcp.WithDescription("Clear reminder cooldowns for a project root and agent scope."),
			mcp.WithString("project_root",
				mcp.Description("Scope root; defaults to the repository root"),
			),
			mcp.WithString("agent",
				mcp.Description("Agent display name; defaults to the calling agent"),
			),
		),
		s.handle("reset_cooldowns", s.resetCooldowns),
	)
	s.mcp.AddTool(
		mcp.NewTool("health_check",
			mcp.WithDescription("Report server, storage, and repository diagnostics."),
		),
		s.handle("health_check", s.healthCheck),
	)
}

func (s *Server) setProject(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	name := h.String(args, "project")
	clear := h.Bool(args, "clear")
	agentID := ec.AgentID(h.String(args, "agent"))
	expected := h.Int64Ptr(args, "expected_version")

	var projectName *string
	switch {
	case clear:
	case name != "":
		projectName = &name
	default:
		return nil, scriberr.Validation("project", "project is required unless clear is set")
	}

	pointer, err := s.deps.Agents.SetCurrentProject(ctx, agentID, projectName, ec.SessionID, expected)
	if err != nil {
		return nil, err
	}

	if projectName == nil {
		s.deps.State.ClearSessionProject(ec.SessionID, agentID)
	} else if project, gerr := s.deps.Store.GetProject(ctx, *projectName); gerr == nil {
		s.deps.State.SetCurrentProject(ec.SessionID, agentID, state.ProjectConfig{
			Name:            project.Name,
			ProgressLogPath: project.ProgressLogPath,
			Status:          project.Status,
		})
	}

	fields := map[string]any{
		"version":    pointer.Version,
		"updated_at": pointer.UpdatedAt,
	}
	if pointer.ProjectName != nil {
		fields["project"] = *pointer.ProjectName
	}
	return withWarnings(fields, h.warnings), nil
}

func (s *Server) getProject(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	agentID := ec.AgentID(h.String(args, "agent"))

	pointer, err := s.deps.Agents.GetCurrentProject(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if pointer == nil || pointer.ProjectName == nil {
		return nil, s.noProjectError(ctx)
	}
	project, err := s.deps.Store.GetProject(ctx, *pointer.ProjectName)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{
		"project":           project.Name,
		"status":            project.Status,
		"repo_root":         project.RepoRoot,
		"progress_log_path": project.ProgressLogPath,
		"version":           pointer.Version,
		"updated_at":        pointer.UpdatedAt,
	}
	if project.Description != "" {
		fields["description"] = project.Description
	}
	if metrics, merr := s.deps.Store.GetMetrics(ctx, project.ID); merr == nil && metrics != nil {
		fields["metrics"] = map[string]any{
			"total_entries": metrics.TotalEntries,
			"success_count": metrics.SuccessCount,
			"warn_count":    metrics.WarnCount,
			"error_count":   metrics.ErrorCount,
		}
	}
	return withWarnings(fields, h.warnings), nil
}

func (s *Server) listProjects(ctx context.Context, _ *execctx.ExecutionContext, _ mcp.CallToolRequest) (map[string]any, error) {
	projects, err := s.deps.Store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		item := map[string]any{
			"name":       p.Name,
			"status":     p.Status,
			"created_at": p.CreatedAt,
		}
		if p.LastEntryAt != nil {
			item["last_entry_at"] = *p.LastEntryAt
		}
		if p.LastAccessAt != nil {
			item["last_access_at"] = *p.LastAccessAt
		}
		if metrics, merr := s.deps.Store.GetMetrics(ctx, p.ID); merr == nil && metrics != nil {
			item["total_entries"] = metrics.TotalEntries
		}
		item["docs"] = s.docStatus(p)
		out = append(out, item)
	}
	return map[string]any{"projects": out, "count": len(out)}, nil
}

func (s *Server) appendEntry(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	project, err := s.requireProject(ctx, ec, h.String(args, "project"))
	if err != nil {
		return nil, err
	}

	if items := h.Items(args); len(items) > 0 {
		if err := s.deps.Files.Permissions.Allow(sandbox.OpBulkEntries); err != nil {
			return nil, err
		}
		reqs := make([]logbook.AppendRequest, 0, len(items))
		for _, item := range items {
			ar, berr := s.buildAppendRequest(h, project, item)
			if berr != nil {
				return nil, berr
			}
			reqs = append(reqs, ar)
		}
		results, aerr := s.deps.Appender.AppendBulk(ctx, reqs)
		if aerr != nil {
			if se, ok := scriberr.As(aerr); ok {
				return nil, se.WithField("appended", len(results))
			}
			return nil, aerr
		}
		return withWarnings(map[string]any{
			"entries": results,
			"count":   len(results),
		}, h.warnings), nil
	}

	ar, err := s.buildAppendRequest(h, project, args)
	if err != nil {
		return nil, err
	}
	res, err := s.deps.Appender.Append(ctx, ar)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		"entry_id":  res.EntryID,
		"line":      res.Line,
		"timestamp": res.Timestamp,
		"inserted":  res.Inserted,
	}
	if res.TeedTo != "" {
		fields["teed_to"] = res.TeedTo
	}
	if len(res.Warnings) > 0 {
		fields["warnings"] = res.Warnings
	}
	return withWarnings(fields, h.warnings), nil
}

func (s *Server) buildAppendRequest(h *healer, project *storage.Project, m map[string]any) (logbook.AppendRequest, error) {
	ts, err := h.Timestamp(m, "timestamp")
	if err != nil {
		return logbook.AppendRequest{}, err
	}
	stream := h.String(m, "log_type")
	if stream == "" {
		stream = h.String(m, "stream")
	}
	return logbook.AppendRequest{
		Project:    project,
		Message:    h.String(m, "message"),
		Status:     h.String(m, "status"),
		Agent:      h.String(m, "agent"),
		Meta:       h.StringMap(m, "meta"),
		Stream:     stream,
		Priority:   h.String(m, "priority"),
		Category:   h.String(m, "category"),
		Tags:       joinTags(m["tags"]),
		Confidence: h.FloatPtr(m, "confidence"),
		Timestamp:  ts,
	}, nil
}

func (s *Server) readRecent(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	project, err := s.requireProject(ctx, ec, h.String(args, "project"))
	if err != nil {
		return nil, err
	}
	n := h.Int(args, "n", 10)
	agentFilter := h.String(args, "agent")

	// Over-read when filtering so n matching entries can still be returned.
	readN := n
	if agentFilter != "" {
		readN = n * 4
	}
	lines, err := s.deps.Appender.ReadRecent(ctx, project, readN)
	if err != nil {
		return nil, err
	}

	entries := make([]map[string]any, 0, n)
	for _, line := range lines {
		item := map[string]any{"raw_line": line}
		if parsed, perr := logbook.ParseLine(line); perr == nil {
			if agentFilter != "" && parsed.Agent != agentFilter {
				continue
			}
			item["entry_id"] = parsed.ID
			item["timestamp"] = parsed.Timestamp.Format(logbook.TimestampLayout)
			item["agent"] = parsed.Agent
			item["message"] = parsed.Message
			if len(parsed.Meta) > 0 {
				item["meta"] = parsed.Meta
			}
		} else if agentFilter != "" {
			continue
		}
		entries = append(entries, item)
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return withWarnings(map[string]any{
		"entries": entries,
		"count":   len(entries),
	}, h.warnings), nil
}

func (s *Server) queryEntries(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	project, err := s.requireProject(ctx, ec, h.String(args, "project"))
	if err != nil {
		return nil, err
	}
	since, err := h.Timestamp(args, "since")
	if err != nil {
		return nil, err
	}
	until, err := h.Timestamp(args, "until")
	if err != nil {
		return nil, err
	}

	format := h.String(args, "format")
	filter := storage.EntryFilter{
		ProjectID:    project.ID,
		Priority:     h.String(args, "priority"),
		Category:     h.String(args, "category"),
		Agent:        h.String(args, "agent"),
		MessageLike:  h.String(args, "contains"),
		Since:        since,
		Until:        until,
		Limit:        entryLimit(format, h.Int(args, "limit", 0)),
		Offset:       h.Int(args, "offset", 0),
		PrioritySort: h.Bool(args, "priority_sort"),
	}
	if mc := h.FloatPtr(args, "min_confidence"); mc != nil {
		filter.MinConfidence = *mc
	}

	entries, err := s.deps.Store.QueryEntries(ctx, filter)
	if err != nil {
		return nil, err
	}
	return withWarnings(map[string]any{
		"entries": formatEntries(format, entries),
		"count":   len(entries),
		"format":  normalizedFormat(format),
	}, h.warnings), nil
}

func normalizedFormat(format string) string {
	if _, ok := entryLimits[format]; ok {
		return format
	}
	return "structured"
}

// formatEntries shapes the entry list per response format: compact is raw
// lines only, summary trims to the headline fields, everything else returns
// the structured record.
func formatEntries(format string, entries []*storage.LogEntry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		switch normalizedFormat(format) {
		case "compact":
			out = append(out, e.RawLine)
		case "summary", "readable":
			out = append(out, map[string]any{
				"timestamp": e.Timestamp.Format(logbook.TimestampLayout),
				"emoji":     e.Emoji,
				"agent":     e.Agent,
				"message":   e.Message,
			})
		default:
			item := map[string]any{
				"entry_id":   e.ID,
				"timestamp":  e.Timestamp.Format(logbook.TimestampLayout),
				"emoji":      e.Emoji,
				"agent":      e.Agent,
				"message":    e.Message,
				"raw_line":   e.RawLine,
				"priority":   e.Priority,
				"confidence": e.Confidence,
			}
			if e.Category != "" {
				item["category"] = e.Category
			}
			if len(e.Meta) > 0 {
				item["meta"] = e.Meta
			}
			out = append(out, item)
		}
	}
	return out
}

func (s *Server) manageDocs(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	project, err := s.requireProject(ctx, ec, h.String(args, "project"))
	if err != nil {
		return nil, err
	}

	docReq := docs.Request{
		Project:         project,
		Action:          h.String(args, "action"),
		DocName:         h.String(args, "doc"),
		DryRun:          h.Bool(args, "dry_run"),
		Agent:           ec.AgentKey(h.String(args, "agent")),
		Meta:            h.StringMap(args, "meta"),
		SectionID:       h.String(args, "section_id"),
		Content:         h.String(args, "content"),
		Template:        h.String(args, "template"),
		TargetDir:       h.String(args, "target_dir"),
		PatchText:       h.String(args, "patch"),
		PatchMode:       h.String(args, "patch_mode"),
		StartLine:       h.Int(args, "start_line", 0),
		EndLine:         h.Int(args, "end_line", 0),
		PatchSourceHash: h.String(args, "patch_source_hash"),
		CheckAnchors:    h.Bool(args, "check_anchors"),
		Text:            h.String(args, "text"),
		CaseSensitive:   h.Bool(args, "case_sensitive"),
		RequireMatch:    h.Bool(args, "require_match"),
	}
	if docReq.DocName == "" {
		docReq.DocName = h.String(args, "doc_name")
	}
	if fm, ok := args["frontmatter"].(map[string]any); ok {
		docReq.Frontmatter = fm
	}
	if raw, ok := args["edit"].(map[string]any); ok {
		edit := docs.StructuredEdit{
			Type:      h.String(raw, "type"),
			StartLine: h.Int(raw, "start_line", 0),
			EndLine:   h.Int(raw, "end_line", 0),
			Anchor:    h.String(raw, "anchor"),
			Content:   h.String(raw, "content"),
		}
		docReq.Edit = &edit
	}

	res, err := s.deps.Docs.Apply(ctx, docReq)
	if err != nil {
		return nil, err
	}
	return withWarnings(asFields(res), h.warnings), nil
}

func (s *Server) generateDocTemplates(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	project, err := s.requireProject(ctx, ec, h.String(args, "project"))
	if err != nil {
		return nil, err
	}
	results, err := s.deps.Docs.Scaffold(ctx, project, s.deps.Cfg.Repo.CustomTemplatesDir)
	if err != nil {
		return nil, err
	}
	created := 0
	for _, r := range results {
		if r.Created {
			created++
		}
	}
	return withWarnings(map[string]any{
		"templates": results,
		"created":   created,
	}, h.warnings), nil
}

func (s *Server) rotateLog(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	project, err := s.requireProject(ctx, ec, h.String(args, "project"))
	if err != nil {
		return nil, err
	}
	checked, err := s.deps.Files.SafeFileOperation(project.ProgressLogPath, sandbox.OpRotate)
	if err != nil {
		return nil, err
	}
	if _, serr := os.Stat(checked); serr != nil {
		return nil, scriberr.NotFound("progress log", project.ProgressLogPath).
			WithSuggestion("append at least one entry before rotating")
	}

	archiveDir := filepath.Join(filepath.Dir(checked), "archives")
	priorHash := latestArchiveHash(archiveDir, filepath.Base(checked))
	res, err := fileio.Rotate(ctx, checked, archiveDir, priorHash, fileio.DefaultLockBudget)
	if err != nil {
		return nil, err
	}
	return withWarnings(map[string]any{
		"archive_path": res.ArchivePath,
		"archive_hash": res.ArchiveHash,
		"prior_hash":   res.PriorHash,
		"bytes":        res.Bytes,
	}, h.warnings), nil
}

// latestArchiveHash hashes the newest existing archive of base so the next
// rotation header links to it. The timestamped names sort chronologically.
func latestArchiveHash(archiveDir, base string) string {
	entries, err := os.ReadDir(archiveDir)
	if err != nil {
		return ""
	}
	var archives []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ".archive") {
			archives = append(archives, name)
		}
	}
	if len(archives) == 0 {
		return ""
	}
	sort.Strings(archives)
	content, err := os.ReadFile(filepath.Join(archiveDir, archives[len(archives)-1]))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (s *Server) startSession(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	agentID := ec.AgentID(h.String(args, "agent"))
	sessionID, err := s.deps.Agents.StartSession(ctx, agentID, h.StringMap(args, "metadata"))
	if err != nil {
		return nil, err
	}
	return withWarnings(map[string]any{
		"session_id": sessionID,
		"agent_id":   agentID,
	}, h.warnings), nil
}

func (s *Server) heartbeatSession(ctx context.Context, _ *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return nil, scriberr.Validation("session_id", "session_id is required")
	}
	if err := s.deps.Agents.HeartbeatSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return map[string]any{"session_id": sessionID}, nil
}

func (s *Server) endSession(ctx context.Context, _ *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return nil, scriberr.Validation("session_id", "session_id is required")
	}
	if err := s.deps.Agents.EndSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return map[string]any{"session_id": sessionID, "ended": true}, nil
}

func (s *Server) appendEvent(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	message := h.String(args, "message")
	if message == "" {
		return nil, scriberr.Validation("message", "message is required")
	}
	ev, err := s.deps.Sentinel.AppendEvent(ctx, ec.AgentKey(h.String(args, "agent")), message, h.StringMap(args, "meta"))
	if err != nil {
		return nil, err
	}
	return withWarnings(asFields(ev), h.warnings), nil
}

func (s *Server) openBug(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	return s.openCase(ctx, ec, req, s.deps.Sentinel.OpenBug)
}

func (s *Server) openSecurity(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	return s.openCase(ctx, ec, req, s.deps.Sentinel.OpenSecurity)
}

func (s *Server) openCase(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest,
	open func(context.Context, string, string, string, map[string]string) (*sentinel.Event, error)) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	message := h.String(args, "message")
	if message == "" {
		return nil, scriberr.Validation("message", "message is required")
	}
	ev, err := open(ctx, ec.AgentKey(h.String(args, "agent")), message,
		h.String(args, "severity"), h.StringMap(args, "meta"))
	if err != nil {
		return nil, err
	}
	return withWarnings(asFields(ev), h.warnings), nil
}

func (s *Server) linkFix(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	caseID := h.String(args, "case_id")
	message := h.String(args, "message")
	if caseID == "" || message == "" {
		return nil, scriberr.Validation("case_id", "case_id and message are required")
	}
	ev, err := s.deps.Sentinel.LinkFix(ctx, ec.AgentKey(h.String(args, "agent")), caseID, message)
	if err != nil {
		return nil, err
	}
	return withWarnings(asFields(ev), h.warnings), nil
}

func (s *Server) getAgentEvents(ctx context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	agentID := ec.AgentID(h.String(args, "agent"))
	events, err := s.deps.Agents.GetAgentEvents(ctx, agentID, h.String(args, "event_type"), h.Int(args, "limit", 50))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		item := map[string]any{
			"event_type": ev.EventType,
			"agent_id":   ev.AgentID,
			"success":    ev.Success,
			"created_at": ev.CreatedAt,
		}
		if ev.FromProject != nil {
			item["from_project"] = *ev.FromProject
		}
		if ev.ToProject != nil {
			item["to_project"] = *ev.ToProject
		}
		if ev.VersionInfo != "" {
			item["version_info"] = ev.VersionInfo
		}
		if len(ev.Context) > 0 {
			item["context"] = ev.Context
		}
		out = append(out, item)
	}
	return withWarnings(map[string]any{"events": out, "count": len(out)}, h.warnings), nil
}

func (s *Server) resetCooldowns(_ context.Context, ec *execctx.ExecutionContext, req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	h := &healer{}
	root := h.String(args, "project_root")
	if root == "" {
		root = s.repoRoot()
	}
	agentID := ec.AgentID(h.String(args, "agent"))
	cleared := s.deps.Reminders.ResetCooldowns(root, agentID)
	s.deps.Reminders.Persist()
	return withWarnings(map[string]any{
		"cleared":      cleared,
		"project_root": root,
	}, h.warnings), nil
}

func (s *Server) healthCheck(ctx context.Context, _ *execctx.ExecutionContext, _ mcp.CallToolRequest) (map[string]any, error) {
	storageStatus := "ok"
	if err := s.deps.Store.Ping(ctx); err != nil {
		storageStatus = "unreachable: " + err.Error()
	}
	projectCount := 0
	if projects, err := s.deps.Store.ListProjects(ctx); err == nil {
		projectCount = len(projects)
	}
	statePath := s.deps.State.Path()
	stateStatus := "ok"
	if _, err := os.Stat(statePath); err != nil {
		stateStatus = "not yet written"
	}
	return map[string]any{
		"server":    s.deps.Cfg.Server.Name,
		"repo_root": s.repoRoot(),
		"storage": map[string]any{
			"backend": s.deps.Cfg.Storage.Backend,
			"status":  storageStatus,
		},
		"state_file": map[string]any{
			"path":   statePath,
			"status": stateStatus,
		},
		"reminders": map[string]any{
			"active_cooldowns": s.deps.Reminders.CacheSize(),
		},
		"lock_budget_ms": fileio.DefaultLockBudget.Milliseconds(),
		"projects": projectCount,
		"permissions": map[string]any{
			"allow_rotate":        s.deps.Files.Permissions.AllowRotate,
			"allow_generate_docs": s.deps.Files.Permissions.AllowGenerateDocs,
			"allow_bulk_entries":  s.deps.Files.Permissions.AllowBulkEntries,
			"require_project":     s.deps.Files.Permissions.RequireProject,
		},
	}, nil
}

// joinTags accepts a comma-joined string or a list of strings.
func joinTags(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// withWarnings attaches parameter-healing warnings to a success response.
// Operational warnings (tee skips, plugin failures) travel under "warnings";
// this key is reserved for coerced or dropped arguments.
func withWarnings(fields map[string]any, warnings []string) map[string]any {
	if len(warnings) > 0 {
		fields["validation_warnings"] = warnings
	}
	return fields
}

// asFields flattens a struct through its JSON form into envelope fields.
func asFields(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}
