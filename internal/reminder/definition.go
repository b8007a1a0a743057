// Package reminder ranks and emits short coaching messages attached to tool
// responses, with per-session cooldowns, a teaching cap, and a failure
// bypass so guidance lands when an operation just failed.
package reminder

import (
	"fmt"
	"strings"
	"time"
)

// Reminder levels in ascending urgency.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelUrgent  = "urgent"
)

// Categories used for selection weighting. Teaching reminders are capped
// per session.
const (
	CategoryTeaching = "teaching"
	CategoryHygiene  = "hygiene"
	CategoryUrgency  = "urgency"
	CategoryWorkflow = "workflow"
)

var levelRank = map[string]int{LevelUrgent: 3, LevelWarning: 2, LevelInfo: 1}

var categoryWeight = map[string]int{
	CategoryUrgency:  4,
	CategoryHygiene:  3,
	CategoryWorkflow: 2,
	CategoryTeaching: 1,
}

// Definition describes one reminder.
type Definition struct {
	Key             string
	Level           string
	Template        string
	Category        string
	Score           int
	CooldownMinutes int
	Variables       []string

	// Applies decides whether the reminder is a candidate for this call.
	Applies func(*Context) bool
}

// Context is the information assembled before reminder selection.
type Context struct {
	ToolName          string
	ProjectName       string
	ProjectRoot       string
	AgentID           string
	SessionID         string
	TotalEntries      int64
	MinutesSinceLog   float64
	LastLogTime       *time.Time
	DocStatus         map[string]string // name -> missing|incomplete|complete
	ChangedDocs       []string
	CurrentPhase      string
	SessionAgeMinutes float64
	OperationStatus   string // success|failure|neutral
	Variables         map[string]string
}

// TemplateVariables builds the substitution map for a context, including
// the time variables injected into every template.
func (c *Context) TemplateVariables(now time.Time) map[string]string {
	vars := map[string]string{
		"tool_name":         c.ToolName,
		"project_name":      c.ProjectName,
		"project_root":      c.ProjectRoot,
		"current_phase":     c.CurrentPhase,
		"total_entries":     fmt.Sprintf("%d", c.TotalEntries),
		"minutes_since_log": fmt.Sprintf("%.0f", c.MinutesSinceLog),
		"now_utc":           now.UTC().Format("2006-01-02 15:04:05 UTC"),
		"now_iso_utc":       now.UTC().Format(time.RFC3339),
		"date_utc":          now.UTC().Format("2006-01-02"),
		"time_utc":          now.UTC().Format("15:04:05"),
	}
	for k, v := range c.Variables {
		vars[k] = v
	}
	return vars
}

// Render substitutes {variable} placeholders in the template.
func (d *Definition) Render(c *Context, now time.Time) string {
	out := d.Template
	for k, v := range c.TemplateVariables(now) {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

// Builtins returns the standard reminder set.
func Builtins() []*Definition {
	return []*Definition{
		{
			Key:             "logging.stale_log",
			Level:           LevelWarning,
			Category:        CategoryHygiene,
			Score:           70,
			CooldownMinutes: 10,
			Template:        "No log entry for {minutes_since_log} minutes; append a progress entry before moving on.",
			Applies: func(c *Context) bool {
				return c.ProjectName != "" && c.TotalEntries > 0 && c.MinutesSinceLog >= 30
			},
		},
		{
			Key:             "logging.first_entry",
			Level:           LevelInfo,
			Category:        CategoryTeaching,
			Score:           40,
			CooldownMinutes: 60,
			Template:        "Project {project_name} has no log entries yet; record your starting plan with append_entry.",
			Applies: func(c *Context) bool {
				return c.ProjectName != "" && c.TotalEntries == 0 && c.ToolName != "append_entry"
			},
		},
		{
			Key:             "docs.missing_architecture",
			Level:           LevelInfo,
			Category:        CategoryTeaching,
			Score:           30,
			CooldownMinutes: 120,
			Template:        "Project {project_name} has no architecture doc; generate_doc_templates scaffolds one.",
			Applies: func(c *Context) bool {
				return c.ProjectName != "" && c.DocStatus["architecture"] == "missing"
			},
		},
		{
			Key:             "docs.incomplete_checklist",
			Level:           LevelInfo,
			Category:        CategoryWorkflow,
			Score:           35,
			CooldownMinutes: 60,
			Template:        "The checklist for {project_name} has unchecked items; review it before finishing.",
			Applies: func(c *Context) bool {
				return c.ProjectName != "" && c.DocStatus["checklist"] == "incomplete"
			},
		},
		{
			Key:             "session.long_session",
			Level:           LevelWarning,
			Category:        CategoryHygiene,
			Score:           50,
			CooldownMinutes: 60,
			Template:        "This session has run for {minutes_since_log}+ minutes of silence; consider a checkpoint entry.",
			Applies: func(c *Context) bool {
				return c.SessionAgeMinutes >= 120 && c.MinutesSinceLog >= 60
			},
		},
		{
			Key:             "project.none_configured",
			Level:           LevelUrgent,
			Category:        CategoryUrgency,
			Score:           90,
			CooldownMinutes: 5,
			Template:        "No current project is set; call set_project before logging.",
			Applies: func(c *Context) bool {
				return c.ProjectName == "" && c.ToolName != "set_project" && c.ToolName != "list_projects"
			},
		},
		{
			Key:             "logging.failure_followup",
			Level:           LevelWarning,
			Category:        CategoryWorkflow,
			Score:           60,
			CooldownMinutes: 15,
			Template:        "The last {tool_name} call failed; log the failure and its cause so the next agent sees it.",
			Applies: func(c *Context) bool {
				return c.OperationStatus == "failure" && c.ToolName != "append_entry"
			},
		},
	}
}
