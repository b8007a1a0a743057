package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/agentctx"
	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/execctx"
	"github.com/scribe-dev/scribe/internal/reminder"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/state"
	"github.com/scribe-dev/scribe/internal/storage"
)

func newEnvelopeServer(t *testing.T) *Server {
	t.Helper()
	log := logger.Default()
	dir := t.TempDir()
	store, err := storage.Open(config.StorageConfig{
		Backend: "embedded",
		DBPath:  filepath.Join(dir, "scribe.db"),
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &Server{deps: Deps{
		Log:   log,
		Store: store,
		State: state.Open("", log),
		Agents: agentctx.NewService(agentctx.Config{
			Store:           store,
			Logger:          log,
			RepoRoot:        dir,
			DevPlansDir:     "dev_plans",
			ProgressLogName: "PROGRESS_LOG.md",
		}),
		Reminders: reminder.NewEngine(reminder.EngineConfig{
			Store:  store,
			Cache:  reminder.NewCache("", log),
			Logger: log,
		}),
		RepoRoot: dir,
	}}
}

func decodeEnvelope(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &envelope))
	return envelope
}

func TestRespondSuccessEnvelope(t *testing.T) {
	s := newEnvelopeServer(t)

	res := s.respond(context.Background(), "get_project", nil,
		map[string]any{"project": "alpha"}, nil)
	envelope := decodeEnvelope(t, res)

	assert.Equal(t, true, envelope["ok"])
	assert.Equal(t, "alpha", envelope["project"])
	assert.NotContains(t, envelope, "error")
}

func TestRespondStructuredError(t *testing.T) {
	s := newEnvelopeServer(t)

	err := scriberr.NewCode(scriberr.KindNotFound, scriberr.CodeNoProjectConfigured,
		"no project is configured for this agent").
		WithSuggestion("call set_project first").
		WithField("recent_project", "alpha")
	res := s.respond(context.Background(), "append_entry", nil, nil, err)
	envelope := decodeEnvelope(t, res)

	assert.Equal(t, false, envelope["ok"])
	assert.Equal(t, "no project is configured for this agent", envelope["error"])
	assert.Equal(t, string(scriberr.KindNotFound), envelope["kind"])
	assert.Equal(t, scriberr.CodeNoProjectConfigured, envelope["code"])
	assert.Equal(t, "call set_project first", envelope["suggestion"])
	assert.Equal(t, "alpha", envelope["recent_project"])
}

func TestRespondInternalErrorIsOpaque(t *testing.T) {
	s := newEnvelopeServer(t)
	ec := &execctx.ExecutionContext{ExecutionID: "exec-123", SessionID: "sess-1"}

	res := s.respond(context.Background(), "rotate_log", ec, nil,
		errors.New("disk exploded at /var/lib/secret"))
	envelope := decodeEnvelope(t, res)

	assert.Equal(t, false, envelope["ok"])
	assert.Equal(t, "internal error", envelope["error"])
	assert.Equal(t, "exec-123", envelope["correlation_id"])
	assert.NotContains(t, envelope["error"], "secret")
}

func TestRespondCarriesRecentProjects(t *testing.T) {
	s := newEnvelopeServer(t)
	s.deps.State.SetCurrentProject("sess-1", "agent-1", state.ProjectConfig{Name: "alpha"})
	s.deps.State.SetCurrentProject("sess-1", "agent-1", state.ProjectConfig{Name: "beta"})

	res := s.respond(context.Background(), "get_project", nil,
		map[string]any{"project": "beta"}, nil)
	envelope := decodeEnvelope(t, res)

	recent, ok := envelope["recent_projects"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"beta", "alpha"}, recent)
}
