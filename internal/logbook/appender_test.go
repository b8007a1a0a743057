package logbook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/plugin"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/storage"
)

func newTestAppender(t *testing.T) (*Appender, *storage.SQLStore, *storage.Project, string) {
	t.Helper()
	root := t.TempDir()

	store, err := storage.Open(config.StorageConfig{
		Backend: "embedded",
		DBPath:  filepath.Join(root, ".scribe", "scribe.db"),
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	projectDir := filepath.Join(root, "dev_plans", "demo")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	project := &storage.Project{
		Name:            "demo",
		RepoRoot:        root,
		ProgressLogPath: filepath.Join(projectDir, "AI_PROGRESS_LOG.md"),
		Status:          storage.ProjectInProgress,
	}
	require.NoError(t, store.CreateProject(context.Background(), project))

	sb, err := sandbox.New(root, sandbox.Options{})
	require.NoError(t, err)

	app := NewAppender(AppenderConfig{
		Store:    store,
		Files:    &sandbox.Checker{Sandbox: sb},
		Logger:   logger.Default(),
		RepoSlug: "demo",
		Now: func() time.Time {
			return time.Date(2025, 12, 17, 2, 38, 42, 0, time.UTC)
		},
	})
	return app, store, project, root
}

func TestAppendWritesFileAndRow(t *testing.T) {
	app, store, project, _ := newTestAppender(t)
	ctx := context.Background()

	res, err := app.Append(ctx, AppendRequest{
		Project: project,
		Message: "Smoke test",
		Status:  "success",
		Agent:   "Codex",
		Meta:    map[string]string{"foo": "bar"},
	})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Len(t, res.EntryID, 32)
	assert.Contains(t, res.Line, "[Agent: Codex]")
	assert.Contains(t, res.Line, "[Project: demo]")
	assert.Contains(t, res.Line, "foo=bar")

	data, err := os.ReadFile(project.ProgressLogPath)
	require.NoError(t, err)
	assert.Equal(t, res.Line+"\n", string(data))

	count, err := store.CountEntries(ctx, project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestAppendReplayIsIdempotent(t *testing.T) {
	app, store, project, _ := newTestAppender(t)
	ctx := context.Background()
	req := AppendRequest{Project: project, Message: "replayed", Status: "info", Agent: "Codex"}

	first, err := app.Append(ctx, req)
	require.NoError(t, err)
	second, err := app.Append(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.EntryID, second.EntryID)
	assert.True(t, first.Inserted)
	assert.False(t, second.Inserted, "replay with the same ID must not insert a second row")

	count, err := store.CountEntries(ctx, project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	metrics, err := store.GetMetrics(ctx, project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, metrics.TotalEntries)
}

func TestAppendTeesStreamWithCompleteMetadata(t *testing.T) {
	app, _, project, _ := newTestAppender(t)
	ctx := context.Background()

	res, err := app.Append(ctx, AppendRequest{
		Project: project,
		Message: "tightened header validation",
		Status:  "warn",
		Agent:   "Claude",
		Stream:  StreamSecurity,
		Meta:    map[string]string{"severity": "medium", "area": "http", "impact": "low"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SECURITY_LOG.md", res.TeedTo)
	assert.Empty(t, res.Warnings)

	teed, err := os.ReadFile(filepath.Join(filepath.Dir(project.ProgressLogPath), "SECURITY_LOG.md"))
	require.NoError(t, err)
	assert.Contains(t, string(teed), "tightened header validation")
}

func TestAppendSkipsTeeOnMissingMetadata(t *testing.T) {
	app, _, project, _ := newTestAppender(t)
	ctx := context.Background()

	res, err := app.Append(ctx, AppendRequest{
		Project: project,
		Message: "incomplete security note",
		Status:  "warn",
		Agent:   "Claude",
		Stream:  StreamSecurity,
		Meta:    map[string]string{"severity": "medium"},
	})
	require.NoError(t, err)
	assert.Empty(t, res.TeedTo)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Missing metadata for log entry:")
	assert.Contains(t, res.Warnings[0], "area")
	assert.Contains(t, res.Warnings[0], "impact")
	assert.Contains(t, res.Warnings[0], "security tee skipped")

	_, err = os.Stat(filepath.Join(filepath.Dir(project.ProgressLogPath), "SECURITY_LOG.md"))
	assert.True(t, os.IsNotExist(err), "entry must land in progress only")

	data, err := os.ReadFile(project.ProgressLogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "incomplete security note")
}

func TestAppendBulkStaggersTimestamps(t *testing.T) {
	app, _, project, _ := newTestAppender(t)
	ctx := context.Background()

	results, err := app.AppendBulk(ctx, []AppendRequest{
		{Project: project, Message: "step one", Status: "info", Agent: "Codex"},
		{Project: project, Message: "step two", Status: "info", Agent: "Codex"},
		{Project: project, Message: "step three", Status: "info", Agent: "Codex"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "2025-12-17 02:38:42 UTC", results[0].Timestamp)
	assert.Equal(t, "2025-12-17 02:38:43 UTC", results[1].Timestamp)
	assert.Equal(t, "2025-12-17 02:38:44 UTC", results[2].Timestamp)

	seen := map[string]bool{}
	for _, r := range results {
		assert.False(t, seen[r.EntryID])
		seen[r.EntryID] = true
	}
}

func TestAppendRejectsPathOutsideSandbox(t *testing.T) {
	app, _, project, _ := newTestAppender(t)
	escaped := *project
	escaped.ProgressLogPath = "/etc/passwd"

	_, err := app.Append(context.Background(), AppendRequest{
		Project: &escaped,
		Message: "nope",
		Status:  "info",
	})
	require.Error(t, err)
	assert.Equal(t, scriberr.KindSecurityViolation, scriberr.KindOf(err))
}

type recordingPlugin struct {
	name    string
	fail    bool
	entries []*storage.LogEntry
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) PostAppend(_ context.Context, e *storage.LogEntry) error {
	if p.fail {
		return errors.New("index unavailable")
	}
	p.entries = append(p.entries, e)
	return nil
}

func (p *recordingPlugin) PostDocChange(context.Context, *storage.DocumentChange) error { return nil }

func TestAppendNotifiesPlugins(t *testing.T) {
	app, _, project, _ := newTestAppender(t)
	indexer := &recordingPlugin{name: "indexer"}
	webhook := &recordingPlugin{name: "webhook", fail: true}
	registry := plugin.NewRegistry(logger.Default(), time.Second)
	registry.Register(indexer)
	registry.Register(webhook)
	app.plugins = registry

	req := AppendRequest{Project: project, Message: "indexed entry", Status: "info", Agent: "Codex"}
	res, err := app.Append(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, indexer.entries, 1)
	assert.Equal(t, res.EntryID, indexer.entries[0].ID)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "webhook")

	// Replays insert nothing and are not re-announced.
	replay, err := app.Append(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, replay.Inserted)
	assert.Empty(t, replay.Warnings)
	assert.Len(t, indexer.entries, 1)
}

func TestReadRecent(t *testing.T) {
	app, _, project, _ := newTestAppender(t)
	ctx := context.Background()

	for i, msg := range []string{"alpha", "beta", "gamma", "delta"} {
		ts := time.Date(2025, 12, 17, 2, 38, 42+i, 0, time.UTC)
		_, err := app.Append(ctx, AppendRequest{
			Project: project, Message: msg, Status: "info", Agent: "Codex", Timestamp: &ts,
		})
		require.NoError(t, err)
	}

	lines, err := app.ReadRecent(ctx, project, 2)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.True(t, strings.Contains(lines[0], "gamma"))
	assert.True(t, strings.Contains(lines[1], "delta"))
}
