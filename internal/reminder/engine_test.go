package reminder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/storage"
)

func newTestEngine(t *testing.T, defs []*Definition, now *time.Time) (*Engine, *storage.SQLStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Open(config.StorageConfig{
		Backend: "embedded",
		DBPath:  filepath.Join(root, "scribe.db"),
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sessionID := "11111111-1111-1111-1111-111111111111"
	require.NoError(t, store.CreateSession(context.Background(), &storage.AgentSession{
		SessionID:          sessionID,
		TransportSessionID: sessionID,
		Status:             storage.SessionActive,
	}))

	engine := NewEngine(EngineConfig{
		Store:              store,
		Cache:              NewCache(filepath.Join(root, "reminder_cache.json"), logger.Default()),
		Logger:             logger.Default(),
		Definitions:        defs,
		TeachingSessionCap: 2,
		SessionAwareHashes: true,
		Now: func() time.Time {
			if now != nil {
				return *now
			}
			return time.Now()
		},
	})
	return engine, store, sessionID
}

func alwaysDef(key, level, category string, cooldownMinutes int) *Definition {
	return &Definition{
		Key:             key,
		Level:           level,
		Category:        category,
		Score:           50,
		CooldownMinutes: cooldownMinutes,
		Template:        "reminder " + key,
		Applies:         func(*Context) bool { return true },
	}
}

func TestCooldownSuppressesWithinWindow(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	engine, _, sessionID := newTestEngine(t, []*Definition{alwaysDef("logging.stale_log", LevelWarning, CategoryHygiene, 10)}, &now)
	rc := &Context{
		ToolName: "append_entry", ProjectRoot: "/repo", AgentID: "agent-a",
		SessionID: sessionID, OperationStatus: storage.StatusSuccess,
	}

	first := engine.Evaluate(context.Background(), rc)
	require.Len(t, first, 1)

	now = now.Add(5 * time.Minute)
	second := engine.Evaluate(context.Background(), rc)
	assert.Empty(t, second, "within cooldown the reminder is suppressed")

	now = now.Add(6 * time.Minute)
	third := engine.Evaluate(context.Background(), rc)
	assert.Len(t, third, 1, "after the cooldown elapses it shows again")
}

func TestFailureBypassesCooldown(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	engine, store, sessionID := newTestEngine(t, []*Definition{alwaysDef("logging.stale_log", LevelWarning, CategoryHygiene, 10)}, &now)
	rc := &Context{
		ToolName: "append_entry", ProjectRoot: "/repo", AgentID: "agent-a",
		SessionID: sessionID, OperationStatus: storage.StatusSuccess,
	}

	require.Len(t, engine.Evaluate(context.Background(), rc), 1)

	now = now.Add(5 * time.Minute)
	rc.OperationStatus = storage.StatusFailure
	shown := engine.Evaluate(context.Background(), rc)
	require.Len(t, shown, 1, "failures bypass the cooldown")

	hash := Hash("/repo", "agent-a", "append_entry", "logging.stale_log", sessionID, true)
	row, err := store.LastShown(context.Background(), sessionID, hash)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, storage.StatusFailure, row.OperationStatus)
}

func TestTeachingCapSuppresses(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	engine, _, sessionID := newTestEngine(t, []*Definition{alwaysDef("docs.intro", LevelInfo, CategoryTeaching, 0)}, &now)
	rc := &Context{
		ToolName: "get_project", ProjectRoot: "/repo", AgentID: "agent-a",
		SessionID: sessionID, OperationStatus: storage.StatusSuccess,
	}

	for i := 0; i < 2; i++ {
		shown := engine.Evaluate(context.Background(), rc)
		require.Len(t, shown, 1)
		now = now.Add(time.Minute)
	}
	assert.Empty(t, engine.Evaluate(context.Background(), rc),
		"teaching reminders stop at the per-session cap")

	rc.OperationStatus = storage.StatusFailure
	assert.Len(t, engine.Evaluate(context.Background(), rc), 1,
		"failure bypasses the teaching cap")
}

func TestSelectionOrderAndTruncation(t *testing.T) {
	defs := []*Definition{
		alwaysDef("a.info", LevelInfo, CategoryTeaching, 0),
		alwaysDef("b.urgent", LevelUrgent, CategoryUrgency, 0),
		alwaysDef("c.warning", LevelWarning, CategoryHygiene, 0),
		alwaysDef("d.warning_hi", LevelWarning, CategoryHygiene, 0),
		alwaysDef("e.info", LevelInfo, CategoryHygiene, 0),
		alwaysDef("f.info", LevelInfo, CategoryWorkflow, 0),
	}
	defs[3].Score = 90
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	engine, _, sessionID := newTestEngine(t, defs, &now)
	engine.maxPerResponse = 5

	shown := engine.Evaluate(context.Background(), &Context{
		ToolName: "get_project", ProjectRoot: "/repo", AgentID: "agent-a",
		SessionID: sessionID, OperationStatus: storage.StatusSuccess,
	})
	require.Len(t, shown, 5, "truncated to max per response")
	assert.Equal(t, "b.urgent", shown[0].Key)
	assert.Equal(t, "d.warning_hi", shown[1].Key, "higher score wins within a level")
	assert.Equal(t, "c.warning", shown[2].Key)
	assert.Equal(t, "e.info", shown[3].Key, "category weight breaks the tie")
	assert.Equal(t, "f.info", shown[4].Key)
}

func TestHashSessionAwareness(t *testing.T) {
	with := Hash("/repo", "a", "tool", "key", "s1", true)
	without := Hash("/repo", "a", "tool", "key", "s1", false)
	otherSession := Hash("/repo", "a", "tool", "key", "s2", true)
	assert.NotEqual(t, with, without)
	assert.NotEqual(t, with, otherSession)
	assert.Equal(t, without, Hash("/repo", "a", "tool", "key", "s2", false))
	assert.Len(t, with, 64)
}

func TestResetCooldowns(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	engine, _, sessionID := newTestEngine(t, []*Definition{alwaysDef("x.y", LevelInfo, CategoryHygiene, 60)}, &now)
	rc := &Context{
		ToolName: "get_project", ProjectRoot: "/repo", AgentID: "agent-a",
		SessionID: sessionID, OperationStatus: storage.StatusSuccess,
	}

	require.Len(t, engine.Evaluate(context.Background(), rc), 1)
	assert.Empty(t, engine.Evaluate(context.Background(), rc))

	assert.Equal(t, 0, engine.ResetCooldowns("/other", ""))
	assert.Equal(t, 1, engine.ResetCooldowns("/repo", "agent-a"))
	assert.Len(t, engine.Evaluate(context.Background(), rc), 1)
}

func TestCachePersistAndHydrate(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "cache.json")
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	first := NewCache(path, logger.Default())
	first.MarkShown("abc", "/repo", "agent-a", at)
	first.Persist()

	second := NewCache(path, logger.Default())
	second.Hydrate()
	got, ok := second.LastShown("abc")
	require.True(t, ok)
	assert.True(t, at.Equal(got))
}

func TestLongSessionReminderFires(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	engine, _, sessionID := newTestEngine(t, Builtins(), &now)
	rc := &Context{
		ToolName:          "get_project",
		ProjectName:       "demo",
		ProjectRoot:       "/repo",
		AgentID:           "agent-a",
		SessionID:         sessionID,
		TotalEntries:      12,
		MinutesSinceLog:   75,
		SessionAgeMinutes: 150,
		DocStatus:         map[string]string{"architecture": "complete", "checklist": "complete"},
		OperationStatus:   storage.StatusSuccess,
	}

	keys := map[string]bool{}
	for _, shown := range engine.Evaluate(context.Background(), rc) {
		keys[shown.Key] = true
	}
	assert.True(t, keys["session.long_session"], "a session older than two hours gets the checkpoint nudge")

	rc.AgentID = "agent-b"
	rc.SessionAgeMinutes = 30
	for _, shown := range engine.Evaluate(context.Background(), rc) {
		assert.NotEqual(t, "session.long_session", shown.Key, "young sessions are left alone")
	}
}

func TestTemplateVariables(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 30, 45, 0, time.UTC)
	def := &Definition{Template: "p={project_name} t={time_utc} d={date_utc} extra={custom}"}
	out := def.Render(&Context{
		ProjectName: "demo",
		Variables:   map[string]string{"custom": "v"},
	}, now)
	assert.Equal(t, "p=demo t=12:30:45 d=2026-02-01 extra=v", out)
}
