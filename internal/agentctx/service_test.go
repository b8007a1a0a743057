package agentctx

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

func newTestService(t *testing.T) (*Service, *storage.SQLStore) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Open(config.StorageConfig{
		Backend: "embedded",
		DBPath:  filepath.Join(root, "scribe.db"),
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := NewService(Config{
		Store:           store,
		Logger:          logger.Default(),
		IdleTTLMinutes:  45,
		RepoRoot:        root,
		DevPlansDir:     "dev_plans",
		ProgressLogName: "PROGRESS_LOG.md",
	})
	return svc, store
}

func TestCleanupExpiredSessions(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, &storage.AgentSession{
		SessionID:          "stale-session",
		TransportSessionID: "stale-session",
		AgentID:            "agent-1",
		LastActiveAt:       time.Now().UTC().Add(-2 * time.Hour),
		Status:             storage.SessionActive,
	}))
	fresh, err := svc.StartSession(ctx, "agent-2", nil)
	require.NoError(t, err)

	n, err := svc.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	stale, err := store.GetSession(ctx, "stale-session")
	require.NoError(t, err)
	assert.Equal(t, storage.SessionExpired, stale.Status)

	live, err := store.GetSession(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionActive, live.Status)

	// A second pass finds nothing left to expire.
	n, err = svc.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetAgentEventsAuditTrail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sessionID, err := svc.StartSession(ctx, "agent-1", nil)
	require.NoError(t, err)

	alpha := "alpha"
	_, err = svc.SetCurrentProject(ctx, "agent-1", &alpha, sessionID, nil)
	require.NoError(t, err)
	beta := "beta"
	_, err = svc.SetCurrentProject(ctx, "agent-1", &beta, sessionID, nil)
	require.NoError(t, err)

	events, err := svc.GetAgentEvents(ctx, "agent-1", "", 10)
	require.NoError(t, err)
	require.Len(t, events, 3, "session start plus two project changes")

	switched, err := svc.GetAgentEvents(ctx, "agent-1", storage.EventProjectSwitched, 10)
	require.NoError(t, err)
	require.Len(t, switched, 1)
	require.NotNil(t, switched[0].ToProject)
	assert.Equal(t, "beta", *switched[0].ToProject)
	require.NotNil(t, switched[0].FromProject)
	assert.Equal(t, "alpha", *switched[0].FromProject)

	other, err := svc.GetAgentEvents(ctx, "agent-2", "", 10)
	require.NoError(t, err)
	assert.Empty(t, other, "events are scoped per agent")
}
