package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/scriberr"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := Open(config.StorageConfig{
		Backend: "embedded",
		DBPath:  filepath.Join(t.TempDir(), "scribe.db"),
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strptr(s string) *string { return &s }

func TestUpsertAgentProjectBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertAgentProject(ctx, &AgentProject{
		AgentID:     "agent-1",
		ProjectName: strptr("alpha"),
		UpdatedBy:   "agent-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	require.NotNil(t, first.ProjectName)
	assert.Equal(t, "alpha", *first.ProjectName)

	second, err := store.UpsertAgentProject(ctx, &AgentProject{
		AgentID:     "agent-1",
		ProjectName: strptr("beta"),
		UpdatedBy:   "agent-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, "beta", *second.ProjectName)
}

func TestCompareAndSwapAgentProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seeded, err := store.UpsertAgentProject(ctx, &AgentProject{
		AgentID:     "agent-1",
		ProjectName: strptr("alpha"),
		UpdatedBy:   "agent-1",
	})
	require.NoError(t, err)

	swapped, err := store.CompareAndSwapAgentProject(ctx, &AgentProject{
		AgentID:     "agent-1",
		ProjectName: strptr("beta"),
		UpdatedBy:   "agent-1",
	}, seeded.Version)
	require.NoError(t, err)
	assert.Equal(t, seeded.Version+1, swapped.Version)

	// Replaying with the stale version must fail and leave the row alone.
	_, err = store.CompareAndSwapAgentProject(ctx, &AgentProject{
		AgentID:     "agent-1",
		ProjectName: strptr("gamma"),
		UpdatedBy:   "agent-1",
	}, seeded.Version)
	require.Error(t, err)
	assert.True(t, scriberr.IsConflict(err))
	assert.Equal(t, scriberr.CodeVersionConflict, scriberr.CodeOf(err))

	current, err := store.GetAgentProject(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "beta", *current.ProjectName)
	assert.Equal(t, swapped.Version, current.Version)
}

func TestMostRecentProjectWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateProject(ctx, &Project{
		Name:            "alpha",
		RepoRoot:        "/repo",
		ProgressLogPath: "/repo/dev_plans/alpha/PROGRESS_LOG.md",
	}))
	require.NoError(t, store.CreateProject(ctx, &Project{
		Name:            "beta",
		RepoRoot:        "/repo",
		ProgressLogPath: "/repo/dev_plans/beta/PROGRESS_LOG.md",
	}))

	recent, err := store.MostRecentProject(ctx, 15)
	require.NoError(t, err)
	assert.Nil(t, recent, "projects never accessed are outside the window")

	require.NoError(t, store.TouchProjectAccess(ctx, "beta"))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.TouchProjectAccess(ctx, "alpha"))

	recent, err = store.MostRecentProject(ctx, 15)
	require.NoError(t, err)
	require.NotNil(t, recent)
	assert.Equal(t, "alpha", recent.Name)
}
