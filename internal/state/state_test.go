package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/common/logger"
)

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	f := Open(path, logger.Default())
	f.SetCurrentProject("sess-1", "agent-a", ProjectConfig{Name: "demo", Status: "in_progress"})
	f.RecordTool("append_entry", "agent-a")

	reopened := Open(path, logger.Default())
	doc := reopened.Snapshot()
	assert.Equal(t, "demo", doc.CurrentProject)
	assert.Equal(t, []string{"demo"}, doc.RecentProjects)
	assert.Equal(t, "demo", doc.SessionProjects["sess-1"].Name)
	require.Len(t, doc.RecentTools, 1)
	assert.Equal(t, "append_entry", doc.RecentTools[0].Name)
	assert.Equal(t, "agent-a", doc.LastUpdatedBy)
	assert.Equal(t, "agent-a", doc.AgentState.LastAgentID)
	assert.EqualValues(t, 2, doc.Version)
}

func TestRecentProjectsOrderAndCap(t *testing.T) {
	f := Open("", logger.Default())
	for _, name := range []string{"a", "b", "c", "a"} {
		f.SetCurrentProject("", "", ProjectConfig{Name: name})
	}
	assert.Equal(t, []string{"a", "c", "b"}, f.RecentProjects())

	for i := 0; i < recentProjectsCap+5; i++ {
		f.SetCurrentProject("", "", ProjectConfig{Name: string(rune('a' + i))})
	}
	assert.Len(t, f.RecentProjects(), recentProjectsCap)
}

func TestRecentToolsRing(t *testing.T) {
	f := Open("", logger.Default())
	for i := 0; i < recentToolsCap+10; i++ {
		f.RecordTool("get_project", "")
	}
	doc := f.Snapshot()
	assert.Len(t, doc.RecentTools, recentToolsCap)
}

func TestOpenCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	f := Open(path, logger.Default())
	doc := f.Snapshot()
	assert.Empty(t, doc.CurrentProject)
	assert.NotNil(t, doc.Projects)
}
