package sentinel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/scriberr"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	sb, err := sandbox.New(root, sandbox.Options{})
	require.NoError(t, err)

	dir := filepath.Join(root, ".scribe", "sentinel")
	svc := NewService(Config{
		Files:  &sandbox.Checker{Sandbox: sb},
		Logger: logger.Default(),
		Dir:    dir,
		Now: func() time.Time {
			return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
		},
	})
	return svc, dir
}

func TestOpenBugAssignsMonotonicIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.OpenBug(ctx, "Codex", "crash on start", "high", nil)
	require.NoError(t, err)
	assert.Equal(t, "BUG-2026-03-10-0001", first.ID)

	second, err := svc.OpenBug(ctx, "Codex", "crash on exit", "low", nil)
	require.NoError(t, err)
	assert.Equal(t, "BUG-2026-03-10-0002", second.ID)

	sec, err := svc.OpenSecurity(ctx, "Codex", "token leak", "critical", nil)
	require.NoError(t, err)
	assert.Equal(t, "SEC-2026-03-10-0001", sec.ID, "SEC numbering is independent of BUG")
}

func TestAppendEventAndReadDay(t *testing.T) {
	svc, dir := newTestService(t)
	ctx := context.Background()

	_, err := svc.AppendEvent(ctx, "Codex", "nightly run started", map[string]string{"job": "ci"})
	require.NoError(t, err)

	events, err := svc.ReadDay("2026-03-10")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, TypeEvent, events[0].Type)
	assert.Equal(t, "nightly run started", events[0].Message)
	assert.Equal(t, "ci", events[0].Meta["job"])

	mirror, err := os.ReadFile(filepath.Join(dir, markdownName))
	require.NoError(t, err)
	assert.Contains(t, string(mirror), "nightly run started")
}

func TestLinkFix(t *testing.T) {
	svc, dir := newTestService(t)
	ctx := context.Background()

	bug, err := svc.OpenBug(ctx, "Codex", "crash on start", "high", nil)
	require.NoError(t, err)

	fix, err := svc.LinkFix(ctx, "Claude", bug.ID, "guarded nil config")
	require.NoError(t, err)
	assert.Equal(t, TypeFixLink, fix.Type)
	assert.Equal(t, bug.ID, fix.CaseID)

	mirror, err := os.ReadFile(filepath.Join(dir, markdownName))
	require.NoError(t, err)
	assert.Contains(t, string(mirror), "(fixes "+bug.ID+")")
}

func TestLinkFixUnknownCase(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.LinkFix(context.Background(), "Claude", "BUG-2026-03-10-0099", "never happened")
	require.Error(t, err)
	assert.True(t, scriberr.IsNotFound(err))
}

func TestLinkFixMalformedID(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.LinkFix(context.Background(), "Claude", "TICKET-42", "wrong shape")
	require.Error(t, err)
	assert.Equal(t, scriberr.KindParameterValidation, scriberr.KindOf(err))
}
