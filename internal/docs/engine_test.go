package docs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.SQLStore, *storage.Project, string) {
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

	engine := NewEngine(EngineConfig{
		Files:  &sandbox.Checker{Sandbox: sb, Permissions: sandbox.Permissions{AllowGenerateDocs: true}},
		Store:  store,
		Logger: logger.Default(),
	})
	return engine, store, project, projectDir
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReplaceSection(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md",
		"# Arch\n<!-- ID: overview -->\nold text\n<!-- ID: overview -->\ntail\n")

	res, err := engine.Apply(context.Background(), Request{
		Project:   project,
		Action:    ActionReplaceSection,
		DocName:   DocArchitecture,
		SectionID: "overview",
		Content:   "new overview for {project_slug}",
		Agent:     "Claude",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotEqual(t, res.BeforeHash, res.AfterHash)
	assert.NotEmpty(t, res.DiffPreview)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "new overview for demo")
	assert.NotContains(t, string(data), "old text")
	assert.Contains(t, string(data), "tail")
}

func TestReplaceSectionMissingMarker(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md", "# Arch\nno markers here\n")

	_, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionReplaceSection, DocName: DocArchitecture,
		SectionID: "overview", Content: "x",
	})
	require.Error(t, err)
	assert.True(t, scriberr.IsNotFound(err))
}

func TestApplyPatchReplaceBlockAmbiguous(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	original := "## Title\n**Solution Summary:** One\n\n**Solution Summary:** Two\n"
	path := writeDoc(t, dir, "ARCHITECTURE.md", original)

	_, err := engine.Apply(context.Background(), Request{
		Project:   project,
		Action:    ActionApplyPatch,
		DocName:   DocArchitecture,
		PatchMode: PatchModeStructured,
		Edit: &StructuredEdit{
			Type:    EditReplaceBlock,
			Anchor:  "**Solution Summary:**",
			Content: "**Solution Summary:** Merged",
		},
	})
	require.Error(t, err)
	assert.Equal(t, scriberr.CodeAnchorAmbiguous, scriberr.CodeOf(err))
	assert.Contains(t, err.Error(), "matches: [line 2, line 4]")

	data, rerr := os.ReadFile(path)
	require.NoError(t, rerr)
	assert.Equal(t, original, string(data), "failed edit must not touch the file")
}

func TestApplyPatchReplaceBlockNotFound(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md", "## Title\nbody\n")

	_, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionApplyPatch, DocName: DocArchitecture,
		PatchMode: PatchModeStructured,
		Edit:      &StructuredEdit{Type: EditReplaceBlock, Anchor: "absent", Content: "x"},
	})
	require.Error(t, err)
	assert.Equal(t, scriberr.CodeAnchorNotFound, scriberr.CodeOf(err))
}

func TestApplyPatchUnified(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md", "line one\nline two\nline three\n")

	res, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionApplyPatch, DocName: DocArchitecture,
		PatchMode: PatchModeUnified,
		PatchText: "@@ -1,3 +1,3 @@\n line one\n-line two\n+line 2\n line three\n",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.HunksApplied)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "line 2")
	assert.NotContains(t, string(data), "line two")
}

func TestApplyPatchUnifiedContextMismatch(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md", "alpha\nbeta\n")

	_, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionApplyPatch, DocName: DocArchitecture,
		PatchMode: PatchModeUnified,
		PatchText: "@@ -1,2 +1,2 @@\n alpha\n-gamma\n+delta\n",
	})
	require.Error(t, err)
	assert.True(t, scriberr.IsConflict(err))
}

func TestReplaceRangeRespectsFrontMatter(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md", "---\nproject: demo\n---\nfirst\nsecond\nthird\n")

	res, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionReplaceRange, DocName: DocArchitecture,
		StartLine: 2, EndLine: 2, Content: "SECOND",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "---\nproject: demo\n---\nfirst\nSECOND\nthird\n", string(data))
}

func TestCreateDocRequiresContent(t *testing.T) {
	engine, _, project, _ := newTestEngine(t)
	_, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionCreateDoc, DocName: "NOTES",
	})
	require.Error(t, err)
	assert.Equal(t, scriberr.CodeCreateDocMissing, scriberr.CodeOf(err))
}

func TestCreateDocWithFrontmatter(t *testing.T) {
	engine, store, project, _ := newTestEngine(t)
	res, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionCreateDoc, DocName: "NOTES",
		Content:     "# Notes for {project_slug}\n",
		Frontmatter: map[string]any{"doc": "notes"},
		Agent:       "Claude",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "doc: notes")
	assert.Contains(t, string(data), "# Notes for demo")

	changes, err := store.ListDocChanges(context.Background(), project.ID, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, ActionCreateDoc, changes[0].Action)
}

func TestDryRunDoesNotWrite(t *testing.T) {
	engine, store, project, dir := newTestEngine(t)
	original := "# Arch\nbody\n"
	path := writeDoc(t, dir, "ARCHITECTURE.md", original)

	res, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionAppend, DocName: DocArchitecture,
		Content: "appended", DryRun: true,
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.DiffPreview)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))

	changes, err := store.ListDocChanges(context.Background(), project.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestPatchSourceHashMismatch(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md", "# Arch\nbody\n")

	_, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionAppend, DocName: DocArchitecture,
		Content: "more", PatchSourceHash: "deadbeef",
	})
	require.Error(t, err)
	assert.Equal(t, scriberr.CodeHashMismatch, scriberr.CodeOf(err))
}

func TestGenerateTOCActionSecondRunEmptyDiff(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "ARCHITECTURE.md", "# Title\n## Section A\n### Subsection\n## Section A\n")

	first, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionGenerateTOC, DocName: DocArchitecture,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.DiffPreview)

	second, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionGenerateTOC, DocName: DocArchitecture,
	})
	require.NoError(t, err)
	assert.True(t, second.OK)
	assert.Empty(t, second.DiffPreview)
	assert.Equal(t, second.BeforeHash, second.AfterHash)
}

func TestValidateCrosslinks(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "OTHER.md", "# Section A\n")
	writeDoc(t, dir, "ARCHITECTURE.md",
		"---\nrelated_docs:\n  - OTHER.md#section-a\n  - MISSING.md\n---\n# Arch\n")

	res, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionValidateCrosslinks, DocName: DocArchitecture,
		CheckAnchors: true,
	})
	require.NoError(t, err)
	require.Len(t, res.Crosslinks, 2)

	assert.True(t, res.Crosslinks[0].FileExists)
	require.NotNil(t, res.Crosslinks[0].AnchorFound)
	assert.True(t, *res.Crosslinks[0].AnchorFound)
	assert.False(t, res.Crosslinks[1].FileExists)
}

func TestListChecklistItems(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "CHECKLIST.md",
		"---\ndoc: checklist\n---\n# List\n- [ ] write tests\n- [x] Write Code\n- plain bullet\n")

	res, err := engine.Apply(context.Background(), Request{
		Project: project, Action: ActionListChecklist, Text: "write",
	})
	require.NoError(t, err)
	require.Len(t, res.Checklist, 2)
	assert.False(t, res.Checklist[0].Checked)
	assert.Equal(t, 5, res.Checklist[0].FileLine, "file line accounts for front-matter")
	assert.True(t, res.Checklist[1].Checked)
}

func TestScaffoldTemplatesSkipsExisting(t *testing.T) {
	engine, _, project, dir := newTestEngine(t)
	writeDoc(t, dir, "CHECKLIST.md", "# kept\n")

	results, err := engine.Scaffold(context.Background(), project, "")
	require.NoError(t, err)
	require.Len(t, results, 6)

	byName := map[string]ScaffoldResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.False(t, byName["CHECKLIST.md"].Created)
	assert.True(t, byName["ARCHITECTURE.md"].Created)
	assert.True(t, byName["PHASE_PLAN.md"].Created)
	assert.True(t, byName["BUG_LOG.md"].Created)
	assert.True(t, byName["SECURITY_LOG.md"].Created)
	assert.True(t, byName["DOC_LOG.md"].Created)

	data, err := os.ReadFile(filepath.Join(dir, "ARCHITECTURE.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "# demo Architecture")

	kept, err := os.ReadFile(filepath.Join(dir, "CHECKLIST.md"))
	require.NoError(t, err)
	assert.Equal(t, "# kept\n", string(kept))
}

func TestScaffoldDeniedWithoutPermission(t *testing.T) {
	engine, _, project, _ := newTestEngine(t)
	engine.files.Permissions = sandbox.Permissions{}

	_, err := engine.Scaffold(context.Background(), project, "")
	require.Error(t, err)
	assert.Equal(t, scriberr.KindPermissionDenied, scriberr.KindOf(err))
}
