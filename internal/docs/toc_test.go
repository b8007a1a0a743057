package docs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTOCWithCollisions(t *testing.T) {
	body := "# Title\n## Section A\n### Subsection\n## Section A\n"
	out := GenerateTOC(body)

	want := strings.Join([]string{
		"- [Title](#title)",
		"  - [Section A](#section-a)",
		"    - [Subsection](#subsection)",
		"  - [Section A](#section-a-1)",
	}, "\n")
	assert.Contains(t, out, tocStartMarker+"\n"+want+"\n"+tocEndMarker)
	assert.Contains(t, out, body)
}

func TestGenerateTOCIsIdempotent(t *testing.T) {
	body := "# Title\n## Section A\n### Subsection\n## Section A\n"
	first := GenerateTOC(body)
	second := GenerateTOC(first)
	assert.Equal(t, first, second)
	assert.Empty(t, UnifiedDiff(first, second))
}

func TestGenerateTOCSkipsCodeFences(t *testing.T) {
	body := "# Real\n```\n# not a heading\n```\n## Also real\n"
	out := GenerateTOC(body)
	assert.Contains(t, out, "- [Real](#real)")
	assert.Contains(t, out, "  - [Also real](#also-real)")
	assert.NotContains(t, out, "not-a-heading")
}

func TestScanHeadingsSetext(t *testing.T) {
	body := "Top Title\n=========\n\nSecond\n------\n"
	headings := ScanHeadings(body)
	require.Len(t, headings, 2)
	assert.Equal(t, 1, headings[0].Level)
	assert.Equal(t, "Top Title", headings[0].Text)
	assert.Equal(t, 2, headings[1].Level)
	assert.Equal(t, "Second", headings[1].Text)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "section-a", Slug("Section A"))
	assert.Equal(t, "cafe-menu", Slug("Café Menü"))
	assert.Equal(t, "done", Slug("✅ Done"))
	assert.Equal(t, "a-b-c", Slug("a -- b __ c"))
}

func TestNormalizeHeaders(t *testing.T) {
	body := strings.Join([]string{
		"# Intro",
		"## Background",
		"## Goals",
		"### Scope",
		"# Design",
		"",
	}, "\n")
	out := NormalizeHeaders(body)
	assert.Contains(t, out, "# 1. Intro")
	assert.Contains(t, out, "## 1.1. Background")
	assert.Contains(t, out, "## 1.2. Goals")
	assert.Contains(t, out, "### 1.2.1. Scope")
	assert.Contains(t, out, "# 2. Design")
}

func TestNormalizeHeadersIsIdempotent(t *testing.T) {
	body := "# Intro\n## 3.9. Stale Number\nSetext Part\n===\n```\n# fenced\n```\n"
	first := NormalizeHeaders(body)
	second := NormalizeHeaders(first)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "## 1.1. Stale Number")
	assert.Contains(t, first, "# 2. Setext Part")
	assert.Contains(t, first, "# fenced")
}

func TestSplitFrontMatterRoundTrip(t *testing.T) {
	content := "---\nproject: demo\nrelated_docs:\n  - OTHER.md#section-a\n---\n# Body\n"
	fm, body, offset, err := SplitFrontMatter(content)
	require.NoError(t, err)
	assert.Equal(t, "# Body\n", body)
	assert.Equal(t, 5, offset)
	assert.Equal(t, "demo", fm.Values["project"])
	assert.Equal(t, []string{"OTHER.md#section-a"}, fm.RelatedDocs())

	rendered, err := fm.Render(body, false)
	require.NoError(t, err)
	assert.Equal(t, content, rendered)
}

func TestSplitFrontMatterAbsent(t *testing.T) {
	fm, body, offset, err := SplitFrontMatter("# Just body\n")
	require.NoError(t, err)
	assert.Empty(t, fm.Raw)
	assert.Equal(t, "# Just body\n", body)
	assert.Zero(t, offset)
}
