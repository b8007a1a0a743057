package logbook

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIDMatchesHashMaterial(t *testing.T) {
	ts, err := time.Parse(TimestampLayout, "2025-12-17 02:38:42 UTC")
	require.NoError(t, err)

	id := DeriveID("demo", "demo", ts, "Codex", "Smoke test", map[string]string{"foo": "bar"})

	sum := sha256.Sum256([]byte("demo|demo|2025-12-17 02:38:42 UTC|Codex|Smoke test|foo=bar"))
	want := hex.EncodeToString(sum[:])[:32]
	assert.Equal(t, want, id)
	assert.Len(t, id, 32)
}

func TestDeriveIDIsStable(t *testing.T) {
	ts := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	meta := map[string]string{"b": "2", "a": "1"}

	first := DeriveID("repo", "proj", ts, "Claude", "same message", meta)
	second := DeriveID("repo", "proj", ts, "Claude", "same message", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, first, second, "metadata ordering must not change the ID")

	different := DeriveID("repo", "proj", ts.Add(time.Second), "Claude", "same message", meta)
	assert.NotEqual(t, first, different)
}

func TestDeriveIDEmptyAgentFallsBack(t *testing.T) {
	ts := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	assert.Equal(t,
		DeriveID("r", "p", ts, "", "msg", nil),
		DeriveID("r", "p", ts, "default", "msg", nil))
}

func TestValidateMessage(t *testing.T) {
	assert.Error(t, ValidateMessage(""))
	assert.Error(t, ValidateMessage("two\nlines"))
	assert.Error(t, ValidateMessage("has | pipe"))
	assert.NoError(t, ValidateMessage("plain message"))
}

func TestNormalizeMeta(t *testing.T) {
	out := NormalizeMeta(map[string]string{
		"ok_key":   "value",
		"bad|key":  "v",
		"multi":    "line\nvalue",
		"piped":    "a|b",
		"padded":   "  trimmed  ",
		"9leading": "v",
	})
	assert.Equal(t, "value", out["ok_key"])
	assert.Equal(t, "v", out["bad_key"])
	assert.Equal(t, "line value", out["multi"])
	assert.Equal(t, "a b", out["piped"])
	assert.Equal(t, "trimmed", out["padded"])
	assert.Equal(t, "v", out["_leading"])
}

func TestNormalizeConfidence(t *testing.T) {
	assert.Equal(t, 1.0, NormalizeConfidence(1.5))
	assert.Equal(t, 1.0, NormalizeConfidence(-0.5))
	assert.Equal(t, 0.3, NormalizeConfidence(0.3))
	assert.Equal(t, 0.0, NormalizeConfidence(0.0))
	assert.Equal(t, 1.0, NormalizeConfidence(1.0))
}

func TestRenderParseRoundTrip(t *testing.T) {
	ts, _ := time.Parse(TimestampLayout, "2025-12-17 02:38:42 UTC")
	e := &Entry{
		ID:        DeriveID("demo", "demo", ts, "Codex", "Smoke test", map[string]string{"foo": "bar"}),
		Emoji:     "✅",
		Timestamp: ts,
		Agent:     "Codex",
		Project:   "demo",
		Message:   "Smoke test",
		Meta:      map[string]string{"foo": "bar", "env": "ci"},
	}
	line := e.RenderLine()

	parsed, err := ParseLine(line)
	require.NoError(t, err)
	assert.Equal(t, e.ID, parsed.ID)
	assert.Equal(t, e.Emoji, parsed.Emoji)
	assert.True(t, e.Timestamp.Equal(parsed.Timestamp))
	assert.Equal(t, e.Agent, parsed.Agent)
	assert.Equal(t, e.Project, parsed.Project)
	assert.Equal(t, e.Message, parsed.Message)
	assert.Equal(t, e.Meta, parsed.Meta)
}

func TestParseLineWithoutIDOrMeta(t *testing.T) {
	parsed, err := ParseLine("[ℹ️] [2026-01-05 10:00:00 UTC] [Agent: default] [Project: demo] note taken")
	require.NoError(t, err)
	assert.Empty(t, parsed.ID)
	assert.Equal(t, "note taken", parsed.Message)
	assert.Empty(t, parsed.Meta)
}

func TestParseLineRejectsGarbage(t *testing.T) {
	_, err := ParseLine("not a log line")
	assert.Error(t, err)
}

func TestInferPriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, InferPriority("", "error"))
	assert.Equal(t, PriorityHigh, InferPriority("", "bug"))
	assert.Equal(t, PriorityMedium, InferPriority("", "warn"))
	assert.Equal(t, PriorityMedium, InferPriority("", "success"))
	assert.Equal(t, PriorityMedium, InferPriority("", "plan"))
	assert.Equal(t, PriorityLow, InferPriority("", "info"))
	assert.Equal(t, PriorityMedium, InferPriority("", "whatever"))
	assert.Equal(t, PriorityHigh, InferPriority("high", "info"))
	assert.Equal(t, PriorityMedium, InferPriority("urgent", "info"), "invalid explicit priority degrades to medium")
}

func TestEmojiFor(t *testing.T) {
	assert.Equal(t, "✅", EmojiFor("success", ""))
	assert.Equal(t, "🐞", EmojiFor("bug", ""))
	assert.Equal(t, "🚀", EmojiFor("launch", "🚀"))
	assert.Equal(t, "ℹ️", EmojiFor("launch", ""))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "my-cool-project", Slugify("My Cool  Project!"))
	assert.Equal(t, "v2-rewrite", Slugify("V2 Rewrite"))
	assert.Equal(t, "demo", Slugify("demo"))
}

func TestStreamMetadataRequirements(t *testing.T) {
	st, err := LookupStream(StreamSecurity)
	require.NoError(t, err)
	missing := st.MissingMeta(map[string]string{"severity": "high"})
	assert.ElementsMatch(t, []string{"area", "impact"}, missing)

	st, err = LookupStream("")
	require.NoError(t, err)
	assert.Equal(t, StreamProgress, st.Name)
	assert.Empty(t, st.MissingMeta(nil))

	_, err = LookupStream("nope")
	assert.Error(t, err)
}
