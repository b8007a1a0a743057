package mcpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

func TestHealerStringCoercions(t *testing.T) {
	h := &healer{}

	assert.Equal(t, "plain", h.String(map[string]any{"k": "plain"}, "k"))
	assert.Empty(t, h.warnings)

	assert.Equal(t, "first", h.String(map[string]any{"k": []any{"first", "second"}}, "k"))
	assert.Equal(t, "42", h.String(map[string]any{"k": float64(42)}, "k"))
	assert.Equal(t, "true", h.String(map[string]any{"k": true}, "k"))
	assert.Len(t, h.warnings, 3, "each coercion leaves a warning")

	assert.Equal(t, "", h.String(map[string]any{}, "missing"))
}

func TestHealerStringMapCoercesValues(t *testing.T) {
	h := &healer{}
	got := h.StringMap(map[string]any{"meta": map[string]any{
		"str":  "x",
		"num":  float64(3),
		"flag": false,
	}}, "meta")
	assert.Equal(t, map[string]string{"str": "x", "num": "3", "flag": "false"}, got)

	assert.Nil(t, h.StringMap(map[string]any{"meta": "not an object"}, "meta"))
	assert.NotEmpty(t, h.warnings)
}

func TestHealerNumbers(t *testing.T) {
	h := &healer{}

	assert.Equal(t, 7, h.Int(map[string]any{"n": float64(7)}, "n", 0))
	assert.Equal(t, 8, h.Int(map[string]any{"n": "8"}, "n", 0))
	assert.Equal(t, 5, h.Int(map[string]any{}, "n", 5))

	v := h.Int64Ptr(map[string]any{"v": float64(3)}, "v")
	require.NotNil(t, v)
	assert.Equal(t, int64(3), *v)
	assert.Nil(t, h.Int64Ptr(map[string]any{}, "v"))

	f := h.FloatPtr(map[string]any{"c": "0.5"}, "c")
	require.NotNil(t, f)
	assert.Equal(t, 0.5, *f)
}

func TestHealerItemsWrapsBareObject(t *testing.T) {
	h := &healer{}
	items := h.Items(map[string]any{"items": map[string]any{"message": "solo"}})
	require.Len(t, items, 1)
	assert.Equal(t, "solo", items[0]["message"])
	assert.NotEmpty(t, h.warnings)

	h = &healer{}
	items = h.Items(map[string]any{"items": []any{
		map[string]any{"message": "a"},
		"not an object",
		map[string]any{"message": "b"},
	}})
	require.Len(t, items, 2)
	assert.Len(t, h.warnings, 1)
}

func TestHealerTimestampFormats(t *testing.T) {
	h := &healer{}

	ts, err := h.Timestamp(map[string]any{"timestamp": "2025-12-17 02:38:42 UTC"}, "timestamp")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2025, 12, 17, 2, 38, 42, 0, time.UTC), ts.UTC())

	ts, err = h.Timestamp(map[string]any{"timestamp": "2025-12-17T02:38:42Z"}, "timestamp")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, time.Date(2025, 12, 17, 2, 38, 42, 0, time.UTC), ts.UTC())

	_, err = h.Timestamp(map[string]any{"timestamp": "yesterday"}, "timestamp")
	require.Error(t, err)
	assert.Equal(t, scriberr.KindParameterValidation, scriberr.KindOf(err))

	ts, err = h.Timestamp(map[string]any{}, "timestamp")
	require.NoError(t, err)
	assert.Nil(t, ts)
}

func TestEntryLimitDefaults(t *testing.T) {
	assert.Equal(t, 100, entryLimit("structured", 0))
	assert.Equal(t, 10, entryLimit("full", 0))
	assert.Equal(t, 200, entryLimit("compact", 0))
	assert.Equal(t, 50, entryLimit("summary", 0))
	assert.Equal(t, 100, entryLimit("unknown", 0))
	assert.Equal(t, 25, entryLimit("structured", 25), "explicit override wins")
}

func TestJoinTags(t *testing.T) {
	assert.Equal(t, "a,b", joinTags("a,b"))
	assert.Equal(t, "a,b", joinTags([]any{"a", "b"}))
	assert.Equal(t, "", joinTags(nil))
	assert.Equal(t, "", joinTags(float64(3)))
}
