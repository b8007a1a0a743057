package mcpserver

import (
	"fmt"
	"strconv"
	"time"

	"github.com/scribe-dev/scribe/internal/logbook"
	"github.com/scribe-dev/scribe/internal/scriberr"
)

// healer coerces near-miss argument shapes into canonical ones and collects
// validation warnings so callers learn the canonical shape.
type healer struct {
	warnings []string
}

func (h *healer) warn(format string, args ...any) {
	h.warnings = append(h.warnings, fmt.Sprintf(format, args...))
}

// String accepts a string, or the first element of a list of strings, or a
// number rendered as a string.
func (h *healer) String(args map[string]any, key string) string {
	raw, ok := args[key]
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		if len(v) == 0 {
			return ""
		}
		if s, ok := v[0].(string); ok {
			h.warn("%s: expected a string, got a list; using the first element", key)
			return s
		}
	case float64:
		h.warn("%s: expected a string, got a number; coerced", key)
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		h.warn("%s: expected a string, got a boolean; coerced", key)
		return strconv.FormatBool(v)
	}
	h.warn("%s: unsupported shape %T ignored", key, raw)
	return ""
}

// StringMap accepts an object, coercing non-string values to strings.
func (h *healer) StringMap(args map[string]any, key string) map[string]string {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		h.warn("%s: expected an object, got %T; ignored", key, raw)
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch tv := v.(type) {
		case string:
			out[k] = tv
		case float64:
			out[k] = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(tv)
		default:
			h.warn("%s.%s: value coerced to string", key, k)
			out[k] = fmt.Sprintf("%v", tv)
		}
	}
	return out
}

// Int accepts a number or a numeric string.
func (h *healer) Int(args map[string]any, key string, def int) int {
	raw, ok := args[key]
	if !ok || raw == nil {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			h.warn("%s: expected a number, got a string; coerced", key)
			return n
		}
	}
	h.warn("%s: unsupported shape %T; using default %d", key, raw, def)
	return def
}

// Int64Ptr accepts a number or numeric string, returning nil when absent.
func (h *healer) Int64Ptr(args map[string]any, key string) *int64 {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		n := int64(v)
		return &n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			h.warn("%s: expected a number, got a string; coerced", key)
			return &n
		}
	}
	h.warn("%s: unsupported shape %T ignored", key, raw)
	return nil
}

// FloatPtr accepts a number or numeric string, returning nil when absent.
func (h *healer) FloatPtr(args map[string]any, key string) *float64 {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		return &v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			h.warn("%s: expected a number, got a string; coerced", key)
			return &f
		}
	}
	h.warn("%s: unsupported shape %T ignored", key, raw)
	return nil
}

// Bool accepts a boolean or its string form.
func (h *healer) Bool(args map[string]any, key string) bool {
	raw, ok := args[key]
	if !ok || raw == nil {
		return false
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			h.warn("%s: expected a boolean, got a string; coerced", key)
			return b
		}
	}
	h.warn("%s: unsupported shape %T treated as false", key, raw)
	return false
}

// Items returns the explicit bulk items list; a bare object is wrapped.
func (h *healer) Items(args map[string]any) []map[string]any {
	raw, ok := args["items"]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
			} else {
				h.warn("items: non-object element ignored")
			}
		}
		return out
	case map[string]any:
		h.warn("items: expected a list, got an object; wrapped")
		return []map[string]any{v}
	}
	h.warn("items: unsupported shape %T ignored", raw)
	return nil
}

// Timestamp parses an explicit timestamp in either the canonical entry form
// or RFC 3339.
func (h *healer) Timestamp(args map[string]any, key string) (*time.Time, error) {
	s := h.String(args, key)
	if s == "" {
		return nil, nil
	}
	if ts, err := time.Parse(logbook.TimestampLayout, s); err == nil {
		return &ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	return nil, scriberr.Validation(key,
		"timestamp %q must be %q or RFC 3339", s, logbook.TimestampLayout)
}
