package logbook

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// Stream names. Progress is the default stream; the others tee a copy of the
// entry into their own log file when the entry carries the required metadata.
const (
	StreamProgress   = "progress"
	StreamDocUpdates = "doc_updates"
	StreamSecurity   = "security"
	StreamBugs       = "bugs"
)

// Stream describes one log destination.
type Stream struct {
	Name         string
	FileName     string
	RequiredMeta []string
}

var streams = map[string]Stream{
	StreamProgress:   {Name: StreamProgress, FileName: "", RequiredMeta: nil},
	StreamDocUpdates: {Name: StreamDocUpdates, FileName: "DOC_LOG.md", RequiredMeta: []string{"doc", "section", "action"}},
	StreamSecurity:   {Name: StreamSecurity, FileName: "SECURITY_LOG.md", RequiredMeta: []string{"severity", "area", "impact"}},
	StreamBugs:       {Name: StreamBugs, FileName: "BUG_LOG.md", RequiredMeta: []string{"severity", "component", "status"}},
}

// StreamNames lists the known streams in stable order.
func StreamNames() []string {
	names := make([]string, 0, len(streams))
	for n := range streams {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupStream resolves a stream by name; empty means progress.
func LookupStream(name string) (Stream, error) {
	if name == "" {
		name = StreamProgress
	}
	st, ok := streams[name]
	if !ok {
		return Stream{}, scriberr.Validation("stream", "unknown stream %q; valid streams are %s",
			name, strings.Join(StreamNames(), ", "))
	}
	return st, nil
}

// MissingMeta returns the required metadata keys the entry lacks for a
// stream. A non-progress entry with missing keys is appended to the progress
// log only, with a metadata_missing warning; it is never teed.
func (st Stream) MissingMeta(meta map[string]string) []string {
	var missing []string
	for _, key := range st.RequiredMeta {
		if strings.TrimSpace(meta[key]) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// Path returns the stream's file path within a project directory. The
// progress stream uses the project's configured log name.
func (st Stream) Path(projectDir, progressLogName string) string {
	if st.Name == StreamProgress {
		return filepath.Join(projectDir, progressLogName)
	}
	return filepath.Join(projectDir, st.FileName)
}

// Emoji mapping for entry status keywords.
var statusEmoji = map[string]string{
	"info":    "ℹ️",
	"success": "✅",
	"warn":    "⚠️",
	"error":   "❌",
	"bug":     "🐞",
	"plan":    "🧭",
}

// EmojiFor returns the emoji for a status keyword, or the default when the
// keyword is unknown.
func EmojiFor(status, defaultEmoji string) string {
	if e, ok := statusEmoji[strings.ToLower(status)]; ok {
		return e
	}
	if defaultEmoji != "" {
		return defaultEmoji
	}
	return statusEmoji["info"]
}

// Priority values stored with each entry.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

var validPriorities = map[string]bool{
	PriorityCritical: true,
	PriorityHigh:     true,
	PriorityMedium:   true,
	PriorityLow:      true,
}

// InferPriority resolves an entry's priority. An explicit valid priority
// wins; an explicit invalid one degrades to medium rather than failing the
// append. Otherwise the status keyword decides.
func InferPriority(explicit, status string) string {
	if explicit != "" {
		if validPriorities[strings.ToLower(explicit)] {
			return strings.ToLower(explicit)
		}
		return PriorityMedium
	}
	switch strings.ToLower(status) {
	case "error", "bug":
		return PriorityHigh
	case "warn", "success", "plan":
		return PriorityMedium
	case "info":
		return PriorityLow
	default:
		return PriorityMedium
	}
}
