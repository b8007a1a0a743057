// Package logbook implements the logging core: the canonical entry format,
// deterministic entry IDs, per-stream metadata requirements, and the append
// pipeline that writes both the progress log file and the storage record.
package logbook

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// TimestampLayout is the canonical on-disk timestamp form.
const TimestampLayout = "2006-01-02 15:04:05 UTC"

var metadataKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entry is the in-memory form of one canonical log line.
type Entry struct {
	ID         string
	Emoji      string
	Timestamp  time.Time
	Agent      string
	Project    string
	Message    string
	Meta       map[string]string
	Priority   string
	Category   string
	Tags       string
	Confidence float64
}

// ValidateMessage enforces the single-line, pipe-free message contract.
func ValidateMessage(message string) error {
	if message == "" {
		return scriberr.Validation("message", "message must not be empty")
	}
	if strings.ContainsAny(message, "\n\r") {
		return scriberr.Validation("message", "message must be a single line; use the items argument for multiple entries")
	}
	if strings.Contains(message, "|") {
		return scriberr.Validation("message", "message must not contain pipe characters")
	}
	return nil
}

// NormalizeMeta sanitizes metadata in place: keys with invalid characters
// are rewritten to underscore form, values are trimmed with newlines and
// pipes collapsed to spaces.
func NormalizeMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		key := sanitizeMetaKey(k)
		if key == "" {
			continue
		}
		value := strings.TrimSpace(v)
		value = strings.NewReplacer("\n", " ", "\r", " ", "|", " ").Replace(value)
		out[key] = value
	}
	return out
}

func sanitizeMetaKey(key string) string {
	if metadataKeyPattern.MatchString(key) {
		return key
	}
	var b strings.Builder
	for i, r := range key {
		valid := r == '_' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (i > 0 && r >= '0' && r <= '9')
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// NormalizeConfidence returns the stored confidence: values outside [0, 1]
// fall back to the default of 1.0.
func NormalizeConfidence(c float64) float64 {
	if c < 0 || c > 1 {
		return 1.0
	}
	return c
}

// renderMeta renders metadata as sorted "k=v" pairs.
func renderMeta(meta map[string]string, sep string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return strings.Join(parts, sep)
}

// DeriveID computes the deterministic 32-hex entry ID. The same logical
// event always produces the same ID, which is what makes append retries
// idempotent at the storage layer.
func DeriveID(repoSlug, projectSlug string, ts time.Time, agent, message string, meta map[string]string) string {
	if agent == "" {
		agent = "default"
	}
	material := strings.Join([]string{
		repoSlug,
		projectSlug,
		ts.UTC().Format(TimestampLayout),
		agent,
		message,
		renderMeta(meta, ";"),
	}, "|")
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:32]
}

// RenderLine composes the canonical on-disk line for an entry.
//
//	[emoji] [ts] [Agent: a] [Project: p] [ID: id] message | k1=v1; k2=v2
func (e *Entry) RenderLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] [Agent: %s] [Project: %s]",
		e.Emoji, e.Timestamp.UTC().Format(TimestampLayout), e.Agent, e.Project)
	if e.ID != "" {
		fmt.Fprintf(&b, " [ID: %s]", e.ID)
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)
	if len(e.Meta) > 0 {
		b.WriteString(" | ")
		b.WriteString(renderMeta(e.Meta, "; "))
	}
	return b.String()
}

// LineSHA256 hashes a rendered line.
func LineSHA256(line string) string {
	sum := sha256.Sum256([]byte(line))
	return hex.EncodeToString(sum[:])
}

var linePattern = regexp.MustCompile(
	`^\[([^\]]*)\] \[([0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2} UTC)\] \[Agent: ([^\]]*)\] \[Project: ([^\]]*)\](?: \[ID: ([0-9a-f]{32})\])? ([^|]*?)(?: \| (.*))?$`)

// ParseLine parses a canonical line back into an Entry. Produced and parsed
// by the same grammar; round-tripping RenderLine output is lossless.
func ParseLine(line string) (*Entry, error) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return nil, scriberr.Validation("line", "line does not match the canonical entry grammar")
	}
	ts, err := time.Parse(TimestampLayout, m[2])
	if err != nil {
		return nil, scriberr.Validation("timestamp", "invalid timestamp %q", m[2]).WithCause(err)
	}
	entry := &Entry{
		Emoji:     m[1],
		Timestamp: ts,
		Agent:     m[3],
		Project:   m[4],
		ID:        m[5],
		Message:   strings.TrimSpace(m[6]),
		Meta:      map[string]string{},
	}
	if m[7] != "" {
		for _, pair := range strings.Split(m[7], ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) == 2 {
				entry.Meta[kv[0]] = kv[1]
			}
		}
	}
	return entry, nil
}

// Slugify lowercases a name and collapses non-alphanumerics into hyphens,
// for use in repo and project slugs.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
