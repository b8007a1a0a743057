package docs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// Patch modes accepted by apply_patch.
const (
	PatchModeUnified    = "unified"
	PatchModeStructured = "structured"
)

// Structured edit types.
const (
	EditReplaceRange = "replace_range"
	EditReplaceBlock = "replace_block"
)

// StructuredEdit is one structured patch operation.
type StructuredEdit struct {
	Type      string `json:"type"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Anchor    string `json:"anchor,omitempty"`
	Content   string `json:"content"`
}

// ApplyStructuredEdit applies one structured edit to a document body. Line
// numbers are 1-indexed and relative to the body after the front-matter.
func ApplyStructuredEdit(body string, edit StructuredEdit) (string, error) {
	switch edit.Type {
	case EditReplaceRange:
		return replaceRange(body, edit.StartLine, edit.EndLine, edit.Content)
	case EditReplaceBlock:
		return replaceBlock(body, edit.Anchor, edit.Content)
	default:
		return "", scriberr.Validation("type", "unknown structured edit type %q", edit.Type)
	}
}

func replaceRange(body string, start, end int, content string) (string, error) {
	lines := strings.Split(body, "\n")
	if start < 1 || end < start || end > len(lines) {
		return "", scriberr.Validation("start_line",
			"line range %d-%d is out of bounds for a %d-line body", start, end, len(lines))
	}
	out := make([]string, 0, len(lines))
	out = append(out, lines[:start-1]...)
	out = append(out, strings.Split(strings.TrimSuffix(content, "\n"), "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}

// replaceBlock locates the anchor as a plain substring on exactly one body
// line outside fenced code blocks and replaces that line. Zero or multiple
// matches fail with a machine-readable code carrying the match positions.
func replaceBlock(body, anchor, content string) (string, error) {
	if anchor == "" {
		return "", scriberr.Validation("anchor", "anchor must not be empty")
	}
	lines := strings.Split(body, "\n")
	var matches []int
	inFence := false
	for i, line := range lines {
		if isFenceDelimiter(line) {
			inFence = !inFence
			continue
		}
		if !inFence && strings.Contains(line, anchor) {
			matches = append(matches, i+1)
		}
	}
	switch len(matches) {
	case 0:
		return "", scriberr.NewCode(scriberr.KindNotFound, scriberr.CodeAnchorNotFound,
			"anchor %q not found in document body", anchor)
	case 1:
		out := make([]string, 0, len(lines))
		out = append(out, lines[:matches[0]-1]...)
		out = append(out, strings.Split(strings.TrimSuffix(content, "\n"), "\n")...)
		out = append(out, lines[matches[0]:]...)
		return strings.Join(out, "\n"), nil
	default:
		return "", scriberr.NewCode(scriberr.KindConflict, scriberr.CodeAnchorAmbiguous,
			"anchor %q is ambiguous; matches: [%s]", anchor, formatMatchLines(matches)).
			WithField("match_lines", matches)
	}
}

func formatMatchLines(matches []int) string {
	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = "line " + strconv.Itoa(m)
	}
	return strings.Join(parts, ", ")
}

func isFenceDelimiter(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// ApplyUnifiedPatch applies a standard unified diff to a body and reports
// how many hunks were applied. Hunks apply at their stated positions; on a
// context mismatch the whole patch fails and the body is untouched.
func ApplyUnifiedPatch(body, patch string) (string, int, error) {
	hunks, err := parseUnifiedHunks(patch)
	if err != nil {
		return "", 0, err
	}
	if len(hunks) == 0 {
		return "", 0, scriberr.Validation("patch_text", "patch contains no hunks")
	}

	lines := strings.Split(body, "\n")
	var out []string
	cursor := 0 // index into lines
	for n, h := range hunks {
		start := h.oldStart - 1
		if start < cursor || start > len(lines) {
			return "", 0, scriberr.Validation("patch_text",
				"hunk %d targets line %d outside the remaining body", n+1, h.oldStart)
		}
		out = append(out, lines[cursor:start]...)
		cursor = start
		for _, pl := range h.lines {
			switch pl.op {
			case ' ', '-':
				if cursor >= len(lines) || lines[cursor] != pl.text {
					got := "<end of document>"
					if cursor < len(lines) {
						got = lines[cursor]
					}
					return "", 0, scriberr.Conflict(
						"hunk %d context mismatch at line %d: expected %q, found %q",
						n+1, cursor+1, pl.text, got)
				}
				if pl.op == ' ' {
					out = append(out, lines[cursor])
				}
				cursor++
			case '+':
				out = append(out, pl.text)
			}
		}
	}
	out = append(out, lines[cursor:]...)
	return strings.Join(out, "\n"), len(hunks), nil
}

type patchLine struct {
	op   byte
	text string
}

type hunk struct {
	oldStart int
	lines    []patchLine
}

func parseUnifiedHunks(patch string) ([]hunk, error) {
	var hunks []hunk
	var current *hunk
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "@@"):
			start, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			hunks = append(hunks, hunk{oldStart: start})
			current = &hunks[len(hunks)-1]
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"),
			strings.HasPrefix(line, "diff "), strings.HasPrefix(line, "index "):
			// File headers are informational.
		case strings.HasPrefix(line, `\ No newline`):
			// Trailing-newline marker.
		case current == nil:
			if strings.TrimSpace(line) != "" {
				return nil, scriberr.Validation("patch_text", "content before first hunk header: %q", line)
			}
		case line == "" && current != nil:
			// A bare empty line inside a hunk is an empty context line.
			current.lines = append(current.lines, patchLine{op: ' ', text: ""})
		default:
			op := line[0]
			if op != ' ' && op != '-' && op != '+' {
				return nil, scriberr.Validation("patch_text", "invalid hunk line prefix %q", string(op))
			}
			current.lines = append(current.lines, patchLine{op: op, text: line[1:]})
		}
	}
	return hunks, nil
}

func parseHunkHeader(header string) (int, error) {
	// @@ -oldStart[,oldCount] +newStart[,newCount] @@
	var oldStart, oldCount, newStart, newCount int
	trimmed := strings.TrimSpace(strings.Trim(header, "@ "))
	if _, err := fmt.Sscanf("@@ "+trimmed+" @@", "@@ -%d,%d +%d,%d @@", &oldStart, &oldCount, &newStart, &newCount); err == nil {
		return oldStart, nil
	}
	if _, err := fmt.Sscanf("@@ "+trimmed+" @@", "@@ -%d +%d @@", &oldStart, &newStart); err == nil {
		return oldStart, nil
	}
	return 0, scriberr.Validation("patch_text", "malformed hunk header %q", header)
}
