package docs

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContextLines = 3

type diffLine struct {
	op   byte // ' ', '-', '+'
	text string
}

// UnifiedDiff renders a line-oriented unified diff between two document
// versions, used for previews and dry runs. Identical inputs produce "".
func UnifiedDiff(before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var lines []diffLine
	for _, d := range diffs {
		op := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			op = '-'
		case diffmatchpatch.DiffInsert:
			op = '+'
		}
		for _, text := range splitKeepingTrailing(d.Text) {
			lines = append(lines, diffLine{op: op, text: text})
		}
	}
	return renderHunks(lines)
}

// splitKeepingTrailing splits diff text into lines, dropping only the final
// empty fragment produced by a trailing newline.
func splitKeepingTrailing(text string) []string {
	parts := strings.Split(text, "\n")
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func renderHunks(lines []diffLine) string {
	var b strings.Builder
	oldLine, newLine := 1, 1
	i := 0
	for i < len(lines) {
		// Skip equal runs until the next change.
		if lines[i].op == ' ' {
			oldLine++
			newLine++
			i++
			continue
		}

		// Open a hunk including leading context.
		start := i
		ctx := 0
		for start > 0 && ctx < diffContextLines && lines[start-1].op == ' ' {
			start--
			ctx++
		}
		hunkOld := oldLine - ctx
		hunkNew := newLine - ctx

		// Extend through changes, closing after a full context gap.
		end := i
		equalRun := 0
		for end < len(lines) {
			if lines[end].op == ' ' {
				equalRun++
				if equalRun > diffContextLines {
					break
				}
			} else {
				equalRun = 0
			}
			end++
		}
		if equalRun > diffContextLines {
			end -= equalRun - diffContextLines
		}

		var oldCount, newCount int
		var body strings.Builder
		for _, l := range lines[start:end] {
			switch l.op {
			case ' ':
				oldCount++
				newCount++
			case '-':
				oldCount++
			case '+':
				newCount++
			}
			body.WriteByte(l.op)
			body.WriteString(l.text)
			body.WriteByte('\n')
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", hunkOld, oldCount, hunkNew, newCount)
		b.WriteString(body.String())

		// Advance the line counters over the consumed range.
		for _, l := range lines[i:end] {
			switch l.op {
			case ' ':
				oldLine++
				newLine++
			case '-':
				oldLine++
			case '+':
				newLine++
			}
		}
		i = end
	}
	return b.String()
}
