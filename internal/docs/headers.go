package docs

import (
	"regexp"
	"strconv"
	"strings"
)

var headingNumberPrefix = regexp.MustCompile(`^\d+(\.\d+)*\.?\s+`)

// NormalizeHeaders renumbers headings into hierarchical 1., 1.1., 1.1.1.
// form, converting Setext headings to ATX. Fenced code blocks and the TOC
// block are left alone. Applying it twice yields the same body.
func NormalizeHeaders(body string) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))
	counters := make([]int, 6)
	inFence := false
	inTOC := false

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if isFenceDelimiter(line) {
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if trimmed == tocStartMarker {
			inTOC = true
		}
		if trimmed == tocEndMarker {
			inTOC = false
			out = append(out, line)
			continue
		}
		if inFence || inTOC {
			out = append(out, line)
			continue
		}

		level, text, ok := parseATXHeading(line)
		if !ok {
			// Setext headings become ATX before numbering.
			if i+1 < len(lines) && trimmed != "" && !strings.HasPrefix(trimmed, "-") &&
				setextUnderline.MatchString(lines[i+1]) {
				level = 1
				if strings.HasPrefix(strings.TrimSpace(lines[i+1]), "-") {
					level = 2
				}
				text = trimmed
				ok = true
				i++
			}
		}
		if !ok {
			out = append(out, line)
			continue
		}

		counters[level-1]++
		for d := level; d < len(counters); d++ {
			counters[d] = 0
		}
		out = append(out, strings.Repeat("#", level)+" "+headingNumber(counters, level)+" "+stripHeadingNumber(text))
	}
	return strings.Join(out, "\n")
}

func headingNumber(counters []int, level int) string {
	parts := make([]string, level)
	for i := 0; i < level; i++ {
		n := counters[i]
		if n == 0 {
			n = 1
		}
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".") + "."
}

func stripHeadingNumber(text string) string {
	return headingNumberPrefix.ReplaceAllString(text, "")
}
