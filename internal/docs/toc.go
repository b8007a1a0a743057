package docs

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	tocStartMarker = "<!-- TOC:start -->"
	tocEndMarker   = "<!-- TOC:end -->"
)

// Heading is one document heading found by the scanner.
type Heading struct {
	Level int
	Text  string
	Line  int // 1-indexed body line
	Slug  string
}

var setextUnderline = regexp.MustCompile(`^(=+|-+)\s*$`)

// ScanHeadings finds ATX and Setext headings in a body, skipping fenced code
// blocks, and assigns collision-suffixed anchor slugs.
func ScanHeadings(body string) []Heading {
	lines := strings.Split(body, "\n")
	var headings []Heading
	seen := map[string]int{}
	inFence := false
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if isFenceDelimiter(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if level, text, ok := parseATXHeading(line); ok {
			headings = append(headings, Heading{Level: level, Text: text, Line: i + 1, Slug: assignSlug(seen, text)})
			continue
		}
		// Setext: a non-empty text line underlined by === or ---.
		if i+1 < len(lines) && strings.TrimSpace(line) != "" && !strings.HasPrefix(strings.TrimSpace(line), "-") &&
			setextUnderline.MatchString(lines[i+1]) {
			level := 1
			if strings.HasPrefix(strings.TrimSpace(lines[i+1]), "-") {
				level = 2
			}
			headings = append(headings, Heading{Level: level, Text: strings.TrimSpace(line), Line: i + 1, Slug: assignSlug(seen, strings.TrimSpace(line))})
			i++
		}
	}
	return headings
}

func parseATXHeading(line string) (int, string, bool) {
	trimmed := strings.TrimSpace(line)
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level == len(trimmed) || trimmed[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(trimmed[level:]), true
}

func assignSlug(seen map[string]int, text string) string {
	base := Slug(text)
	count := seen[base]
	seen[base] = count + 1
	if count == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, count)
}

var accentFold = map[rune]rune{
	'à': 'a', 'á': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a', 'å': 'a',
	'è': 'e', 'é': 'e', 'ê': 'e', 'ë': 'e',
	'ì': 'i', 'í': 'i', 'î': 'i', 'ï': 'i',
	'ò': 'o', 'ó': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o', 'ø': 'o',
	'ù': 'u', 'ú': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n', 'ý': 'y',
}

// Slug derives a GitHub-style anchor slug: lowercased, accents folded,
// emoji and other symbols dropped, runs of non-alphanumerics collapsed to a
// single hyphen.
func Slug(text string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(text) {
		if folded, ok := accentFold[r]; ok {
			r = folded
		}
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case unicode.IsSymbol(r), unicode.IsMark(r):
			// Emoji and symbols contribute nothing, not even a hyphen.
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// GenerateTOC writes or replaces the marker-delimited TOC block. An existing
// block is replaced in place; otherwise the block is inserted at the top of
// the body. Unchanged headings produce an unchanged body.
func GenerateTOC(body string) string {
	headings := ScanHeadings(stripTOCBlock(body))
	var toc strings.Builder
	toc.WriteString(tocStartMarker + "\n")
	for _, h := range headings {
		toc.WriteString(strings.Repeat("  ", h.Level-1))
		fmt.Fprintf(&toc, "- [%s](#%s)\n", h.Text, h.Slug)
	}
	toc.WriteString(tocEndMarker)
	block := toc.String()

	lines := strings.Split(body, "\n")
	start, end := findTOCBlock(lines)
	if start >= 0 {
		out := append([]string{}, lines[:start]...)
		out = append(out, strings.Split(block, "\n")...)
		out = append(out, lines[end+1:]...)
		return strings.Join(out, "\n")
	}
	return block + "\n\n" + body
}

func findTOCBlock(lines []string) (int, int) {
	start := -1
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case tocStartMarker:
			start = i
		case tocEndMarker:
			if start >= 0 {
				return start, i
			}
		}
	}
	return -1, -1
}

// stripTOCBlock removes an existing TOC block so its list items are not
// scanned as content.
func stripTOCBlock(body string) string {
	lines := strings.Split(body, "\n")
	start, end := findTOCBlock(lines)
	if start < 0 {
		return body
	}
	return strings.Join(append(append([]string{}, lines[:start]...), lines[end+1:]...), "\n")
}
