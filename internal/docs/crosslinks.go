package docs

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// CrosslinkResult reports one related_docs entry check.
type CrosslinkResult struct {
	Link        string `json:"link"`
	Path        string `json:"path"`
	Anchor      string `json:"anchor,omitempty"`
	FileExists  bool   `json:"file_exists"`
	AnchorFound *bool  `json:"anchor_found,omitempty"`
}

// ValidateCrosslinks checks each related_docs front-matter entry of the form
// "PATH" or "PATH#anchor". Paths resolve relative to the document's
// directory. With checkAnchors set, the target's headings must generate the
// anchor slug.
func ValidateCrosslinks(doc *Document, checkAnchors bool) ([]CrosslinkResult, error) {
	links := doc.FrontMatter.RelatedDocs()
	results := make([]CrosslinkResult, 0, len(links))
	baseDir := filepath.Dir(doc.Path)

	for _, link := range links {
		path, anchor := link, ""
		if idx := strings.Index(link, "#"); idx >= 0 {
			path, anchor = link[:idx], link[idx+1:]
		}
		res := CrosslinkResult{Link: link, Path: path, Anchor: anchor}
		target := filepath.Join(baseDir, path)
		if info, err := os.Stat(target); err == nil && !info.IsDir() {
			res.FileExists = true
		}
		if res.FileExists && checkAnchors && anchor != "" {
			found := false
			if targetDoc, err := LoadDocument(target); err == nil {
				for _, h := range ScanHeadings(targetDoc.Body) {
					if h.Slug == anchor {
						found = true
						break
					}
				}
			}
			res.AnchorFound = &found
		}
		results = append(results, res)
	}
	return results, nil
}

// ChecklistItem is one matched checklist line.
type ChecklistItem struct {
	Text     string `json:"text"`
	Checked  bool   `json:"checked"`
	BodyLine int    `json:"body_line"`
	FileLine int    `json:"file_line"`
}

// ChecklistFilter narrows checklist queries.
type ChecklistFilter struct {
	Text          string
	CaseSensitive bool
	RequireMatch  bool
}

var checklistPattern = regexp.MustCompile(`^\s*[-*] \[([ xX])\]\s+(.*)$`)

// ListChecklistItems returns checklist lines, optionally filtered by a text
// match. File lines account for the front-matter offset so callers can
// address the match in the file directly.
func ListChecklistItems(doc *Document, f ChecklistFilter) []ChecklistItem {
	needle := f.Text
	if !f.CaseSensitive {
		needle = strings.ToLower(needle)
	}
	var items []ChecklistItem
	inFence := false
	for i, line := range strings.Split(doc.Body, "\n") {
		if isFenceDelimiter(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		m := checklistPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := m[2]
		if needle != "" {
			haystack := text
			if !f.CaseSensitive {
				haystack = strings.ToLower(haystack)
			}
			if !strings.Contains(haystack, needle) {
				continue
			}
		}
		items = append(items, ChecklistItem{
			Text:     text,
			Checked:  m[1] != " ",
			BodyLine: i + 1,
			FileLine: i + 1 + doc.BodyOffset,
		})
	}
	return items
}
