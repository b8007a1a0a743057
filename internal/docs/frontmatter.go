// Package docs implements the document mutation engine: named Markdown
// documents with YAML front-matter, a transactional write contract with
// verification and rollback, and the structural operations exposed through
// the manage_docs tool.
package docs

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

const frontMatterDelimiter = "---"

// FrontMatter is the parsed YAML block at the top of a document. Raw holds
// the original text so untouched front-matter round-trips byte-for-byte.
type FrontMatter struct {
	Raw    string
	Values map[string]any
}

// SplitFrontMatter separates a document into front-matter and body. The
// front-matter block must start on the first line; documents without one get
// an empty FrontMatter and an unchanged body. BodyOffset is the number of
// file lines consumed before the body, used to translate body-relative line
// numbers in errors and checklist results.
func SplitFrontMatter(content string) (fm FrontMatter, body string, bodyOffset int, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontMatterDelimiter {
		return FrontMatter{Values: map[string]any{}}, content, 0, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == frontMatterDelimiter {
			raw := strings.Join(lines[1:i], "\n")
			values := map[string]any{}
			if uerr := yaml.Unmarshal([]byte(raw), &values); uerr != nil {
				return FrontMatter{}, "", 0, scriberr.Validation("frontmatter", "invalid front-matter YAML").WithCause(uerr)
			}
			return FrontMatter{Raw: raw, Values: values}, strings.Join(lines[i+1:], "\n"), i + 1, nil
		}
	}
	// Opening delimiter without a closing one; treat the whole file as body.
	return FrontMatter{Values: map[string]any{}}, content, 0, nil
}

// Render reassembles a document from front-matter and body. When the values
// map was modified the YAML is re-marshaled; otherwise the raw block is
// preserved as read.
func (fm FrontMatter) Render(body string, modified bool) (string, error) {
	if fm.Raw == "" && len(fm.Values) == 0 {
		return body, nil
	}
	block := fm.Raw
	if modified {
		out, err := yaml.Marshal(fm.Values)
		if err != nil {
			return "", scriberr.Internal(err, "marshal front-matter")
		}
		block = strings.TrimSuffix(string(out), "\n")
	}
	return frontMatterDelimiter + "\n" + block + "\n" + frontMatterDelimiter + "\n" + body, nil
}

// RelatedDocs returns the front-matter's related_docs entries as strings.
func (fm FrontMatter) RelatedDocs() []string {
	raw, ok := fm.Values["related_docs"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
