package docs

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// Well-known document names accepted by manage_docs.
const (
	DocArchitecture = "architecture"
	DocPhasePlan    = "phase_plan"
	DocChecklist    = "checklist"
	DocProgressLog  = "progress_log"
	DocDocLog       = "doc_log"
	DocSecurityLog  = "security_log"
	DocBugLog       = "bug_log"
)

var docFileNames = map[string]string{
	DocArchitecture: "ARCHITECTURE.md",
	DocPhasePlan:    "PHASE_PLAN.md",
	DocChecklist:    "CHECKLIST.md",
	DocProgressLog:  "", // resolved from the project's configured log name
	DocDocLog:       "DOC_LOG.md",
	DocSecurityLog:  "SECURITY_LOG.md",
	DocBugLog:       "BUG_LOG.md",
}

// KnownDocNames lists the well-known names in stable order.
func KnownDocNames() []string {
	names := make([]string, 0, len(docFileNames))
	for n := range docFileNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveDocPath maps a well-known doc name to its path in the project
// directory. Names carrying a .md suffix resolve as literal file names so
// create_doc output stays addressable.
func ResolveDocPath(projectDir, progressLogName, docName string) (string, error) {
	if strings.HasSuffix(docName, ".md") {
		if strings.Contains(docName, "/") || strings.Contains(docName, "\\") {
			return "", scriberr.Validation("doc_name", "doc name must not contain path separators")
		}
		return filepath.Join(projectDir, docName), nil
	}
	file, ok := docFileNames[docName]
	if !ok {
		return "", scriberr.Validation("doc_name", "unknown document %q; valid names are %s",
			docName, strings.Join(KnownDocNames(), ", "))
	}
	if docName == DocProgressLog {
		file = progressLogName
	}
	return filepath.Join(projectDir, file), nil
}

// Document is one loaded Markdown file split at the front-matter boundary.
type Document struct {
	Path        string
	Raw         string
	FrontMatter FrontMatter
	Body        string
	BodyOffset  int
	Exists      bool
}

// LoadDocument reads and splits a document. A missing file loads as an
// empty, non-existent document so append and create flows share one path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Document{Path: path, FrontMatter: FrontMatter{Values: map[string]any{}}}, nil
	}
	if err != nil {
		return nil, scriberr.Internal(err, "read document %s", path)
	}
	raw := string(data)
	fm, body, offset, err := SplitFrontMatter(raw)
	if err != nil {
		return nil, err
	}
	return &Document{
		Path:        path,
		Raw:         raw,
		FrontMatter: fm,
		Body:        body,
		BodyOffset:  offset,
		Exists:      true,
	}, nil
}

// Render reassembles the document with a new body.
func (d *Document) Render(newBody string) (string, error) {
	return d.FrontMatter.Render(newBody, false)
}

// ContentSHA256 hashes document content; the empty document hashes to "".
func ContentSHA256(content string) string {
	if content == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
