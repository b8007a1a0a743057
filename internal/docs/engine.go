package docs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/fileio"
	"github.com/scribe-dev/scribe/internal/plugin"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/scriberr"
	"github.com/scribe-dev/scribe/internal/storage"
)

// Actions dispatched by manage_docs.
const (
	ActionReplaceSection     = "replace_section"
	ActionAppend             = "append"
	ActionApplyPatch         = "apply_patch"
	ActionReplaceRange       = "replace_range"
	ActionCreateDoc          = "create_doc"
	ActionGenerateTOC        = "generate_toc"
	ActionNormalizeHeaders   = "normalize_headers"
	ActionValidateCrosslinks = "validate_crosslinks"
	ActionListChecklist      = "list_checklist_items"
)

// Engine executes document operations under the transactional contract:
// sandbox check, snapshot, compute, preview, atomic write, verify with
// rollback, then record and notify.
type Engine struct {
	files   *sandbox.Checker
	store   storage.Store
	plugins *plugin.Registry
	log     *logger.Logger

	progressLogName string
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Files           *sandbox.Checker
	Store           storage.Store
	Plugins         *plugin.Registry
	Logger          *logger.Logger
	ProgressLogName string
}

// NewEngine creates a document engine.
func NewEngine(cfg EngineConfig) *Engine {
	name := cfg.ProgressLogName
	if name == "" {
		name = "AI_PROGRESS_LOG.md"
	}
	return &Engine{
		files:           cfg.Files,
		store:           cfg.Store,
		plugins:         cfg.Plugins,
		log:             cfg.Logger,
		progressLogName: name,
	}
}

// Request carries one manage_docs invocation.
type Request struct {
	Project *storage.Project
	Action  string
	DocName string
	DryRun  bool
	Agent   string
	Meta    map[string]string

	// Operation-specific fields.
	SectionID       string
	Content         string
	Template        string
	Frontmatter     map[string]any
	TargetDir       string
	PatchText       string
	PatchMode       string
	Edit            *StructuredEdit
	StartLine       int
	EndLine         int
	PatchSourceHash string
	CheckAnchors    bool
	Text            string
	CaseSensitive   bool
	RequireMatch    bool
}

// Result is the DocChange result returned for every action.
type Result struct {
	OK           bool              `json:"ok"`
	Action       string            `json:"action"`
	DocName      string            `json:"doc_name"`
	Path         string            `json:"path"`
	BeforeHash   string            `json:"before_hash,omitempty"`
	AfterHash    string            `json:"after_hash,omitempty"`
	DiffPreview  string            `json:"diff_preview"`
	DryRun       bool              `json:"dry_run,omitempty"`
	HunksApplied int               `json:"hunks_applied,omitempty"`
	Crosslinks   []CrosslinkResult `json:"crosslinks,omitempty"`
	Checklist    []ChecklistItem   `json:"checklist,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Apply dispatches one document action.
func (e *Engine) Apply(ctx context.Context, req Request) (*Result, error) {
	if req.Project == nil {
		return nil, scriberr.Validation("project", "project is required")
	}
	projectDir := filepath.Dir(req.Project.ProgressLogPath)

	switch req.Action {
	case ActionValidateCrosslinks:
		return e.validateCrosslinks(projectDir, req)
	case ActionListChecklist:
		return e.listChecklist(projectDir, req)
	case ActionCreateDoc:
		return e.createDoc(ctx, projectDir, req)
	case ActionReplaceSection, ActionAppend, ActionApplyPatch, ActionReplaceRange,
		ActionGenerateTOC, ActionNormalizeHeaders:
		return e.mutate(ctx, projectDir, req)
	default:
		return nil, scriberr.Validation("action", "unknown document action %q", req.Action)
	}
}

// mutate runs the shared transactional flow for body-rewriting actions.
func (e *Engine) mutate(ctx context.Context, projectDir string, req Request) (*Result, error) {
	docPath, err := ResolveDocPath(projectDir, e.progressLogName, req.DocName)
	if err != nil {
		return nil, err
	}
	checked, err := e.files.SafeFileOperation(docPath, "manage_docs")
	if err != nil {
		return nil, err
	}

	doc, err := LoadDocument(checked)
	if err != nil {
		return nil, err
	}
	if !doc.Exists && req.Action != ActionAppend {
		return nil, scriberr.NotFound("document", req.DocName).
			WithSuggestion("use create_doc to create it first")
	}
	beforeHash := ContentSHA256(doc.Raw)
	if req.PatchSourceHash != "" && req.PatchSourceHash != beforeHash {
		return nil, scriberr.NewCode(scriberr.KindConflict, scriberr.CodeHashMismatch,
			"document has changed since it was read").
			WithField("expected_hash", req.PatchSourceHash).
			WithField("current_hash", beforeHash).
			WithSuggestion("re-read the document and rebuild the patch")
	}

	result := &Result{Action: req.Action, DocName: req.DocName, Path: checked, BeforeHash: beforeHash}
	newBody, err := e.computeBody(doc, req, result)
	if err != nil {
		return nil, err
	}
	newContent, err := doc.Render(newBody)
	if err != nil {
		return nil, err
	}
	return e.commit(ctx, req, doc, result, newContent)
}

func (e *Engine) computeBody(doc *Document, req Request, result *Result) (string, error) {
	switch req.Action {
	case ActionReplaceSection:
		return replaceSection(doc.Body, req.SectionID, e.renderContent(req))
	case ActionAppend:
		content := e.renderContent(req)
		if content == "" {
			return "", scriberr.Validation("content", "append requires content or template")
		}
		if doc.Body == "" {
			return content, nil
		}
		return strings.TrimSuffix(doc.Body, "\n") + "\n\n" + content, nil
	case ActionApplyPatch:
		switch req.PatchMode {
		case PatchModeUnified, "":
			body, hunks, err := ApplyUnifiedPatch(doc.Body, req.PatchText)
			if err != nil {
				return "", err
			}
			result.HunksApplied = hunks
			return body, nil
		case PatchModeStructured:
			if req.Edit == nil {
				return "", scriberr.Validation("edit", "structured mode requires an edit object")
			}
			return ApplyStructuredEdit(doc.Body, *req.Edit)
		default:
			return "", scriberr.Validation("patch_mode", "patch_mode must be unified or structured")
		}
	case ActionReplaceRange:
		return ApplyStructuredEdit(doc.Body, StructuredEdit{
			Type:      EditReplaceRange,
			StartLine: req.StartLine,
			EndLine:   req.EndLine,
			Content:   e.renderContent(req),
		})
	case ActionGenerateTOC:
		return GenerateTOC(doc.Body), nil
	case ActionNormalizeHeaders:
		return NormalizeHeaders(doc.Body), nil
	}
	return "", scriberr.Validation("action", "unknown document action %q", req.Action)
}

// commit runs steps 4 through 9 of the transactional contract.
func (e *Engine) commit(ctx context.Context, req Request, doc *Document, result *Result, newContent string) (*Result, error) {
	result.DiffPreview = UnifiedDiff(doc.Raw, newContent)
	result.AfterHash = ContentSHA256(newContent)
	if req.DryRun {
		result.OK = true
		result.DryRun = true
		return result, nil
	}
	if newContent == doc.Raw {
		// Idempotent action with nothing to change; no write, no record.
		result.OK = true
		return result, nil
	}

	if err := fileio.WriteAtomic(doc.Path, []byte(newContent), 0o644); err != nil {
		return nil, err
	}
	written, err := os.ReadFile(doc.Path)
	if err != nil || ContentSHA256(string(written)) != result.AfterHash {
		if doc.Exists {
			_ = fileio.WriteAtomic(doc.Path, []byte(doc.Raw), 0o644)
		} else {
			_ = os.Remove(doc.Path)
		}
		return nil, scriberr.Verification(doc.Path)
	}

	change := &storage.DocumentChange{
		ProjectID: req.Project.ID,
		DocName:   req.DocName,
		Action:    req.Action,
		Agent:     req.Agent,
		Metadata:  req.Meta,
		SHABefore: result.BeforeHash,
		SHAAfter:  result.AfterHash,
		CreatedAt: time.Now().UTC(),
	}
	if req.SectionID != "" {
		change.Section = &req.SectionID
	}
	if err := e.store.InsertDocChange(ctx, change); err != nil {
		e.log.Warn("record doc change failed",
			zap.String("doc", req.DocName), zap.Error(err))
		result.Warnings = append(result.Warnings, "document change was applied but not recorded")
	}
	if e.plugins != nil {
		result.Warnings = append(result.Warnings, e.plugins.PostDocChange(ctx, change)...)
	}
	result.OK = true
	return result, nil
}

func (e *Engine) renderContent(req Request) string {
	content := req.Content
	if content == "" && req.Template != "" {
		content = req.Template
	}
	projectDir := filepath.Dir(req.Project.ProgressLogPath)
	vars := StandardVars(req.Project.Name, slugOf(req.Project.Name), req.Project.RepoRoot,
		req.Project.ProgressLogPath, projectDir)
	for k, v := range req.Meta {
		vars[k] = v
	}
	return vars.Render(content)
}

func (e *Engine) createDoc(ctx context.Context, projectDir string, req Request) (*Result, error) {
	if req.Content == "" && req.Template == "" {
		return nil, scriberr.NewCode(scriberr.KindParameterValidation, scriberr.CodeCreateDocMissing,
			"create_doc requires body content or a template")
	}
	name := req.DocName
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	dir := projectDir
	if req.TargetDir != "" {
		dir = filepath.Join(projectDir, req.TargetDir)
	}
	docPath := filepath.Join(dir, name)
	checked, err := e.files.SafeFileOperation(docPath, "manage_docs")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(checked); err == nil {
		return nil, scriberr.Conflict("document already exists: %s", name).
			WithSuggestion("use append or apply_patch to modify it")
	}

	body := e.renderContent(req)
	content := body
	if len(req.Frontmatter) > 0 {
		fmBytes, err := yaml.Marshal(req.Frontmatter)
		if err != nil {
			return nil, scriberr.Internal(err, "marshal front-matter")
		}
		content = frontMatterDelimiter + "\n" + strings.TrimSuffix(string(fmBytes), "\n") + "\n" +
			frontMatterDelimiter + "\n" + body
	}

	if err := os.MkdirAll(filepath.Dir(checked), 0o755); err != nil {
		return nil, scriberr.Internal(err, "create docs directory")
	}
	doc := &Document{Path: checked}
	result := &Result{Action: req.Action, DocName: name, Path: checked, BeforeHash: ""}
	return e.commit(ctx, req, doc, result, content)
}

func (e *Engine) validateCrosslinks(projectDir string, req Request) (*Result, error) {
	docPath, err := ResolveDocPath(projectDir, e.progressLogName, req.DocName)
	if err != nil {
		return nil, err
	}
	checked, err := e.files.SafeFileOperation(docPath, "manage_docs")
	if err != nil {
		return nil, err
	}
	doc, err := LoadDocument(checked)
	if err != nil {
		return nil, err
	}
	if !doc.Exists {
		return nil, scriberr.NotFound("document", req.DocName)
	}
	links, err := ValidateCrosslinks(doc, req.CheckAnchors)
	if err != nil {
		return nil, err
	}
	return &Result{OK: true, Action: req.Action, DocName: req.DocName, Path: checked, Crosslinks: links}, nil
}

func (e *Engine) listChecklist(projectDir string, req Request) (*Result, error) {
	docName := req.DocName
	if docName == "" {
		docName = DocChecklist
	}
	docPath, err := ResolveDocPath(projectDir, e.progressLogName, docName)
	if err != nil {
		return nil, err
	}
	checked, err := e.files.SafeFileOperation(docPath, "manage_docs")
	if err != nil {
		return nil, err
	}
	doc, err := LoadDocument(checked)
	if err != nil {
		return nil, err
	}
	if !doc.Exists {
		return nil, scriberr.NotFound("document", docName)
	}
	items := ListChecklistItems(doc, ChecklistFilter{
		Text:          req.Text,
		CaseSensitive: req.CaseSensitive,
		RequireMatch:  req.RequireMatch,
	})
	if req.RequireMatch && len(items) == 0 {
		return nil, scriberr.NotFound("checklist item", req.Text)
	}
	return &Result{OK: true, Action: req.Action, DocName: docName, Path: checked, Checklist: items}, nil
}

var sectionMarkerPattern = regexp.MustCompile(`^\s*<!-- ID: (.+?) -->\s*$`)

// replaceSection swaps the body between a pair of identical section markers.
func replaceSection(body, sectionID, content string) (string, error) {
	if sectionID == "" {
		return "", scriberr.Validation("section_id", "section_id is required")
	}
	lines := strings.Split(body, "\n")
	start, end := -1, -1
	for i, line := range lines {
		m := sectionMarkerPattern.FindStringSubmatch(line)
		if m == nil || m[1] != sectionID {
			continue
		}
		if start < 0 {
			start = i
		} else {
			end = i
			break
		}
	}
	if start < 0 {
		return "", scriberr.NotFound("section", sectionID).
			WithSuggestion(fmt.Sprintf("add <!-- ID: %s --> markers around the section first", sectionID))
	}
	if end < 0 {
		return "", scriberr.Validation("section_id", "section %q has no closing marker", sectionID)
	}
	out := make([]string, 0, len(lines))
	out = append(out, lines[:start+1]...)
	out = append(out, strings.Split(strings.TrimSuffix(content, "\n"), "\n")...)
	out = append(out, lines[end:]...)
	return strings.Join(out, "\n"), nil
}

func slugOf(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen && b.Len() > 0 {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
