package docs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// TemplateVars is the variable map for template rendering. Placeholders use
// {name} form; uppercase variants are accepted.
type TemplateVars map[string]string

// StandardVars builds the variable map for a project.
func StandardVars(projectName, projectSlug, projectRoot, progressLog, docsDir string) TemplateVars {
	now := time.Now().UTC()
	return TemplateVars{
		"project_name": projectName,
		"project_slug": projectSlug,
		"project_root": projectRoot,
		"progress_log": progressLog,
		"docs_dir":     docsDir,
		"date_utc":     now.Format("2006-01-02"),
		"now_utc":      now.Format("2006-01-02 15:04:05 UTC"),
	}
}

// Render substitutes {placeholder} occurrences, uppercase included. Unknown
// placeholders are left in place so typos stay visible.
func (v TemplateVars) Render(template string) string {
	pairs := make([]string, 0, len(v)*4)
	for key, value := range v {
		pairs = append(pairs, "{"+key+"}", value, "{"+strings.ToUpper(key)+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// Standard template pack scaffolded by generate_doc_templates.
var standardTemplates = map[string]string{
	"ARCHITECTURE.md": `---
project: "{project_slug}"
doc: architecture
related_docs: []
---
# {project_name} Architecture

<!-- ID: overview -->
## Overview

Describe the system here.
<!-- ID: overview -->

<!-- ID: components -->
## Components

<!-- ID: components -->
`,
	"PHASE_PLAN.md": `---
project: "{project_slug}"
doc: phase_plan
current_phase: 1
---
# {project_name} Phase Plan

## Phase 1

- [ ] Define scope
`,
	"CHECKLIST.md": `---
project: "{project_slug}"
doc: checklist
---
# {project_name} Checklist

- [ ] Initial setup ({date_utc})
`,
	"DOC_LOG.md": `---
project: "{project_slug}"
doc: doc_log
---
# {project_name} Document Updates

<!-- entries below are teed from the doc_updates stream -->
`,
	"SECURITY_LOG.md": `---
project: "{project_slug}"
doc: security_log
---
# {project_name} Security Log

<!-- entries below are teed from the security stream -->
`,
	"BUG_LOG.md": `---
project: "{project_slug}"
doc: bug_log
---
# {project_name} Bug Log

<!-- entries below are teed from the bugs stream -->
`,
}

// ScaffoldResult reports one scaffolded file.
type ScaffoldResult struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

// ScaffoldTemplates writes the standard docs into a project directory,
// skipping files that already exist. Custom templates, when a directory is
// configured, override the builtin pack by file name.
func ScaffoldTemplates(projectDir, customTemplatesDir string, vars TemplateVars, write func(path, content string) error) ([]ScaffoldResult, error) {
	templates := make(map[string]string, len(standardTemplates))
	for name, body := range standardTemplates {
		templates[name] = body
	}
	if customTemplatesDir != "" {
		entries, err := os.ReadDir(customTemplatesDir)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
					continue
				}
				data, rerr := os.ReadFile(filepath.Join(customTemplatesDir, e.Name()))
				if rerr != nil {
					continue
				}
				templates[e.Name()] = string(data)
			}
		}
	}

	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]ScaffoldResult, 0, len(names))
	for _, name := range names {
		path := filepath.Join(projectDir, name)
		if _, err := os.Stat(path); err == nil {
			results = append(results, ScaffoldResult{Name: name, Path: path})
			continue
		}
		if err := write(path, vars.Render(templates[name])); err != nil {
			return results, err
		}
		results = append(results, ScaffoldResult{Name: name, Path: path, Created: true})
	}
	return results, nil
}
