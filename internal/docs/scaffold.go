package docs

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/fileio"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/storage"
)

// Scaffold writes the standard document set for a project, honoring the
// generate_doc_templates permission gate. Existing files are never
// overwritten.
func (e *Engine) Scaffold(ctx context.Context, project *storage.Project, customTemplatesDir string) ([]ScaffoldResult, error) {
	projectDir := filepath.Dir(project.ProgressLogPath)
	if _, err := e.files.SafeFileOperation(projectDir, sandbox.OpGenerateDocs); err != nil {
		return nil, err
	}

	vars := StandardVars(project.Name, slugOf(project.Name), project.RepoRoot,
		project.ProgressLogPath, projectDir)
	results, err := ScaffoldTemplates(projectDir, customTemplatesDir, vars, func(path, content string) error {
		checked, cerr := e.files.SafeFileOperation(path, sandbox.OpGenerateDocs)
		if cerr != nil {
			return cerr
		}
		return fileio.WriteAtomic(checked, []byte(content), 0o644)
	})
	if err != nil {
		return results, err
	}

	created := 0
	for _, r := range results {
		if r.Created {
			created++
		}
	}
	e.log.Info("scaffolded project docs",
		zap.String("project", project.Name),
		zap.Int("created", created))
	return results, nil
}
