// Package sandbox enforces the per-repository path policy. Every file
// operation in Scribe resolves its target through a Sandbox before touching
// the filesystem.
//
// Policy: a path is allowed only when its resolved form sits under one of the
// allowed roots (repo root, docs dir, plugins dir, custom templates dir, the
// hidden .scribe dir, and the parent of the database file). Symlinks are
// rejected wholesale, before realpath resolution, because realpath would
// defeat the check and open a time-of-check/time-of-use window.
package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/scribe-dev/scribe/internal/scriberr"
)

// Sandbox holds the resolved allowed roots for one repository.
type Sandbox struct {
	repoRoot string
	allowed  []string
}

// Options configures additional allowed roots beyond the repository root.
type Options struct {
	DocsDir         string
	PluginsDir      string
	TemplatesDir    string
	DatabasePath    string
	ExtraAllowRoots []string
}

// New creates a sandbox for a repository. The repo root must exist; the
// other roots are added when non-empty. Roots are canonicalized once at
// construction so later checks compare against stable paths.
func New(repoRoot string, opts Options) (*Sandbox, error) {
	resolved, err := filepath.EvalSymlinks(repoRoot)
	if err != nil {
		return nil, scriberr.Security("repository root is not resolvable: %s", repoRoot).WithCause(err)
	}
	sb := &Sandbox{repoRoot: resolved}
	sb.addRoot(resolved)
	sb.addRoot(filepath.Join(resolved, ".scribe"))
	sb.addRoot(opts.DocsDir)
	sb.addRoot(opts.PluginsDir)
	sb.addRoot(opts.TemplatesDir)
	if opts.DatabasePath != "" {
		sb.addRoot(filepath.Dir(opts.DatabasePath))
	}
	for _, r := range opts.ExtraAllowRoots {
		sb.addRoot(r)
	}
	return sb, nil
}

func (s *Sandbox) addRoot(root string) {
	if root == "" {
		return
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return
	}
	// Resolve when the root exists; keep the absolute form otherwise so
	// roots created later (docs dir before first write) still match.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	for _, existing := range s.allowed {
		if existing == abs {
			return
		}
	}
	s.allowed = append(s.allowed, abs)
}

// RepoRoot returns the canonicalized repository root.
func (s *Sandbox) RepoRoot() string { return s.repoRoot }

// Check validates a path against the policy and returns its cleaned absolute
// form. The returned path is safe to open. Order matters: cheap byte-level
// rejections run before any filesystem access.
func (s *Sandbox) Check(path string) (string, error) {
	if path == "" {
		return "", scriberr.Security("empty path")
	}
	if strings.ContainsRune(path, 0) {
		return "", scriberr.Security("path contains NUL byte")
	}
	lower := strings.ToLower(path)
	if strings.Contains(lower, "..%2f") || strings.Contains(lower, "..%5c") {
		return "", scriberr.Security("path contains encoded traversal: %s", path)
	}

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.repoRoot, abs)
	}
	abs = filepath.Clean(abs)

	if err := s.rejectSymlinks(abs); err != nil {
		return "", err
	}

	resolved := abs
	if r, err := filepath.EvalSymlinks(abs); err == nil {
		resolved = r
	} else if dir, dirErr := filepath.EvalSymlinks(filepath.Dir(abs)); dirErr == nil {
		// Target does not exist yet; resolve the parent and re-join.
		resolved = filepath.Join(dir, filepath.Base(abs))
	}

	for _, root := range s.allowed {
		if resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return abs, nil
		}
	}
	return "", scriberr.Security("path escapes repository sandbox: %s", path).
		WithField("path", path).
		WithField("resolved", resolved)
}

// rejectSymlinks lstats the target and each ancestor up to the repo root and
// denies if any of them is a symlink. A missing component is fine; it only
// means the file has not been created yet.
func (s *Sandbox) rejectSymlinks(abs string) error {
	cur := abs
	for {
		info, err := os.Lstat(cur)
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			return scriberr.Security("symlinks are not permitted: %s", cur).WithField("path", cur)
		}
		parent := filepath.Dir(cur)
		if parent == cur || cur == s.repoRoot {
			return nil
		}
		cur = parent
	}
}
