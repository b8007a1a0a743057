package sandbox

import "github.com/scribe-dev/scribe/internal/scriberr"

// Permissions gates operation classes per repository. Zero value denies the
// optional operations and does not require a project, matching a fresh
// repository with no .scribe config.
type Permissions struct {
	AllowRotate       bool
	AllowGenerateDocs bool
	AllowBulkEntries  bool
	RequireProject    bool
}

// Operation classes checked by the permission gate.
const (
	OpRotate       = "rotate_log"
	OpGenerateDocs = "generate_doc_templates"
	OpBulkEntries  = "bulk_entries"
)

// Allow returns nil when the operation class is permitted.
func (p Permissions) Allow(operation string) error {
	switch operation {
	case OpRotate:
		if !p.AllowRotate {
			return scriberr.Permission(operation)
		}
	case OpGenerateDocs:
		if !p.AllowGenerateDocs {
			return scriberr.Permission(operation)
		}
	case OpBulkEntries:
		if !p.AllowBulkEntries {
			return scriberr.Permission(operation)
		}
	}
	return nil
}

// Checker composes the path sandbox with the permission gate. Tools call
// SafeFileOperation instead of touching either part directly.
type Checker struct {
	Sandbox     *Sandbox
	Permissions Permissions
}

// SafeFileOperation validates both the operation class and the target path,
// returning the checked absolute path on success.
func (c *Checker) SafeFileOperation(path, operation string) (string, error) {
	if err := c.Permissions.Allow(operation); err != nil {
		return "", err
	}
	return c.Sandbox.Check(path)
}
