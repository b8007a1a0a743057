package fileio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RotationResult describes one completed rotation.
type RotationResult struct {
	ArchivePath string
	ArchiveHash string
	PriorHash   string
	Bytes       int64
}

// Rotate archives the current file to a timestamped sibling and truncates it,
// all under the advisory lock. The truncated file starts with a header
// naming the archive and a hash-chain value: the prior archive's hash linked
// to this archive's hash. Successive rotations therefore form an append-only
// chain per log file.
func Rotate(ctx context.Context, path, archiveDir, priorHash string, budget time.Duration) (*RotationResult, error) {
	lock, err := AcquireLock(ctx, path, budget)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if archiveDir == "" {
		archiveDir = filepath.Dir(path)
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return nil, err
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	base := filepath.Base(path)
	archivePath := filepath.Join(archiveDir, fmt.Sprintf("%s.%s.archive", base, stamp))

	sum := sha256.Sum256(content)
	archiveHash := hex.EncodeToString(sum[:])

	if err := WriteAtomic(archivePath, content, 0o644); err != nil {
		return nil, err
	}

	header := fmt.Sprintf("<!-- rotated: archive=%s chain=%s->%s at=%s -->\n",
		archivePath, chainValue(priorHash), archiveHash,
		time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))

	f := lock.File()
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	if _, err := f.WriteString(header); err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, err
	}

	return &RotationResult{
		ArchivePath: archivePath,
		ArchiveHash: archiveHash,
		PriorHash:   priorHash,
		Bytes:       int64(len(content)),
	}, nil
}

func chainValue(prior string) string {
	if prior == "" {
		return "genesis"
	}
	return prior
}
