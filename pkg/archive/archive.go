// Package archive mirrors fetched frames to long-term storage. Archival is
// optional and strictly best-effort: the entropy pipeline never depends on
// an archived copy.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Archiver stores a named blob.
type Archiver interface {
	// Store writes data under name and returns a locator for the stored
	// copy (a path or URL, depending on the backend).
	Store(ctx context.Context, name string, data []byte) (string, error)
}

// FilesystemArchive keeps archived frames in a local directory tree.
type FilesystemArchive struct {
	dir string
}

// NewFilesystemArchive creates the archive directory if needed.
func NewFilesystemArchive(dir string) (*FilesystemArchive, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FilesystemArchive{dir: dir}, nil
}

func (a *FilesystemArchive) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Reject names that would escape the archive root.
	clean := filepath.Clean(name)
	if clean != filepath.Base(clean) {
		return "", fmt.Errorf("invalid archive name %q", name)
	}

	path := filepath.Join(a.dir, clean)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", name, err)
	}
	return path, nil
}
