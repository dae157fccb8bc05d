package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemArchiveStore(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFilesystemArchive(filepath.Join(dir, "frames"))
	require.NoError(t, err)

	path, err := a.Store(context.Background(), "sdo_test.jpg", []byte("frame-bytes"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame-bytes"), data)
}

func TestFilesystemArchiveRejectsPathEscape(t *testing.T) {
	a, err := NewFilesystemArchive(t.TempDir())
	require.NoError(t, err)

	_, err = a.Store(context.Background(), "../escape.jpg", []byte("x"))
	assert.Error(t, err)
}

func TestFilesystemArchiveRequiresDir(t *testing.T) {
	_, err := NewFilesystemArchive("")
	assert.Error(t, err)
}
