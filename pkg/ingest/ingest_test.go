package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFrameServer(t *testing.T, frames map[string][]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := frames[filepath.Base(r.URL.Path)]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSDOFetchLatest(t *testing.T) {
	server := newFrameServer(t, map[string][]byte{
		"latest_1024_0193.jpg": []byte("frame-0193"),
		"latest_1024_0304.jpg": []byte("frame-0304"),
	})

	cacheDir := t.TempDir()
	source, err := NewSDOSource(SDOOptions{
		BaseURL:  server.URL,
		Images:   []string{"latest_1024_0193.jpg", "latest_1024_0304.jpg"},
		CacheDir: cacheDir,
	})
	require.NoError(t, err)
	assert.Equal(t, "NASA_SDO", source.Name())

	frames, err := source.FetchLatest(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 2)

	for _, frame := range frames {
		assert.Equal(t, "NASA_SDO", frame.Source)
		assert.Len(t, frame.Hash, 16)
		assert.NotEmpty(t, frame.Data)

		// The frame is also cached on disk.
		cached, err := os.ReadFile(frame.Path)
		require.NoError(t, err)
		assert.Equal(t, frame.Data, cached)
	}

	stored, err := source.Stored()
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSDOFetchSkipsFailedDownloads(t *testing.T) {
	server := newFrameServer(t, map[string][]byte{
		"good.jpg": []byte("frame"),
	})

	source, err := NewSDOSource(SDOOptions{
		BaseURL:  server.URL,
		Images:   []string{"good.jpg", "missing.jpg"},
		CacheDir: t.TempDir(),
	})
	require.NoError(t, err)

	frames, err := source.FetchLatest(context.Background())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("frame"), frames[0].Data)
}

func TestSDOFetchAllFailed(t *testing.T) {
	server := newFrameServer(t, nil)

	source, err := NewSDOSource(SDOOptions{
		BaseURL:  server.URL,
		Images:   []string{"missing.jpg"},
		CacheDir: t.TempDir(),
	})
	require.NoError(t, err)

	_, err = source.FetchLatest(context.Background())
	assert.Error(t, err)
}

func TestSDORetention(t *testing.T) {
	server := newFrameServer(t, map[string][]byte{
		"a.jpg": []byte("a"),
		"b.jpg": []byte("b"),
	})

	cacheDir := t.TempDir()
	source, err := NewSDOSource(SDOOptions{
		BaseURL:         server.URL,
		Images:          []string{"a.jpg", "b.jpg"},
		CacheDir:        cacheDir,
		MaxStoredFrames: 3,
	})
	require.NoError(t, err)

	// Three batches of two frames; retention keeps only the newest three.
	for i := 0; i < 3; i++ {
		_, err := source.FetchLatest(context.Background())
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond) // distinct mtimes for ordering
	}

	stored, err := source.Stored()
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	for i := 1; i < len(stored); i++ {
		assert.False(t, stored[i].ModTime.After(stored[i-1].ModTime),
			"stored frames must be listed newest first")
	}
}

func TestDirectorySourcePicksUpDroppedFrames(t *testing.T) {
	dir := t.TempDir()
	source, err := NewDirectorySource(dir, nil)
	require.NoError(t, err)
	defer source.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop.png"), []byte("png-bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	assert.Eventually(t, func() bool {
		frames, err := source.FetchLatest(context.Background())
		if err != nil || len(frames) == 0 {
			return false
		}
		return frames[0].Name == "drop.png" && string(frames[0].Data) == "png-bytes"
	}, 2*time.Second, 20*time.Millisecond)

	stored, err := source.Stored()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "drop.png", stored[0].Name)
}

func TestDirectorySourceCloseTwice(t *testing.T) {
	source, err := NewDirectorySource(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, source.Close())
	require.NoError(t, source.Close())
}
