package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/logging"
)

const directorySourceName = "DIRECTORY"

// DirectorySource watches a drop directory for image frames. It serves
// air-gapped deployments and tests, where frames arrive out of band
// instead of over HTTP.
type DirectorySource struct {
	dir     string
	watcher *fsnotify.Watcher
	logger  *logging.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool
}

// NewDirectorySource starts watching dir, creating it if needed.
func NewDirectorySource(dir string, logger *logging.Logger) (*DirectorySource, error) {
	if dir == "" {
		return nil, fmt.Errorf("directory source requires a watch directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &DirectorySource{
		dir:     dir,
		watcher: watcher,
		logger:  logger.WithComponent("ingest.directory"),
		pending: make(map[string]struct{}),
	}
	go s.run()
	return s, nil
}

func (s *DirectorySource) Name() string { return directorySourceName }

// run collects watcher events until Close. Create and Write both mark a
// file pending: writers may touch a frame several times before it is
// complete, and FetchLatest reads whatever is on disk at drain time.
func (s *DirectorySource) run() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isImageFile(event.Name) {
				continue
			}
			s.mu.Lock()
			s.pending[event.Name] = struct{}{}
			s.mu.Unlock()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// FetchLatest drains the pending set and loads each frame from disk.
// Files that vanished or are empty are skipped.
func (s *DirectorySource) FetchLatest(ctx context.Context) ([]Frame, error) {
	s.mu.Lock()
	paths := make([]string, 0, len(s.pending))
	for path := range s.pending {
		paths = append(paths, path)
	}
	s.pending = make(map[string]struct{})
	s.mu.Unlock()

	frames := make([]Frame, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		data, err := os.ReadFile(path)
		if err != nil || len(data) == 0 {
			s.logger.Warn("skipping unreadable frame", map[string]interface{}{
				"path": path,
			})
			continue
		}

		frames = append(frames, Frame{
			Name:      filepath.Base(path),
			Path:      path,
			Data:      data,
			Source:    directorySourceName,
			Hash:      contentHash(data),
			FetchedAt: time.Now().UTC(),
		})
	}

	if len(frames) > 0 {
		s.logger.Info("picked up dropped frames", map[string]interface{}{
			"count": len(frames),
		})
	}
	return frames, nil
}

// Stored lists the frames currently in the watch directory, newest first.
func (s *DirectorySource) Stored() ([]FrameRef, error) {
	return listFrames(s.dir)
}

// Close stops the watcher. Safe to call more than once.
func (s *DirectorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.watcher.Close()
}
