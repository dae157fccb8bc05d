package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/TheEntropyCollective/heliorand/pkg/archive"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/workers"
)

const sdoSourceName = "NASA_SDO"

// SDOSource fetches the latest full-disk images from the NASA Solar
// Dynamics Observatory and caches them on disk.
type SDOSource struct {
	baseURL   string
	images    []string
	cacheDir  string
	maxStored int
	client    *http.Client
	workers   *workers.Pool
	archiver  archive.Archiver
	logger    *logging.Logger
}

// SDOOptions configures an SDOSource.
type SDOOptions struct {
	BaseURL         string
	Images          []string
	CacheDir        string
	MaxStoredFrames int
	FetchTimeout    time.Duration
	Archiver        archive.Archiver // optional frame mirror
	Workers         *workers.Pool
	Logger          *logging.Logger
}

// NewSDOSource creates the source and its cache directory.
func NewSDOSource(opts SDOOptions) (*SDOSource, error) {
	if opts.BaseURL == "" || len(opts.Images) == 0 {
		return nil, fmt.Errorf("sdo source requires a base url and image list")
	}
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("sdo source requires a cache directory")
	}
	if err := os.MkdirAll(opts.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame cache: %w", err)
	}

	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxStored := opts.MaxStoredFrames
	if maxStored <= 0 {
		maxStored = 10
	}
	pool := opts.Workers
	if pool == nil {
		pool = workers.NewPool(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SDOSource{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		images:    opts.Images,
		cacheDir:  opts.CacheDir,
		maxStored: maxStored,
		client:    &http.Client{Timeout: timeout},
		workers:   pool,
		archiver:  opts.Archiver,
		logger:    logger.WithComponent("ingest.sdo"),
	}, nil
}

func (s *SDOSource) Name() string { return sdoSourceName }

// FetchLatest downloads all configured wavelength images concurrently.
// Failed downloads are skipped; the batch fails only if nothing at all
// could be fetched.
func (s *SDOSource) FetchLatest(ctx context.Context) ([]Frame, error) {
	// Millisecond resolution keeps batch filenames distinct even when
	// fetches run back to back.
	batch := time.Now().UTC().Format("20060102_150405.000")

	fetched, errs := workers.Map(ctx, s.workers, len(s.images), func(i int) (Frame, error) {
		return s.fetchOne(ctx, batch, s.images[i])
	})

	frames := make([]Frame, 0, len(fetched))
	var firstErr error
	for i, err := range errs {
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Warn("frame download failed", map[string]interface{}{
				"image": s.images[i],
				"error": err.Error(),
			})
			continue
		}
		frames = append(frames, fetched[i])
	}

	if len(frames) == 0 && firstErr != nil {
		return nil, fmt.Errorf("all frame downloads failed: %w", firstErr)
	}

	s.cleanup()

	s.logger.Info("fetched frames", map[string]interface{}{
		"downloaded": len(frames),
		"requested":  len(s.images),
	})
	return frames, nil
}

func (s *SDOSource) fetchOne(ctx context.Context, batch, image string) (Frame, error) {
	url := s.baseURL + "/" + image

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Frame{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Frame{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Frame{}, err
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("empty response from %s", url)
	}

	name := fmt.Sprintf("sdo_%s_%s", batch, image)
	path := filepath.Join(s.cacheDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Frame{}, fmt.Errorf("failed to cache frame: %w", err)
	}

	frame := Frame{
		Name:      name,
		Path:      path,
		Data:      data,
		Source:    sdoSourceName,
		Hash:      contentHash(data),
		FetchedAt: time.Now().UTC(),
	}

	s.logger.Debug("fetched frame", map[string]interface{}{
		"image": image,
		"bytes": len(data),
		"hash":  frame.Hash,
	})

	if s.archiver != nil {
		if _, err := s.archiver.Store(ctx, name, data); err != nil {
			s.logger.Warn("frame archival failed", map[string]interface{}{
				"frame": name,
				"error": err.Error(),
			})
		}
	}
	return frame, nil
}

// Stored lists cached frames, newest first.
func (s *SDOSource) Stored() ([]FrameRef, error) {
	return listFrames(s.cacheDir)
}

// cleanup enforces the retention limit, dropping the oldest cached frames.
func (s *SDOSource) cleanup() {
	refs, err := listFrames(s.cacheDir)
	if err != nil {
		s.logger.Warn("frame cache cleanup failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	for _, ref := range refs[min(len(refs), s.maxStored):] {
		if err := os.Remove(ref.Path); err != nil {
			s.logger.Warn("failed to remove old frame", map[string]interface{}{
				"frame": ref.Name,
				"error": err.Error(),
			})
			continue
		}
		s.logger.Debug("removed old frame", map[string]interface{}{
			"frame": ref.Name,
		})
	}
}

// listFrames returns the image files in dir sorted newest first.
func listFrames(dir string) ([]FrameRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame cache: %w", err)
	}

	refs := make([]FrameRef, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isImageFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		refs = append(refs, FrameRef{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].ModTime.After(refs[j].ModTime)
	})
	return refs, nil
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif":
		return true
	}
	return false
}
