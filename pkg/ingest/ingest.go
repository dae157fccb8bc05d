// Package ingest acquires solar image frames for the entropy pipeline. A
// FrameSource fetches fresh frames and keeps a bounded on-disk cache that
// the refill loop reads from.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Frame is a fetched image frame held in memory.
type Frame struct {
	Name      string
	Path      string
	Data      []byte
	Source    string
	Hash      string // short content hash, for log correlation
	FetchedAt time.Time
}

// FrameRef points at a cached frame on disk without loading it.
type FrameRef struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// FrameSource is the acquisition contract the pipeline consumes.
type FrameSource interface {
	// Name identifies the source in logs and block metadata.
	Name() string

	// FetchLatest pulls the newest frames, persists them to the cache and
	// returns them. Individual frame failures are skipped, not fatal; an
	// error means the source as a whole is unusable right now.
	FetchLatest(ctx context.Context) ([]Frame, error)

	// Stored lists the cached frames, newest first.
	Stored() ([]FrameRef, error)
}

// contentHash tags a frame with a short fingerprint of its bytes.
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
