// Package pool manages the shared entropy pool: validated blocks live under
// TTL-bound keys, every payload is delivered at most once, and accounting
// counters survive pool drains.
package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/TheEntropyCollective/heliorand/pkg/core/blocks"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/heliorand/pkg/pool/store"
)

// Keyspace layout. Block payloads and used markers share the block's TTL;
// the index set tracks live block ids so Take never has to scan the
// keyspace; stats counters never expire.
const (
	blockKeyPrefix = "entropy:block:"
	usedKeyPrefix  = "entropy:used:"
	indexKey       = "entropy:index"
	statsKeyPrefix = "entropy:stats:"

	statsBlocksAdded    = statsKeyPrefix + "blocks_added"
	statsBytesAdded     = statsKeyPrefix + "total_bytes_added"
	statsBytesServed    = statsKeyPrefix + "bytes_served"
	statsRequestsServed = statsKeyPrefix + "requests_served"
	statsLastUpdated    = statsKeyPrefix + "last_updated"

	// statsSampleSize bounds the per-call cost of Stats: beyond this many
	// live blocks the byte total is extrapolated from the sample.
	statsSampleSize = 100
)

var (
	// ErrEmpty is returned by Take when no entropy is available at all.
	ErrEmpty = errors.New("pool: no entropy available")

	// ErrNotEnough is returned by Take when some blocks exist but the
	// request cannot be filled completely. Nothing is delivered.
	ErrNotEnough = errors.New("pool: not enough entropy available")
)

// Pool is the entropy pool over a Store backend.
type Pool struct {
	store  store.Store
	ttl    time.Duration
	logger *logging.Logger
}

// New creates a pool whose blocks expire after ttl.
func New(s store.Store, ttl time.Duration, logger *logging.Logger) *Pool {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Pool{
		store:  s,
		ttl:    ttl,
		logger: logger.WithComponent("pool"),
	}
}

// Stats is a snapshot of pool state. Available figures are advisory: they
// are computed from a bounded sample and may lag concurrent Takes.
type Stats struct {
	Status          string  `json:"status"`
	AvailableBlocks int     `json:"available_blocks"`
	AvailableBytes  int64   `json:"available_bytes"`
	AverageQuality  float64 `json:"average_quality"`
	BlocksAdded     int64   `json:"blocks_added"`
	TotalBytesAdded int64   `json:"total_bytes_added"`
	BytesServed     int64   `json:"bytes_served"`
	RequestsServed  int64   `json:"requests_served"`
	LastUpdated     string  `json:"last_updated,omitempty"`
}

// Health reports pool liveness for the health endpoint.
type Health struct {
	StoreConnected  bool      `json:"store_connected"`
	Healthy         bool      `json:"healthy"`
	AvailableBlocks int       `json:"available_blocks"`
	AvailableBytes  int64     `json:"available_bytes"`
	Timestamp       time.Time `json:"timestamp"`
	Error           string    `json:"error,omitempty"`
}

// Add stores a validated payload as a new single-use block and returns its
// id. Quality gating happens upstream; Add trusts its caller.
func (p *Pool) Add(ctx context.Context, data []byte, quality, shannon float64, sourceInfo map[string]interface{}) (string, error) {
	block, err := blocks.NewBlock(data, quality, shannon, sourceInfo)
	if err != nil {
		return "", err
	}

	envelope, err := block.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode block %s: %w", block.ID, err)
	}

	if err := p.store.SetWithTTL(ctx, blockKeyPrefix+block.ID, envelope, p.ttl); err != nil {
		return "", err
	}
	if err := p.store.IndexAdd(ctx, indexKey, block.ID); err != nil {
		return "", err
	}

	p.bumpCounter(ctx, statsBlocksAdded, 1)
	p.bumpCounter(ctx, statsBytesAdded, int64(len(data)))
	p.touchLastUpdated(ctx)

	p.logger.Debug("added entropy block", map[string]interface{}{
		"block_id": block.ID,
		"size":     len(data),
		"quality":  quality,
	})
	return block.ID, nil
}

// Take returns exactly n bytes of pool entropy, or an error and nothing.
// Each contributing block is consumed atomically, so no byte is ever
// delivered twice. If the last block overshoots, its unused tail re-enters
// the pool under a fresh id with the parent's remaining TTL, so no entropy
// is wasted on small requests.
func (p *Pool) Take(ctx context.Context, n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}

	members, err := p.store.IndexMembers(ctx, indexKey)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrEmpty
	}

	collected := make([]byte, 0, n)
	blocksUsed := 0
	for _, id := range members {
		if len(collected) >= n {
			break
		}

		envelope, err := p.store.Claim(ctx, blockKeyPrefix+id, usedKeyPrefix+id, indexKey, id, p.ttl)
		if err != nil {
			// Lost the race or the block expired under us; both mean
			// some other path owns or owned this block.
			if errors.Is(err, store.ErrClaimConflict) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, err
		}

		block, err := blocks.Decode(envelope)
		if err != nil {
			p.logger.Error("discarding corrupt block", map[string]interface{}{
				"block_id": id,
				"error":    err.Error(),
			})
			continue
		}

		needed := n - len(collected)
		if len(block.Data) > needed {
			p.reinsertTail(ctx, block, block.Data[needed:])
			block.Data = block.Data[:needed]
		}
		collected = append(collected, block.Data...)
		blocksUsed++
	}

	if len(collected) == 0 {
		return nil, ErrEmpty
	}
	if len(collected) < n {
		p.logger.Warn("could not fill entropy request", map[string]interface{}{
			"requested": n,
			"collected": len(collected),
		})
		return nil, ErrNotEnough
	}

	p.bumpCounter(ctx, statsBytesServed, int64(n))
	p.bumpCounter(ctx, statsRequestsServed, 1)
	p.touchLastUpdated(ctx)

	p.logger.Info("served entropy", map[string]interface{}{
		"bytes":  n,
		"blocks": blocksUsed,
	})
	return collected[:n], nil
}

// reinsertTail puts a claimed block's unused remainder back into the pool
// as a new block. The fragment keeps its parent's quality and timestamp so
// it cannot outlive the parent's TTL, and it is not re-counted in the
// accumulated counters. A failed reinsert only loses non-secret bytes, so
// it is logged and swallowed.
func (p *Pool) reinsertTail(ctx context.Context, parent *blocks.Block, tail []byte) {
	remaining := time.Duration(0)
	if p.ttl > 0 {
		remaining = p.ttl - time.Since(parent.Timestamp)
		if remaining <= 0 {
			return
		}
	}

	fragment := &blocks.Block{
		ID:           uuid.NewString(),
		Data:         tail,
		QualityScore: parent.QualityScore,
		Shannon:      parent.Shannon,
		Size:         len(tail),
		Timestamp:    parent.Timestamp,
		SourceInfo:   parent.SourceInfo,
	}
	envelope, err := fragment.Encode()
	if err == nil {
		err = p.store.SetWithTTL(ctx, blockKeyPrefix+fragment.ID, envelope, remaining)
	}
	if err == nil {
		err = p.store.IndexAdd(ctx, indexKey, fragment.ID)
	}
	if err != nil {
		p.logger.Warn("failed to reinsert block tail", map[string]interface{}{
			"parent_id": parent.ID,
			"size":      len(tail),
			"error":     err.Error(),
		})
	}
}

// Stats returns a pool snapshot. Byte and quality figures come from a
// sample of at most 100 live blocks; larger pools are extrapolated.
func (p *Pool) Stats(ctx context.Context) (*Stats, error) {
	if err := p.store.Ping(ctx); err != nil {
		return &Stats{Status: "disconnected"}, err
	}

	members, err := p.store.IndexMembers(ctx, indexKey)
	if err != nil {
		// Store dropped between the ping and the read.
		return &Stats{Status: "disconnected"}, err
	}

	sample := members
	if len(sample) > statsSampleSize {
		sample = sample[:statsSampleSize]
	}

	var sampledBytes int64
	var qualitySum float64
	var sampled int
	for _, id := range sample {
		envelope, err := p.store.Get(ctx, blockKeyPrefix+id)
		if errors.Is(err, store.ErrNotFound) {
			// Expired before being claimed; drop the stale index entry.
			_ = p.store.IndexRemove(ctx, indexKey, id)
			continue
		}
		if err != nil {
			continue
		}
		block, err := blocks.Decode(envelope)
		if err != nil {
			continue
		}
		sampledBytes += int64(block.Size)
		qualitySum += block.QualityScore
		sampled++
	}

	// Scale the sampled figures up to the full pool. When every member was
	// sampled this is exact; otherwise it is the advisory estimate.
	liveBlocks := sampled
	totalBytes := sampledBytes
	if len(members) > len(sample) && sampled > 0 {
		ratio := float64(len(members)) / float64(len(sample))
		liveBlocks = int(float64(sampled) * ratio)
		totalBytes = int64(float64(sampledBytes) * ratio)
	}

	var avgQuality float64
	if sampled > 0 {
		avgQuality = math.Round(qualitySum/float64(sampled)*1000) / 1000
	}

	stats := &Stats{
		Status:          "connected",
		AvailableBlocks: liveBlocks,
		AvailableBytes:  totalBytes,
		AverageQuality:  avgQuality,
	}
	stats.BlocksAdded, _ = p.store.Counter(ctx, statsBlocksAdded)
	stats.TotalBytesAdded, _ = p.store.Counter(ctx, statsBytesAdded)
	stats.BytesServed, _ = p.store.Counter(ctx, statsBytesServed)
	stats.RequestsServed, _ = p.store.Counter(ctx, statsRequestsServed)
	if raw, err := p.store.Get(ctx, statsLastUpdated); err == nil {
		stats.LastUpdated = string(raw)
	}
	return stats, nil
}

// AvailableBytes reports the (advisory) number of bytes currently in the
// pool; the refill loop compares it against the low-water mark.
func (p *Pool) AvailableBytes(ctx context.Context) (int64, error) {
	stats, err := p.Stats(ctx)
	if err != nil {
		return 0, err
	}
	return stats.AvailableBytes, nil
}

// Clear removes all blocks and used markers. Accumulated stats counters are
// preserved so accounting spans pool generations.
func (p *Pool) Clear(ctx context.Context) error {
	blockKeys, err := p.store.Keys(ctx, blockKeyPrefix+"*")
	if err != nil {
		return err
	}
	if err := p.store.Delete(ctx, blockKeys...); err != nil {
		return err
	}

	usedKeys, err := p.store.Keys(ctx, usedKeyPrefix+"*")
	if err != nil {
		return err
	}
	if err := p.store.Delete(ctx, usedKeys...); err != nil {
		return err
	}

	members, err := p.store.IndexMembers(ctx, indexKey)
	if err != nil {
		return err
	}
	for _, id := range members {
		if err := p.store.IndexRemove(ctx, indexKey, id); err != nil {
			return err
		}
	}

	p.logger.Info("cleared entropy pool", map[string]interface{}{
		"blocks_removed": len(blockKeys),
	})
	return nil
}

// HealthCheck reports whether the pool can serve requests right now.
func (p *Pool) HealthCheck(ctx context.Context) *Health {
	health := &Health{Timestamp: time.Now().UTC()}

	if err := p.store.Ping(ctx); err != nil {
		health.Error = err.Error()
		return health
	}
	health.StoreConnected = true

	stats, err := p.Stats(ctx)
	if err != nil {
		health.Error = err.Error()
		return health
	}
	health.AvailableBlocks = stats.AvailableBlocks
	health.AvailableBytes = stats.AvailableBytes
	health.Healthy = stats.AvailableBlocks > 0
	return health
}

// Counter updates are best-effort: a missed increment skews advisory stats
// but must never fail the data path.
func (p *Pool) bumpCounter(ctx context.Context, key string, delta int64) {
	if err := p.store.IncrBy(ctx, key, delta); err != nil {
		p.logger.Warn("failed to update pool counter", map[string]interface{}{
			"counter": key,
			"error":   err.Error(),
		})
	}
}

func (p *Pool) touchLastUpdated(ctx context.Context) {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	if err := p.store.SetWithTTL(ctx, statsLastUpdated, stamp, 0); err != nil {
		p.logger.Warn("failed to update pool timestamp", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
