// Package pipeline drives entropy production: a fetch loop that pulls
// frames from the FrameSource on a timer and a refill loop that turns
// cached frames into validated pool blocks whenever the pool runs low.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/TheEntropyCollective/heliorand/pkg/core/condition"
	"github.com/TheEntropyCollective/heliorand/pkg/core/extract"
	"github.com/TheEntropyCollective/heliorand/pkg/core/quality"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/logging"
	"github.com/TheEntropyCollective/heliorand/pkg/infrastructure/workers"
	"github.com/TheEntropyCollective/heliorand/pkg/ingest"
	"github.com/TheEntropyCollective/heliorand/pkg/pool"
)

// rawNoiseFloor is the minimum Shannon entropy (bits/byte) the extracted
// noise must carry before it is worth conditioning. Hashing flattens any
// input into statistically perfect bytes, so degenerate frames (all-zero,
// constant) have to be caught here, on the raw noise, or they would sail
// through the block validator with no real entropy behind them.
const rawNoiseFloor = 0.5

// Options configures a Pipeline. Pool, Source, Extractor, Conditioner and
// Validator are required; the rest default sensibly.
type Options struct {
	Pool        *pool.Pool
	Source      ingest.FrameSource
	Extractor   *extract.Extractor
	Conditioner *condition.Conditioner
	Validator   *quality.Validator
	Workers     *workers.Pool
	Logger      *logging.Logger

	LowWaterMark   int64
	FetchInterval  time.Duration
	RefillInterval time.Duration

	// DrainSources keeps the refill loop processing cached frames after
	// the first productive one. Off by default: one good frame per cycle
	// spreads I/O load and usually clears the low-water mark anyway.
	DrainSources bool
}

// Pipeline owns the two background loops and the frame-to-blocks path.
type Pipeline struct {
	pool      *pool.Pool
	source    ingest.FrameSource
	extractor *extract.Extractor
	validator *quality.Validator
	workers   *workers.Pool
	logger    *logging.Logger

	// The conditioner's chaining value is per-instance mutable state;
	// condMu serializes access so ProcessFrame is safe to call from
	// anywhere.
	condMu      sync.Mutex
	conditioner *condition.Conditioner

	lowWaterMark   int64
	fetchInterval  time.Duration
	refillInterval time.Duration
	drainSources   bool
}

// New wires a pipeline from its stages.
func New(opts Options) (*Pipeline, error) {
	if opts.Pool == nil || opts.Source == nil || opts.Extractor == nil ||
		opts.Conditioner == nil || opts.Validator == nil {
		return nil, fmt.Errorf("pipeline requires pool, source, extractor, conditioner and validator")
	}

	if opts.Workers == nil {
		opts.Workers = workers.NewPool(0)
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.LowWaterMark <= 0 {
		opts.LowWaterMark = 1 << 20
	}
	if opts.FetchInterval <= 0 {
		opts.FetchInterval = 300 * time.Second
	}
	if opts.RefillInterval <= 0 {
		opts.RefillInterval = 30 * time.Second
	}

	return &Pipeline{
		pool:           opts.Pool,
		source:         opts.Source,
		extractor:      opts.Extractor,
		conditioner:    opts.Conditioner,
		validator:      opts.Validator,
		workers:        opts.Workers,
		logger:         opts.Logger.WithComponent("pipeline"),
		lowWaterMark:   opts.LowWaterMark,
		fetchInterval:  opts.FetchInterval,
		refillInterval: opts.RefillInterval,
		drainSources:   opts.DrainSources,
	}, nil
}

// ProcessFrame runs one frame through extract, condition and validate, and
// adds every passing block to the pool. It returns the number of blocks
// added. Validation fans out over the worker pool; conditioning stays
// sequential because the chaining value is per-instance state.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame []byte, sourceInfo map[string]interface{}) (int, error) {
	raw, err := p.extractor.Extract(frame)
	if err != nil {
		return 0, err
	}

	if quality.ShannonEntropy(raw) < rawNoiseFloor {
		p.logger.Warn("frame noise is degenerate, skipping", map[string]interface{}{
			"raw_bytes": len(raw),
		})
		return 0, nil
	}

	p.condMu.Lock()
	blks, err := p.conditioner.Condition(raw)
	p.condMu.Unlock()
	if err != nil {
		return 0, err
	}

	results, errs := workers.Map(ctx, p.workers, len(blks), func(i int) (quality.Result, error) {
		return p.validator.Validate(blks[i])
	})

	added := 0
	rejected := 0
	for i, result := range results {
		if errs[i] != nil {
			rejected++
			continue
		}
		if !result.Passed {
			rejected++
			continue
		}
		if _, err := p.pool.Add(ctx, blks[i], result.QualityScore, result.Shannon, sourceInfo); err != nil {
			return added, fmt.Errorf("failed to add block: %w", err)
		}
		added++
	}

	p.logger.Info("processed frame", map[string]interface{}{
		"blocks_added":    added,
		"blocks_rejected": rejected,
	})
	return added, nil
}

// RefillOnce performs one refill cycle: if the pool is under the low-water
// mark, it walks the cached frames and conditions them into the pool,
// re-checking the fill level after every frame so it never overshoots by
// more than one frame's worth of blocks.
func (p *Pipeline) RefillOnce(ctx context.Context) error {
	available, err := p.pool.AvailableBytes(ctx)
	if err != nil {
		return err
	}
	if available >= p.lowWaterMark {
		return nil
	}

	p.logger.Info("pool below low-water mark", map[string]interface{}{
		"available_bytes": available,
		"low_water_mark":  p.lowWaterMark,
	})

	refs, err := p.source.Stored()
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		p.logger.Warn("no cached frames available for refill", nil)
		return nil
	}

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := os.ReadFile(ref.Path)
		if err != nil {
			p.logger.Warn("failed to read cached frame", map[string]interface{}{
				"frame": ref.Name,
				"error": err.Error(),
			})
			continue
		}

		added, err := p.ProcessFrame(ctx, data, map[string]interface{}{
			"source": p.source.Name(),
			"frame":  ref.Name,
		})
		if err != nil {
			if errors.Is(err, extract.ErrDecode) || errors.Is(err, condition.ErrEmptyInput) {
				p.logger.Warn("skipping unusable frame", map[string]interface{}{
					"frame": ref.Name,
					"error": err.Error(),
				})
				continue
			}
			return err
		}

		available, err = p.pool.AvailableBytes(ctx)
		if err != nil {
			return err
		}
		if available >= p.lowWaterMark {
			break
		}
		if added > 0 && !p.drainSources {
			break
		}
	}
	return nil
}

// FetchOnce pulls the latest frames from the source.
func (p *Pipeline) FetchOnce(ctx context.Context) error {
	frames, err := p.source.FetchLatest(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("fetch cycle complete", map[string]interface{}{
		"frames": len(frames),
	})
	return nil
}

// RunFetchLoop fetches immediately and then on every tick until ctx is
// cancelled.
func (p *Pipeline) RunFetchLoop(ctx context.Context) {
	p.runLoop(ctx, "fetch", p.fetchInterval, p.FetchOnce)
}

// RunRefillLoop refills immediately and then on every tick until ctx is
// cancelled.
func (p *Pipeline) RunRefillLoop(ctx context.Context) {
	p.runLoop(ctx, "refill", p.refillInterval, p.RefillOnce)
}

// runLoop drives a background task. Errors and panics are logged and the
// loop keeps going; only cancellation stops it.
func (p *Pipeline) runLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	p.logger.Info("starting background task", map[string]interface{}{
		"task":     name,
		"interval": interval.String(),
	})

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("background task panicked", map[string]interface{}{
					"task":  name,
					"panic": fmt.Sprintf("%v", r),
				})
			}
		}()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Error("background task failed", map[string]interface{}{
				"task":  name,
				"error": err.Error(),
			})
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("background task stopped", map[string]interface{}{
				"task": name,
			})
			return
		case <-ticker.C:
			run()
		}
	}
}
