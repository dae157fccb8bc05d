package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"image"
	"image/png"
	mrand "math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEntropyCollective/heliorand/pkg/core/condition"
	"github.com/TheEntropyCollective/heliorand/pkg/core/extract"
	"github.com/TheEntropyCollective/heliorand/pkg/core/quality"
	"github.com/TheEntropyCollective/heliorand/pkg/ingest"
	"github.com/TheEntropyCollective/heliorand/pkg/pool"
	"github.com/TheEntropyCollective/heliorand/pkg/pool/store"
)

// stubSource serves pre-registered frames from disk and records fetches.
type stubSource struct {
	refs    []ingest.FrameRef
	fetches int
}

func (s *stubSource) Name() string { return "STUB" }

func (s *stubSource) FetchLatest(ctx context.Context) ([]ingest.Frame, error) {
	s.fetches++
	return nil, nil
}

func (s *stubSource) Stored() ([]ingest.FrameRef, error) {
	return s.refs, nil
}

func writeNoiseFrame(t *testing.T, dir, name string, size int, seed int64) ingest.FrameRef {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	rng := mrand.New(mrand.NewSource(seed))
	for i := range img.Pix {
		img.Pix[i] = byte(rng.Intn(256))
	}
	return writeFrame(t, dir, name, img)
}

func writeZeroFrame(t *testing.T, dir, name string, size int) ingest.FrameRef {
	t.Helper()
	return writeFrame(t, dir, name, image.NewGray(image.Rect(0, 0, size, size)))
}

func writeFrame(t *testing.T, dir, name string, img image.Image) ingest.FrameRef {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return ingest.FrameRef{Name: name, Path: path, Size: int64(buf.Len()), ModTime: time.Now()}
}

func newTestPipeline(t *testing.T, source ingest.FrameSource, lowWater int64, drain bool) (*Pipeline, *pool.Pool) {
	t.Helper()
	p := pool.New(store.NewMemoryStore(), time.Hour, nil)
	pipe, err := New(Options{
		Pool:         p,
		Source:       source,
		Extractor:    extract.New(extract.DefaultCutoffRatio, extract.DefaultSampleWindows),
		Conditioner:  condition.New(4096),
		Validator:    quality.New(7.8, 0.75),
		LowWaterMark: lowWater,
		DrainSources: drain,
	})
	require.NoError(t, err)
	return pipe, p
}

func TestRefillFillsEmptyPool(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{refs: []ingest.FrameRef{
		writeNoiseFrame(t, dir, "noise.png", 256, 1),
	}}
	pipe, p := newTestPipeline(t, source, 1, false)
	ctx := context.Background()

	require.NoError(t, pipe.RefillOnce(ctx))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.AvailableBytes, int64(0))
	assert.Greater(t, stats.AvailableBlocks, 0)

	// Every stored block passed the validator on the way in.
	validator := quality.New(7.8, 0.75)
	got, err := p.Take(ctx, 4096)
	require.NoError(t, err)
	result, err := validator.Validate(got)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestZeroFrameProducesNothing(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{refs: []ingest.FrameRef{
		writeZeroFrame(t, dir, "zeros.png", 1024),
	}}
	pipe, p := newTestPipeline(t, source, 1, false)
	ctx := context.Background()

	require.NoError(t, pipe.RefillOnce(ctx))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.AvailableBlocks, "a constant frame must not mint blocks")
	assert.Zero(t, stats.BlocksAdded)
}

func TestConditionedOSRandomPassesValidation(t *testing.T) {
	// Baseline sanity for the whitening path: conditioning OS randomness
	// must yield blocks the validator accepts almost without exception.
	raw := make([]byte, 1<<20)
	_, err := rand.Read(raw)
	require.NoError(t, err)

	conditioner := condition.New(4096)
	blks, err := conditioner.Condition(raw)
	require.NoError(t, err)
	require.NotEmpty(t, blks)

	validator := quality.New(7.8, 0.75)
	passed := 0
	for _, blk := range blks {
		result, err := validator.Validate(blk)
		require.NoError(t, err)
		if result.Passed {
			passed++
		}
	}
	assert.GreaterOrEqual(t, float64(passed)/float64(len(blks)), 0.95)
}

func TestRefillStopsAtFirstProductiveFrame(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{refs: []ingest.FrameRef{
		writeNoiseFrame(t, dir, "a.png", 128, 1),
		writeNoiseFrame(t, dir, "b.png", 128, 2),
	}}
	// Low-water mark far above what two small frames yield, so only the
	// drain policy decides how many frames get processed.
	pipe, p := newTestPipeline(t, source, 64<<20, false)
	ctx := context.Background()

	require.NoError(t, pipe.RefillOnce(ctx))
	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	oneFrame := stats.BlocksAdded
	assert.Greater(t, oneFrame, int64(0))

	// Same frames with DrainSources: both get processed.
	drained, p2 := newTestPipeline(t, source, 64<<20, true)
	require.NoError(t, drained.RefillOnce(ctx))
	stats2, err := p2.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats2.BlocksAdded, oneFrame)
}

func TestRefillSkipsUndecodableFrame(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(badPath, []byte("not an image"), 0o644))

	source := &stubSource{refs: []ingest.FrameRef{
		{Name: "bad.png", Path: badPath},
		writeNoiseFrame(t, dir, "good.png", 128, 3),
	}}
	pipe, p := newTestPipeline(t, source, 1, false)
	ctx := context.Background()

	require.NoError(t, pipe.RefillOnce(ctx))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.BlocksAdded, int64(0), "bad frame is skipped, good frame still processed")
}

func TestRefillNoopAboveLowWater(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{refs: []ingest.FrameRef{
		writeNoiseFrame(t, dir, "noise.png", 128, 4),
	}}
	pipe, p := newTestPipeline(t, source, 1, false)
	ctx := context.Background()

	// Pre-fill above the (tiny) low-water mark.
	payload := make([]byte, 4096)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	_, err = p.Add(ctx, payload, 0.9, 7.9, nil)
	require.NoError(t, err)

	require.NoError(t, pipe.RefillOnce(ctx))

	stats, err := p.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.BlocksAdded, "refill must not run while the pool is full enough")
}

func TestRefillSurfacesStoreOutage(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{refs: []ingest.FrameRef{
		writeNoiseFrame(t, dir, "noise.png", 128, 5),
	}}

	s := store.NewMemoryStore()
	p := pool.New(s, time.Hour, nil)
	pipe, err := New(Options{
		Pool:         p,
		Source:       source,
		Extractor:    extract.New(extract.DefaultCutoffRatio, extract.DefaultSampleWindows),
		Conditioner:  condition.New(4096),
		Validator:    quality.New(7.8, 0.75),
		LowWaterMark: 1,
	})
	require.NoError(t, err)

	s.SetAvailable(false)
	err = pipe.RefillOnce(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestLoopsStopOnCancel(t *testing.T) {
	source := &stubSource{}
	pipe, _ := newTestPipeline(t, source, 1, false)

	ctx, cancel := context.WithCancel(context.Background())
	fetchDone := make(chan struct{})
	refillDone := make(chan struct{})
	go func() {
		pipe.RunFetchLoop(ctx)
		close(fetchDone)
	}()
	go func() {
		pipe.RunRefillLoop(ctx)
		close(refillDone)
	}()

	// Give both loops a moment to run their immediate pass.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-fetchDone:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch loop did not stop on cancellation")
	}
	select {
	case <-refillDone:
	case <-time.After(2 * time.Second):
		t.Fatal("refill loop did not stop on cancellation")
	}
	assert.GreaterOrEqual(t, source.fetches, 1)
}
