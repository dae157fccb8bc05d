// Package extract reduces image frames to long streams of raw noise bytes.
//
// The extractor runs several independent reducers over each frame (per
// channel Laplacian, FFT high-pass, Sobel gradient, randomly sampled
// windows) and concatenates their outputs. The result is deliberately
// non-uniform: whitening is the conditioner's job, and XOR-folding here
// would destroy entropy rather than concentrate it.
package extract

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"time"

	"lukechampine.com/blake3"
)

// ErrDecode is returned when a frame cannot be decoded as an image.
var ErrDecode = errors.New("extract: cannot decode frame")

const (
	// DefaultCutoffRatio is the FFT high-pass band: the lowest
	// (1-cutoff) fraction of frequencies is removed.
	DefaultCutoffRatio = 0.8

	// DefaultSampleWindows is the number of random windows sampled per
	// frame.
	DefaultSampleWindows = 5

	// sampleWindowSize is the square window edge in pixels.
	sampleWindowSize = 32

	// laplacianBias keeps the Laplacian output away from long zero runs
	// by mixing a fraction of the original channel back in.
	laplacianBias = 0.3
)

// Extractor converts one frame into raw noise.
type Extractor struct {
	cutoffRatio   float64
	sampleWindows int
}

// New creates an extractor. Out-of-range options fall back to defaults.
func New(cutoffRatio float64, sampleWindows int) *Extractor {
	if cutoffRatio <= 0 || cutoffRatio > 1 {
		cutoffRatio = DefaultCutoffRatio
	}
	if sampleWindows < 0 {
		sampleWindows = DefaultSampleWindows
	}
	return &Extractor{
		cutoffRatio:   cutoffRatio,
		sampleWindows: sampleWindows,
	}
}

// Extract decodes the frame and concatenates all reducer outputs:
// channel-wise Laplacian, FFT high-pass on luminance, Sobel gradient
// magnitude, then Laplacian over randomly sampled windows. Returns
// ErrDecode when the bytes are not a decodable image.
func (e *Extractor) Extract(frame []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	channels := splitChannels(img)
	gray := luminance(img)

	var out bytes.Buffer

	for _, channel := range channels {
		out.Write(laplacianNoise(channel))
	}

	out.Write(fftHighPass(gray, e.cutoffRatio))
	out.Write(sobelGradient(gray))

	for _, window := range sampleWindows(gray, e.sampleWindows, sampleWindowSize, frame) {
		out.Write(laplacianNoise(window))
	}

	return out.Bytes(), nil
}

// splitChannels returns the R, G and B planes of a color image, or the
// single gray plane for monochrome input.
func splitChannels(img image.Image) [][][]float64 {
	if g, ok := img.(*image.Gray); ok {
		return [][][]float64{grayPlane(g)}
	}

	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	r := newPlane(h, w)
	g := newPlane(h, w)
	b := newPlane(h, w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pr, pg, pb, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			r[y][x] = float64(pr >> 8)
			g[y][x] = float64(pg >> 8)
			b[y][x] = float64(pb >> 8)
		}
	}
	return [][][]float64{r, g, b}
}

// luminance converts the image to a gray plane using the standard
// BT.601 weights.
func luminance(img image.Image) [][]float64 {
	if g, ok := img.(*image.Gray); ok {
		return grayPlane(g)
	}

	bounds := img.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	plane := newPlane(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			plane[y][x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return plane
}

func grayPlane(g *image.Gray) [][]float64 {
	bounds := g.Bounds()
	h, w := bounds.Dy(), bounds.Dx()
	plane := newPlane(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			plane[y][x] = float64(g.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
		}
	}
	return plane
}

func newPlane(h, w int) [][]float64 {
	plane := make([][]float64, h)
	backing := make([]float64, h*w)
	for y := range plane {
		plane[y] = backing[y*w : (y+1)*w]
	}
	return plane
}

// frameSeed condenses the full frame contents into a seed component, so
// frames that share a header still sample different regions.
func frameSeed(frame []byte) int64 {
	sum := blake3.Sum256(frame)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// sampleWindows picks n square windows at non-deterministic positions. The
// RNG is seeded from wall-clock microseconds mixed with a hash of the frame
// contents, so the same frame ingested twice samples different regions.
func sampleWindows(plane [][]float64, n, size int, frame []byte) [][][]float64 {
	h := len(plane)
	if h == 0 || n == 0 {
		return nil
	}
	w := len(plane[0])
	if h <= size || w <= size {
		return nil
	}

	rng := rand.New(rand.NewSource(time.Now().UnixMicro() ^ frameSeed(frame)))

	windows := make([][][]float64, 0, n)
	for i := 0; i < n; i++ {
		y := rng.Intn(h - size)
		x := rng.Intn(w - size)

		window := make([][]float64, size)
		for row := 0; row < size; row++ {
			window[row] = plane[y+row][x : x+size]
		}
		windows = append(windows, window)
	}
	return windows
}
