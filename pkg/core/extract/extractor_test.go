package extract

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func grayNoiseFrame(t *testing.T, size int, seed int64) []byte {
	img := image.NewGray(image.Rect(0, 0, size, size))
	rng := rand.New(rand.NewSource(seed))
	for i := range img.Pix {
		img.Pix[i] = byte(rng.Intn(256))
	}
	return encodePNG(t, img)
}

func colorFrame(t *testing.T, size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.NRGBA{R: byte(x * 3), G: byte(y * 5), B: byte(x ^ y), A: 255})
		}
	}
	return encodePNG(t, img)
}

func TestExtractOutputLayoutGray(t *testing.T) {
	e := New(DefaultCutoffRatio, DefaultSampleWindows)

	size := 64
	noise, err := e.Extract(grayNoiseFrame(t, size, 1))
	require.NoError(t, err)

	// 1 gray channel + fft + sobel planes, plus 5 sampled 32x32 windows.
	want := 3*size*size + 5*sampleWindowSize*sampleWindowSize
	assert.Len(t, noise, want)
}

func TestExtractOutputLayoutColor(t *testing.T) {
	e := New(DefaultCutoffRatio, DefaultSampleWindows)

	size := 64
	noise, err := e.Extract(colorFrame(t, size))
	require.NoError(t, err)

	// 3 color channels + fft + sobel, plus 5 windows.
	want := 5*size*size + 5*sampleWindowSize*sampleWindowSize
	assert.Len(t, noise, want)
}

func TestExtractDecodeError(t *testing.T) {
	e := New(DefaultCutoffRatio, DefaultSampleWindows)
	_, err := e.Extract([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestExtractDeterministicSections(t *testing.T) {
	// Everything before the random windows is a pure function of the frame.
	e := New(DefaultCutoffRatio, DefaultSampleWindows)
	frame := grayNoiseFrame(t, 64, 7)

	first, err := e.Extract(frame)
	require.NoError(t, err)
	second, err := e.Extract(frame)
	require.NoError(t, err)

	fixed := 3 * 64 * 64
	assert.Equal(t, first[:fixed], second[:fixed])
}

func TestSampleWindowsAreTimeSeeded(t *testing.T) {
	frame := grayNoiseFrame(t, 256, 7)
	e := New(DefaultCutoffRatio, DefaultSampleWindows)

	first, err := e.Extract(frame)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := e.Extract(frame)
	require.NoError(t, err)

	fixed := 3 * 256 * 256
	assert.NotEqual(t, first[fixed:], second[fixed:],
		"window sampling should not repeat for identical frames ingested at different times")
}

func TestFrameSeedCoversWholeFrame(t *testing.T) {
	// Frames sharing a header must still seed differently, so a change
	// anywhere in the buffer has to move the seed.
	a := make([]byte, 4096)
	b := make([]byte, 4096)
	for i := range a {
		a[i] = byte(i)
		b[i] = byte(i)
	}
	b[len(b)-1] ^= 0xff

	assert.Equal(t, frameSeed(a), frameSeed(append([]byte(nil), a...)))
	assert.NotEqual(t, frameSeed(a), frameSeed(b))
}

func TestSampleWindowsSkipSmallFrames(t *testing.T) {
	e := New(DefaultCutoffRatio, DefaultSampleWindows)

	// Frame smaller than the window: only the fixed sections are emitted.
	size := 16
	noise, err := e.Extract(grayNoiseFrame(t, size, 3))
	require.NoError(t, err)
	assert.Len(t, noise, 3*size*size)
}

func TestLaplacianFlatPlane(t *testing.T) {
	plane := newPlane(8, 8)
	for y := range plane {
		for x := range plane[y] {
			plane[y][x] = 100
		}
	}

	out := laplacianNoise(plane)
	require.Len(t, out, 64)
	for _, b := range out {
		// Flat input: zero Laplacian plus the bias term, truncated.
		assert.Equal(t, byte(30), b)
	}
}

func TestSobelFlatPlaneIsZero(t *testing.T) {
	plane := newPlane(8, 8)
	for y := range plane {
		for x := range plane[y] {
			plane[y][x] = 42
		}
	}

	out := sobelGradient(plane)
	require.Len(t, out, 64)
	for _, b := range out {
		assert.Zero(t, b)
	}
}

func TestFFTHighPassZeroPlane(t *testing.T) {
	out := fftHighPass(newPlane(16, 16), DefaultCutoffRatio)
	require.Len(t, out, 256)
	for _, b := range out {
		assert.Zero(t, b)
	}
}
