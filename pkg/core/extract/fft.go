package extract

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fftHighPass removes the low-frequency disk of the luminance spectrum and
// returns the magnitudes of the residual, normalized to bytes. With the
// zero frequency shifted to the center, the removed disk has radius
// floor(min(h,w)/2) * (1 - cutoffRatio).
func fftHighPass(plane [][]float64, cutoffRatio float64) []byte {
	h := len(plane)
	if h == 0 {
		return nil
	}
	w := len(plane[0])

	freq := make([]complex128, h*w)
	for y, row := range plane {
		for x, v := range row {
			freq[y*w+x] = complex(v, 0)
		}
	}

	fft2d(freq, h, w, false)

	radius := float64(min(h, w)/2) * (1 - cutoffRatio)
	radiusSq := radius * radius
	for y := 0; y < h; y++ {
		// Wrapped frequency coordinates; |fy|,|fx| small means close to
		// the shifted center.
		fy := float64(y)
		if y > h/2 {
			fy = float64(y - h)
		}
		for x := 0; x < w; x++ {
			fx := float64(x)
			if x > w/2 {
				fx = float64(x - w)
			}
			if fy*fy+fx*fx <= radiusSq {
				freq[y*w+x] = 0
			}
		}
	}

	fft2d(freq, h, w, true)

	magnitudes := newPlane(h, w)
	norm := float64(h * w) // gonum's inverse transform is unnormalized
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			magnitudes[y][x] = cmplx.Abs(freq[y*w+x]) / norm
		}
	}
	return maxNormalize(magnitudes)
}

// fft2d transforms data (row-major h x w) in place, rows first then
// columns.
func fft2d(data []complex128, h, w int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	rowBuf := make([]complex128, w)
	for y := 0; y < h; y++ {
		row := data[y*w : (y+1)*w]
		if inverse {
			copy(rowBuf, rowFFT.Sequence(nil, row))
		} else {
			copy(rowBuf, rowFFT.Coefficients(nil, row))
		}
		copy(row, rowBuf)
	}

	colFFT := rowFFT
	if h != w {
		colFFT = fourier.NewCmplxFFT(h)
	}
	colBuf := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			colBuf[y] = data[y*w+x]
		}
		var transformed []complex128
		if inverse {
			transformed = colFFT.Sequence(nil, colBuf)
		} else {
			transformed = colFFT.Coefficients(nil, colBuf)
		}
		for y := 0; y < h; y++ {
			data[y*w+x] = transformed[y]
		}
	}
}
