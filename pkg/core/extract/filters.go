package extract

import "math"

// laplacianNoise applies the discrete Laplacian, takes absolute values,
// mixes laplacianBias of the original plane back in, and min-max normalizes
// to bytes in row-major order.
func laplacianNoise(plane [][]float64) []byte {
	h := len(plane)
	if h == 0 {
		return nil
	}
	w := len(plane[0])

	combined := newPlane(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// 4-neighbour Laplacian with edge replication.
			center := plane[y][x]
			lap := plane[clamp(y-1, h)][x] +
				plane[clamp(y+1, h)][x] +
				plane[y][clamp(x-1, w)] +
				plane[y][clamp(x+1, w)] -
				4*center
			combined[y][x] = math.Abs(lap) + center*laplacianBias
		}
	}

	return minMaxNormalize(combined)
}

// sobelGradient computes the 3x3 Sobel gradient magnitude sqrt(Sx^2+Sy^2),
// normalized to bytes by the plane maximum.
func sobelGradient(plane [][]float64) []byte {
	h := len(plane)
	if h == 0 {
		return nil
	}
	w := len(plane[0])

	gradient := newPlane(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := func(dy, dx int) float64 {
				return plane[clamp(y+dy, h)][clamp(x+dx, w)]
			}
			sx := -p(-1, -1) + p(-1, 1) +
				-2*p(0, -1) + 2*p(0, 1) +
				-p(1, -1) + p(1, 1)
			sy := -p(-1, -1) - 2*p(-1, 0) - p(-1, 1) +
				p(1, -1) + 2*p(1, 0) + p(1, 1)
			gradient[y][x] = math.Sqrt(sx*sx + sy*sy)
		}
	}

	return maxNormalize(gradient)
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// minMaxNormalize maps the plane onto [0, 255] by its value range. A flat
// plane is truncated per value instead.
func minMaxNormalize(plane [][]float64) []byte {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range plane {
		for _, v := range row {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}

	out := make([]byte, 0, len(plane)*len(plane[0]))
	if hi <= lo {
		for _, row := range plane {
			for _, v := range row {
				out = append(out, toByte(v))
			}
		}
		return out
	}

	scale := 255.0 / (hi - lo)
	for _, row := range plane {
		for _, v := range row {
			out = append(out, toByte((v-lo)*scale))
		}
	}
	return out
}

// maxNormalize maps the plane onto [0, 255] by its maximum value.
func maxNormalize(plane [][]float64) []byte {
	hi := 0.0
	for _, row := range plane {
		for _, v := range row {
			if v > hi {
				hi = v
			}
		}
	}

	out := make([]byte, 0, len(plane)*len(plane[0]))
	if hi == 0 {
		return append(out, make([]byte, len(plane)*len(plane[0]))...)
	}

	scale := 255.0 / hi
	for _, row := range plane {
		for _, v := range row {
			out = append(out, toByte(v*scale))
		}
	}
	return out
}

func toByte(v float64) byte {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return byte(v)
}
