// Package quality gates conditioned blocks behind five statistical tests.
//
// A block is admitted to the pool only when its Shannon entropy and a
// weighted quality score both clear configured thresholds. The tests are
// deliberately cheap screens against conditioning defects, not a NIST
// certification suite.
package quality

import (
	"errors"
	"math"
	"math/bits"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrEmptyInput is returned when validating a zero-length block.
var ErrEmptyInput = errors.New("quality: empty input")

const (
	// DefaultMinShannon is the minimum Shannon entropy (bits/byte) a block
	// must reach.
	DefaultMinShannon = 7.8

	// DefaultMinQuality is the minimum weighted quality score.
	DefaultMinQuality = 0.75
)

// Score weights. Shannon dominates because it is the most direct measure of
// byte-level uniformity.
const (
	weightShannon  = 0.40
	weightChi      = 0.25
	weightRuns     = 0.15
	weightAutocorr = 0.10
	weightBits     = 0.10
)

// Result holds the outcome of validating one block.
type Result struct {
	Passed       bool    `json:"passed"`
	QualityScore float64 `json:"quality_score"`
	Shannon      float64 `json:"shannon_entropy"`
	ChiSquare    float64 `json:"chi_square_score"`
	Runs         float64 `json:"runs_test_score"`
	Autocorr     float64 `json:"autocorrelation_score"`
	BitBalance   float64 `json:"bit_balance_score"`
	Size         int     `json:"data_size"`
}

// Validator applies the statistical gate with configured thresholds.
type Validator struct {
	minShannon float64
	minQuality float64
}

// New creates a validator. Out-of-range thresholds fall back to defaults.
func New(minShannon, minQuality float64) *Validator {
	if minShannon <= 0 || minShannon > 8 {
		minShannon = DefaultMinShannon
	}
	if minQuality <= 0 || minQuality > 1 {
		minQuality = DefaultMinQuality
	}
	return &Validator{minShannon: minShannon, minQuality: minQuality}
}

// Validate runs all five tests and combines them into a quality score.
// Empty input fails with ErrEmptyInput.
func (v *Validator) Validate(data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, ErrEmptyInput
	}

	shannon := ShannonEntropy(data)
	chi := ChiSquareScore(data)
	runs := RunsScore(data)
	autocorr := AutocorrScore(data, 1)
	bits := BitBalanceScore(data)

	score := shannon/8.0*weightShannon +
		chi*weightChi +
		runs*weightRuns +
		autocorr*weightAutocorr +
		bits*weightBits

	return Result{
		Passed:       shannon >= v.minShannon && score >= v.minQuality,
		QualityScore: score,
		Shannon:      shannon,
		ChiSquare:    chi,
		Runs:         runs,
		Autocorr:     autocorr,
		BitBalance:   bits,
		Size:         len(data),
	}, nil
}

// ShannonEntropy returns the byte-histogram Shannon entropy in bits per
// byte, in [0, 8].
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// ChiSquareScore tests the byte histogram against the uniform distribution.
// A truly uniform source yields χ² near 255 (the degrees of freedom), which
// maps to a score near 1. Inputs shorter than 256 bytes score 0: the
// expected bin frequency would be below one observation.
func ChiSquareScore(data []byte) float64 {
	if len(data) < 256 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	expected := float64(len(data)) / 256.0
	chi := 0.0
	for _, count := range counts {
		diff := float64(count) - expected
		chi += diff * diff / expected
	}

	return 1.0 / (1.0 + math.Abs(chi-255)/100.0)
}

// RunsScore is a Wald–Wolfowitz runs test: the data is binarized at its
// median and the z-score of the run count against the expected value is
// mapped into [0, 1]. Inputs shorter than 10 bytes score 0.
func RunsScore(data []byte) float64 {
	if len(data) < 10 {
		return 0
	}

	sorted := make([]byte, len(data))
	copy(sorted, data)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	median := sorted[len(sorted)/2]

	runs := 1
	n1 := 0
	prev := data[0] >= median
	if prev {
		n1 = 1
	}
	for _, b := range data[1:] {
		cur := b >= median
		if cur != prev {
			runs++
		}
		if cur {
			n1++
		}
		prev = cur
	}
	n0 := len(data) - n1

	if n0 == 0 || n1 == 0 {
		return 0
	}

	f0, f1 := float64(n0), float64(n1)
	expected := 2*f0*f1/(f0+f1) + 1
	variance := (2 * f0 * f1 * (2*f0*f1 - f0 - f1)) /
		((f0 + f1) * (f0 + f1) * (f0 + f1 - 1))
	if variance == 0 {
		return 0
	}

	z := math.Abs((float64(runs) - expected) / math.Sqrt(variance))
	return math.Max(0, 1.0-z/4.0)
}

// AutocorrScore measures self-similarity at the given lag; low correlation
// scores near 1.
func AutocorrScore(data []byte, lag int) float64 {
	if lag < 1 || len(data) <= lag {
		return 0
	}

	values := make([]float64, len(data))
	for i, b := range data {
		values[i] = float64(b)
	}
	mean := stat.Mean(values, nil)

	numerator := 0.0
	denominator := 0.0
	for i := 0; i < len(values)-lag; i++ {
		d1 := values[i] - mean
		d2 := values[i+lag] - mean
		numerator += d1 * d2
		denominator += d1 * d1
	}
	if denominator == 0 {
		return 0
	}

	corr := math.Abs(numerator / denominator)
	return math.Max(0, 1.0-corr)
}

// BitBalanceScore measures the set-bit ratio; an even split of ones and
// zeroes scores 1.
func BitBalanceScore(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	ones := 0
	for _, b := range data {
		ones += bits.OnesCount8(b)
	}

	ratio := float64(ones) / float64(len(data)*8)
	return math.Max(0, 1.0-math.Abs(ratio-0.5)*2)
}
