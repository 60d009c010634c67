package diffusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidHistogram is returned for bad histogram input.
var ErrInvalidHistogram = errors.New("diffusion: invalid histogram input")

// MaxHistogramBins bounds the number of bins Histogram will allocate.
const MaxHistogramBins = 1 << 20

// Bin is one histogram bin: its centre and normalised weight.
type Bin struct {
	Center float64
	Weight float64
}

// Histogram bins non-negative values of width binSize, weighting each
// value (nil weights count every value once) and normalising the total
// weight to 1. Bin i covers [i·binSize, (i+1)·binSize) and is centred at
// (i+0.5)·binSize; bins run from 0 to the largest value.
func Histogram(values, weights []float64, binSize float64) ([]Bin, error) {
	if !(binSize > 0) {
		return nil, fmt.Errorf("%w: bin size %v", ErrInvalidHistogram, binSize)
	}
	if weights != nil && len(weights) != len(values) {
		return nil, fmt.Errorf("%w: %d weights for %d values", ErrInvalidHistogram, len(weights), len(values))
	}
	if len(values) == 0 {
		return nil, nil
	}
	if weights == nil {
		weights = make([]float64, len(values))
		for i := range weights {
			weights[i] = 1
		}
	}
	for _, v := range values {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: value %v", ErrInvalidHistogram, v)
		}
	}
	total := floats.Sum(weights)
	if !(total > 0) {
		return nil, fmt.Errorf("%w: total weight %v", ErrInvalidHistogram, total)
	}

	max := floats.Max(values)
	nf := math.Floor(max/binSize) + 1
	if nf > MaxHistogramBins {
		return nil, fmt.Errorf("%w: value %v needs %v bins of width %v, limit %d", ErrInvalidHistogram, max, nf, binSize, MaxHistogramBins)
	}
	n := int(nf)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Center = (float64(i) + 0.5) * binSize
	}
	for i, v := range values {
		bins[int(math.Floor(v/binSize))].Weight += weights[i] / total
	}
	return bins, nil
}
