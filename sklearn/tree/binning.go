package tree

import (
	"sort"

	"github.com/YuminosukeSato/fraudml/core/parallel"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MaxBinLimit is the largest number of bins a feature may use.
const MaxBinLimit = 255

// BinnedMatrix holds a feature matrix discretized into per-feature bins.
//
// Bins are stored feature-major so that histogram construction walks memory
// sequentially. A value v falls in bin b when Upper[j][b-1] < v <= Upper[j][b];
// the last bin is unbounded above. Splitting "bin <= b" is therefore the same
// as "value <= Upper[j][b]".
type BinnedMatrix struct {
	NSamples  int
	NFeatures int
	Bins      [][]uint8
	Upper     [][]float64
}

// NBins returns the number of bins used by feature j.
func (b *BinnedMatrix) NBins(j int) int {
	return len(b.Upper[j]) + 1
}

// NewBinnedMatrix discretizes X. Features with at most maxBins distinct values
// get one bin per value with thresholds halfway between neighbours; otherwise
// boundaries are taken at equal-frequency positions of the distinct values.
func NewBinnedMatrix(X mat.Matrix, maxBins int) (*BinnedMatrix, error) {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, errors.NewModelError("NewBinnedMatrix", "empty data", errors.ErrEmptyData)
	}
	if maxBins < 2 || maxBins > MaxBinLimit {
		return nil, errors.NewValidationError("max_bins", "must be in [2, 255]", maxBins)
	}

	bm := &BinnedMatrix{
		NSamples:  n,
		NFeatures: p,
		Bins:      make([][]uint8, p),
		Upper:     make([][]float64, p),
	}

	parallel.ParallelizeWithThreshold(p, 1, func(start, end int) {
		col := make([]float64, n)
		for j := start; j < end; j++ {
			for i := 0; i < n; i++ {
				col[i] = X.At(i, j)
			}
			upper := findBinBoundaries(col, maxBins)
			bins := make([]uint8, n)
			for i, v := range col {
				bins[i] = uint8(sort.SearchFloat64s(upper, v))
			}
			bm.Upper[j] = upper
			bm.Bins[j] = bins
		}
	})

	return bm, nil
}

// findBinBoundaries returns the ascending split thresholds for one feature.
func findBinBoundaries(values []float64, maxBins int) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	unique := sorted[:1]
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != unique[len(unique)-1] {
			unique = append(unique, sorted[i])
		}
	}

	if len(unique) <= maxBins {
		upper := make([]float64, 0, len(unique)-1)
		for i := 0; i+1 < len(unique); i++ {
			upper = append(upper, (unique[i]+unique[i+1])/2)
		}
		return upper
	}

	upper := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		i := k * len(unique) / maxBins
		threshold := (unique[i-1] + unique[i]) / 2
		if len(upper) == 0 || threshold > upper[len(upper)-1] {
			upper = append(upper, threshold)
		}
	}
	return upper
}
