package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testEstimates(assets []string, returns []float64, cov [][]float64) Estimates {
	mu := make(map[string]float64, len(assets))
	for i, a := range assets {
		mu[a] = returns[i]
	}
	return Estimates{
		Assets:          assets,
		ExpectedReturns: mu,
		Covariance:      cov,
		Observations:    252,
		Frequency:       FrequencyDaily,
	}
}

// covFromCorrelation builds Σ_ij = ρ_ij σ_i σ_j.
func covFromCorrelation(vols []float64, corr [][]float64) [][]float64 {
	n := len(vols)
	cov := make([][]float64, n)
	for i := range cov {
		cov[i] = make([]float64, n)
		for j := range cov[i] {
			cov[i][j] = corr[i][j] * vols[i] * vols[j]
		}
	}
	return cov
}

// blockCorrelationEstimates is four assets in two tight pairs: A-B (0.9) and C-D (0.8).
func blockCorrelationEstimates() Estimates {
	corr := [][]float64{
		{1.0, 0.9, 0.1, 0.1},
		{0.9, 1.0, 0.1, 0.1},
		{0.1, 0.1, 1.0, 0.8},
		{0.1, 0.1, 0.8, 1.0},
	}
	return testEstimates(
		[]string{"A", "B", "C", "D"},
		[]float64{0.10, 0.12, 0.08, 0.06},
		covFromCorrelation([]float64{0.20, 0.25, 0.30, 0.15}, corr),
	)
}

func diagonalEstimates() Estimates {
	return testEstimates(
		[]string{"A", "B", "C"},
		[]float64{0.08, 0.10, 0.04},
		[][]float64{
			{0.04, 0, 0},
			{0, 0.09, 0},
			{0, 0, 0.01},
		},
	)
}

func assertValidWeights(t *testing.T, w Weights, assets []string, constraints Constraints) {
	t.Helper()
	assert.Len(t, w, len(assets))
	for _, a := range assets {
		v, ok := w[a]
		assert.True(t, ok, "missing weight for %s", a)
		assert.False(t, math.IsNaN(v), "weight for %s is NaN", a)
		if constraints.LongOnly {
			assert.GreaterOrEqual(t, v, -1e-9, "weight for %s should be non-negative", a)
		}
		b := constraints.BoundsFor(a)
		assert.GreaterOrEqual(t, v, b.Min-1e-9, "weight for %s below lower bound", a)
		assert.LessOrEqual(t, v, b.Max+1e-9, "weight for %s above upper bound", a)
	}
	if constraints.FullyInvested {
		assert.InDelta(t, 1.0, w.Sum(), 1e-6, "weights should sum to 1")
	}
}
