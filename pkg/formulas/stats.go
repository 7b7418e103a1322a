// Package formulas holds the numeric helpers shared by the optimizers.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Covariance calculates the sample covariance (n-1 denominator) between two datasets
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// CalculateReturns converts prices to simple periodic returns.
// Returns[i] = (Price[i+1] - Price[i]) / Price[i]
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}

	return returns
}

// IsFinite reports whether v is neither NaN nor ±Inf.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// QuadraticForm returns wᵗ·M·w for a square matrix stored as rows.
func QuadraticForm(w []float64, m [][]float64) float64 {
	total := 0.0
	for i := range w {
		for j := range w {
			total += w[i] * m[i][j] * w[j]
		}
	}
	return total
}

// MatVec returns M·w for a square matrix stored as rows.
func MatVec(m [][]float64, w []float64) []float64 {
	out := make([]float64, len(m))
	for i := range m {
		for j := range w {
			out[i] += m[i][j] * w[j]
		}
	}
	return out
}

// Dot returns the inner product of two equal-length vectors.
func Dot(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		total += a[i] * b[i]
	}
	return total
}
