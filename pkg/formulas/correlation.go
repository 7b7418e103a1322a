package formulas

import (
	"fmt"
	"math"
)

// CorrelationMatrixFromCovariance calculates the correlation matrix from a covariance matrix.
//
// Formula: corr(i,j) = cov(i,j) / sqrt(cov(i,i) * cov(j,j))
func CorrelationMatrixFromCovariance(cov [][]float64) ([][]float64, error) {
	n := len(cov)
	if n == 0 {
		return nil, fmt.Errorf("empty covariance matrix")
	}
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, fmt.Errorf("covariance matrix is not square")
		}
	}

	vars := make([]float64, n)
	for i := 0; i < n; i++ {
		v := cov[i][i]
		if v <= 0 || !IsFinite(v) {
			return nil, fmt.Errorf("invalid variance on diagonal at %d: %v", i, v)
		}
		vars[i] = v
	}

	corr := make([][]float64, n)
	for i := 0; i < n; i++ {
		corr[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		corr[i][i] = 1.0
		for j := i + 1; j < n; j++ {
			val := cov[i][j] / math.Sqrt(vars[i]*vars[j])
			val = math.Max(-1.0, math.Min(1.0, val))
			corr[i][j] = val
			corr[j][i] = val
		}
	}

	return corr, nil
}

// CorrelationToDistance converts a correlation matrix to the angular distance used by HRP.
// Distance formula: d_ij = sqrt(0.5 * (1 - ρ_ij)), which lies in [0, 1].
func CorrelationToDistance(corrMatrix [][]float64) [][]float64 {
	n := len(corrMatrix)
	distMatrix := make([][]float64, n)

	for i := 0; i < n; i++ {
		distMatrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			corr := math.Max(-1.0, math.Min(1.0, corrMatrix[i][j]))
			distMatrix[i][j] = math.Sqrt(0.5 * (1.0 - corr))
		}
	}

	return distMatrix
}

// InverseVarianceWeights calculates weights proportional to 1/variance.
//
// Formula: w_i = (1/v_i) / Σ(1/v_j)
//
// Non-positive variances are floored at eps so a degenerate asset does not produce Inf.
func InverseVarianceWeights(variances []float64) []float64 {
	const eps = 1e-12
	n := len(variances)
	weights := make([]float64, n)
	if n == 0 {
		return weights
	}

	total := 0.0
	for i, v := range variances {
		if v < eps {
			v = eps
		}
		weights[i] = 1.0 / v
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}
