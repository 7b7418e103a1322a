package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/quantfolio/pkg/formulas"
)

// Shrinkage selects the covariance estimator.
type Shrinkage string

const (
	ShrinkageNone       Shrinkage = "none"
	ShrinkageLedoitWolf Shrinkage = "ledoit_wolf"
)

// EstimatorOptions configures one estimation call.
type EstimatorOptions struct {
	// PeriodsPerYear overrides the multiplier implied by the series frequency.
	PeriodsPerYear float64
	Shrinkage      Shrinkage
}

// ValidateUniverse rejects empty universes and duplicate identifiers.
func ValidateUniverse(assets AssetUniverse) error {
	if len(assets) == 0 {
		return ErrEmptyUniverse
	}
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if a == "" {
			return fmt.Errorf("%w: empty asset identifier", ErrEmptyUniverse)
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, a)
		}
		seen[a] = struct{}{}
	}
	return nil
}

// ValidateSeries checks the ReturnSeries invariants for the universe: every asset has
// at least two observations, all series have equal length, no NaN/Inf.
func ValidateSeries(series ReturnSeries, assets AssetUniverse) (int, error) {
	length := -1
	for _, asset := range assets {
		r, ok := series.Returns[asset]
		if !ok || len(r) < 2 {
			return 0, &InsufficientDataError{Asset: asset, Observations: len(r)}
		}
		if length == -1 {
			length = len(r)
		} else if len(r) != length {
			return 0, fmt.Errorf("%w: %s has %d observations, expected %d", ErrMisalignedSeries, asset, len(r), length)
		}
		for i, v := range r {
			if !formulas.IsFinite(v) {
				return 0, fmt.Errorf("%w: %s at observation %d", ErrInvalidReturn, asset, i)
			}
		}
	}
	return length, nil
}

// Estimate computes annualized sample mean returns and the annualized covariance matrix.
// It is a pure function of its inputs.
func Estimate(series ReturnSeries, assets AssetUniverse, opts EstimatorOptions) (Estimates, error) {
	if err := ValidateUniverse(assets); err != nil {
		return Estimates{}, err
	}
	observations, err := ValidateSeries(series, assets)
	if err != nil {
		return Estimates{}, err
	}

	ppy := opts.PeriodsPerYear
	if ppy <= 0 {
		ppy = series.Frequency.PeriodsPerYear()
	}

	expected := make(map[string]float64, len(assets))
	for _, asset := range assets {
		expected[asset] = formulas.Mean(series.Returns[asset]) * ppy
	}

	cov := sampleCovariance(series.Returns, assets)
	if opts.Shrinkage == ShrinkageLedoitWolf {
		cov = applyLedoitWolfShrinkage(cov)
	}
	for i := range cov {
		for j := range cov[i] {
			cov[i][j] *= ppy
		}
	}

	frequency := series.Frequency
	if frequency == "" {
		frequency = FrequencyDaily
	}

	return Estimates{
		Assets:          append(AssetUniverse(nil), assets...),
		ExpectedReturns: expected,
		Covariance:      cov,
		Observations:    observations,
		Frequency:       frequency,
	}, nil
}

// sampleCovariance returns the n-1 sample covariance matrix in universe order.
func sampleCovariance(returns map[string][]float64, assets AssetUniverse) CovarianceMatrix {
	n := len(assets)
	cov := make(CovarianceMatrix, n)
	for i := range cov {
		cov[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			c := formulas.Covariance(returns[assets[i]], returns[assets[j]])
			cov[i][j] = c
			cov[j][i] = c
		}
	}
	return cov
}

// applyLedoitWolfShrinkage shrinks a sample covariance matrix towards a constant
// correlation target: Σ_shrunk = (1-δ)·Σ_sample + δ·Σ_target, δ in [0, 0.5].
func applyLedoitWolfShrinkage(sampleCov CovarianceMatrix) CovarianceMatrix {
	n := len(sampleCov)
	if n < 2 {
		return sampleCov
	}

	vols := make([]float64, n)
	for i := 0; i < n; i++ {
		vols[i] = math.Sqrt(math.Max(sampleCov[i][i], 0))
	}

	// Average pairwise correlation.
	avgCorr := 0.0
	pairs := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if vols[i] > 0 && vols[j] > 0 {
				avgCorr += sampleCov[i][j] / (vols[i] * vols[j])
				pairs++
			}
		}
	}
	if pairs > 0 {
		avgCorr /= float64(pairs)
	}

	target := make([][]float64, n)
	for i := 0; i < n; i++ {
		target[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		target[i][i] = sampleCov[i][i]
		for j := i + 1; j < n; j++ {
			t := avgCorr * vols[i] * vols[j]
			target[i][j] = t
			target[j][i] = t
		}
	}

	// Simplified intensity: dispersion of the sample entries relative to their
	// distance from the target, capped at 0.5.
	shrinkage := 0.2
	var sumSqDiff, sum, sumSq float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			diff := sampleCov[i][j] - target[i][j]
			sumSqDiff += diff * diff
			sum += sampleCov[i][j]
			sumSq += sampleCov[i][j] * sampleCov[i][j]
		}
	}
	count := float64(n * n)
	meanSqDiff := sumSqDiff / count
	mean := sum / count
	varSample := sumSq/count - mean*mean
	if varSample > 0 && meanSqDiff > 0 {
		shrinkage = math.Min(0.5, math.Max(0.0, varSample/(varSample+meanSqDiff)))
	}

	shrunk := make(CovarianceMatrix, n)
	for i := 0; i < n; i++ {
		shrunk[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			shrunk[i][j] = (1-shrinkage)*sampleCov[i][j] + shrinkage*target[i][j]
		}
	}
	return shrunk
}

// ValidateEstimates checks that estimates are internally consistent before an engine runs.
func ValidateEstimates(est Estimates) error {
	if err := ValidateUniverse(est.Assets); err != nil {
		return err
	}
	n := len(est.Assets)
	if len(est.Covariance) != n {
		return fmt.Errorf("%w: size %d does not match %d assets", ErrInvalidCovariance, len(est.Covariance), n)
	}
	for i := 0; i < n; i++ {
		if len(est.Covariance[i]) != n {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", ErrInvalidCovariance, i, len(est.Covariance[i]), n)
		}
		if est.Covariance[i][i] < 0 || !formulas.IsFinite(est.Covariance[i][i]) {
			return fmt.Errorf("%w: invalid variance %v for %s", ErrInvalidCovariance, est.Covariance[i][i], est.Assets[i])
		}
		for j := 0; j < i; j++ {
			a, b := est.Covariance[i][j], est.Covariance[j][i]
			if !formulas.IsFinite(a) || math.Abs(a-b) > 1e-8*math.Max(1, math.Max(math.Abs(a), math.Abs(b))) {
				return fmt.Errorf("%w: not symmetric at (%d,%d)", ErrInvalidCovariance, i, j)
			}
		}
	}
	for _, a := range est.Assets {
		r, ok := est.ExpectedReturns[a]
		if !ok || !formulas.IsFinite(r) {
			return fmt.Errorf("%w: missing expected return for %s", ErrInvalidReturn, a)
		}
	}
	return nil
}
