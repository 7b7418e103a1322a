package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMarketCaps = map[string]float64{"A": 400, "B": 300, "C": 200, "D": 100}

func TestBlackLitterman_EmptyViewsReturnsEquilibrium(t *testing.T) {
	est := blockCorrelationEstimates()
	opts := DefaultBlackLittermanOptions()

	result, err := NewBlackLittermanEngine().Optimize(est, testMarketCaps, Views{}, DefaultConstraints(), opts)
	require.NoError(t, err)
	require.True(t, result.Success)

	for _, a := range est.Assets {
		assert.Equal(t, result.PriorReturns[a], result.PosteriorReturns[a], "posterior should equal prior for %s", a)
	}

	// π = λΣw_mkt
	wMkt := []float64{0.4, 0.3, 0.2, 0.1}
	for i, a := range est.Assets {
		expected := 0.0
		for j := range wMkt {
			expected += opts.RiskAversion * est.Covariance[i][j] * wMkt[j]
		}
		assert.InDelta(t, expected, result.PriorReturns[a], 1e-12)
		assert.InDelta(t, wMkt[i], result.MarketWeights[a], 1e-12)
		assert.InDelta(t, wMkt[i], result.Weights[a], 1e-6, "weights should equal market weights for %s", a)
	}
	assertValidWeights(t, result.Weights, est.Assets, DefaultConstraints())
}

func TestBlackLitterman_MissingCapsFallBackToEqualWeights(t *testing.T) {
	est := blockCorrelationEstimates()

	result, err := NewBlackLittermanEngine().Optimize(est, nil, Views{}, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.NoError(t, err)
	for _, a := range est.Assets {
		assert.InDelta(t, 0.25, result.MarketWeights[a], 1e-12)
		assert.InDelta(t, 0.25, result.Weights[a], 1e-6)
	}

	partial := map[string]float64{"A": 1, "B": 1}
	result, err = NewBlackLittermanEngine().Optimize(est, partial, Views{}, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, result.MarketWeights["D"], 1e-12)
}

func TestBlackLitterman_ConfidenceScalesPull(t *testing.T) {
	est := blockCorrelationEstimates()
	engine := NewBlackLittermanEngine()

	for _, conf := range []float64{0.25, 0.5, 0.9, 1.0} {
		views := Views{
			Returns:    map[string]float64{"C": 0.15},
			Confidence: map[string]float64{"C": conf},
		}
		result, err := engine.Optimize(est, testMarketCaps, views, DefaultConstraints(), DefaultBlackLittermanOptions())
		require.NoError(t, err)

		// With Ω = τΣ_kk(1-c)/c a single view moves the posterior a fraction c of the way.
		prior := result.PriorReturns["C"]
		assert.InDelta(t, prior+conf*(0.15-prior), result.PosteriorReturns["C"], 1e-12, "confidence %v", conf)

		// Assets without a view keep the prior.
		for _, a := range []string{"A", "B", "D"} {
			assert.Equal(t, result.PriorReturns[a], result.PosteriorReturns[a])
		}
		assertValidWeights(t, result.Weights, est.Assets, DefaultConstraints())
	}
}

func TestBlackLitterman_BullishViewIncreasesWeight(t *testing.T) {
	est := blockCorrelationEstimates()
	engine := NewBlackLittermanEngine()

	base, err := engine.Optimize(est, testMarketCaps, Views{}, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.NoError(t, err)

	views := Views{
		Returns:    map[string]float64{"D": base.PriorReturns["D"] + 0.05},
		Confidence: map[string]float64{"D": 0.8},
	}
	tilted, err := engine.Optimize(est, testMarketCaps, views, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.NoError(t, err)

	assert.Greater(t, tilted.PosteriorReturns["D"], base.PosteriorReturns["D"])
	assert.Greater(t, tilted.Weights["D"], base.Weights["D"])
}

func TestBlackLitterman_SpilloverMovesCorrelatedAssets(t *testing.T) {
	est := blockCorrelationEstimates()
	opts := DefaultBlackLittermanOptions()
	opts.Spillover = true
	views := Views{
		Returns:    map[string]float64{"A": 0.2},
		Confidence: map[string]float64{"A": 0.6},
	}

	result, err := NewBlackLittermanEngine().Optimize(est, testMarketCaps, views, DefaultConstraints(), opts)
	require.NoError(t, err)

	// B is 0.9 correlated with A, so a bullish view on A lifts B as well.
	assert.Greater(t, result.PosteriorReturns["B"], result.PriorReturns["B"])
	prior := result.PriorReturns["A"]
	assert.InDelta(t, prior+0.6*(0.2-prior), result.PosteriorReturns["A"], 1e-12)
}

func TestBlackLitterman_MultipleViews(t *testing.T) {
	est := blockCorrelationEstimates()
	views := Views{
		Returns:    map[string]float64{"A": 0.02, "C": 0.12},
		Confidence: map[string]float64{"A": 1, "C": 1},
	}

	result, err := NewBlackLittermanEngine().Optimize(est, testMarketCaps, views, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.NoError(t, err)

	// Fully confident views are held exactly.
	assert.InDelta(t, 0.02, result.PosteriorReturns["A"], 1e-12)
	assert.InDelta(t, 0.12, result.PosteriorReturns["C"], 1e-12)
}

func TestBlackLitterman_ReportsPortfolioStatistics(t *testing.T) {
	est := blockCorrelationEstimates()

	result, err := NewBlackLittermanEngine().Optimize(est, testMarketCaps, Views{}, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.NoError(t, err)

	w := result.Weights.Ordered(est.Assets)
	mu := make([]float64, len(est.Assets))
	for i, a := range est.Assets {
		mu[i] = result.PosteriorReturns[a]
	}
	ret, variance := portfolioStats(w, mu, est.Covariance)
	assert.InDelta(t, ret, result.ExpectedReturn, 1e-12)
	assert.InDelta(t, math.Sqrt(variance), result.ExpectedVolatility, 1e-12)
	assert.InDelta(t, ret/math.Sqrt(variance), result.SharpeRatio, 1e-9)
}

func TestBlackLitterman_InvalidViews(t *testing.T) {
	est := blockCorrelationEstimates()

	tests := []struct {
		name  string
		views Views
		asset string
	}{
		{
			name:  "unknown asset",
			views: Views{Returns: map[string]float64{"ZZZ": 0.1}, Confidence: map[string]float64{"ZZZ": 0.5}},
			asset: "ZZZ",
		},
		{
			name:  "missing confidence",
			views: Views{Returns: map[string]float64{"A": 0.1}},
			asset: "A",
		},
		{
			name:  "zero confidence",
			views: Views{Returns: map[string]float64{"A": 0.1}, Confidence: map[string]float64{"A": 0}},
			asset: "A",
		},
		{
			name:  "confidence above one",
			views: Views{Returns: map[string]float64{"A": 0.1}, Confidence: map[string]float64{"A": 1.5}},
			asset: "A",
		},
		{
			name:  "NaN confidence",
			views: Views{Returns: map[string]float64{"A": 0.1}, Confidence: map[string]float64{"A": math.NaN()}},
			asset: "A",
		},
		{
			name:  "NaN view",
			views: Views{Returns: map[string]float64{"B": math.NaN()}, Confidence: map[string]float64{"B": 0.5}},
			asset: "B",
		},
		{
			name:  "confidence without view",
			views: Views{Returns: map[string]float64{}, Confidence: map[string]float64{"C": 0.5}},
			asset: "C",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBlackLittermanEngine().Optimize(est, nil, tt.views, DefaultConstraints(), DefaultBlackLittermanOptions())
			require.Error(t, err)

			var viewErr *InvalidViewError
			require.True(t, errors.As(err, &viewErr))
			assert.Equal(t, tt.asset, viewErr.Asset)
			assert.True(t, IsInputError(err))
		})
	}
}

func TestBlackLitterman_SingleAsset(t *testing.T) {
	est := testEstimates([]string{"A"}, []float64{0.07}, [][]float64{{0.04}})
	views := Views{
		Returns:    map[string]float64{"A": 0.3},
		Confidence: map[string]float64{"A": 0.5},
	}

	result, err := NewBlackLittermanEngine().Optimize(est, nil, views, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.Weights["A"], 1e-12)
	assert.InDelta(t, 0.2, result.ExpectedVolatility, 1e-12)
}

func TestBlackLitterman_InvalidOptions(t *testing.T) {
	_, err := NewBlackLittermanEngine().Optimize(blockCorrelationEstimates(), nil, Views{}, DefaultConstraints(), BlackLittermanOptions{Tau: 0.05})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestBlackLitterman_SingularViewSystem(t *testing.T) {
	est := testEstimates(
		[]string{"A", "B"},
		[]float64{0.05, 0.05},
		[][]float64{
			{0, 0},
			{0, 0.04},
		},
	)
	views := Views{
		Returns:    map[string]float64{"A": 0.1},
		Confidence: map[string]float64{"A": 0.5},
	}

	_, err := NewBlackLittermanEngine().Optimize(est, nil, views, DefaultConstraints(), DefaultBlackLittermanOptions())
	require.Error(t, err)
	assert.True(t, IsSingular(err))
}

func TestMarketWeights(t *testing.T) {
	assets := AssetUniverse{"A", "B"}

	w, ok := MarketWeights(map[string]float64{"A": 3, "B": 1}, assets)
	assert.True(t, ok)
	assert.InDeltaSlice(t, []float64{0.75, 0.25}, w, 1e-12)

	w, ok = MarketWeights(map[string]float64{"A": -1, "B": 1}, assets)
	assert.False(t, ok)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, w, 1e-12)

	w, ok = MarketWeights(map[string]float64{"A": 0, "B": 0}, assets)
	assert.False(t, ok)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, w, 1e-12)
}
