package optimization

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quantfolio/pkg/formulas"
)

// Method identifies an optimization methodology.
type Method string

const (
	MethodBlackLitterman  Method = "black_litterman"
	MethodRiskParity      Method = "risk_parity"
	MethodHRP             Method = "hrp"
	MethodMinimumVariance Method = "minimum_variance"
)

// AllMethods lists the methods in their canonical comparison order.
var AllMethods = []Method{
	MethodBlackLitterman,
	MethodRiskParity,
	MethodHRP,
	MethodMinimumVariance,
}

// AssetUniverse is the ordered set of asset identifiers for one request.
// Its order defines the row/column order of the covariance matrix.
type AssetUniverse []string

// Index returns a lookup from asset identifier to its position.
func (u AssetUniverse) Index() map[string]int {
	idx := make(map[string]int, len(u))
	for i, a := range u {
		idx[a] = i
	}
	return idx
}

// Frequency of the periodic returns.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// PeriodsPerYear returns the annualization multiplier for the frequency.
// Unknown frequencies are treated as daily.
func (f Frequency) PeriodsPerYear() float64 {
	switch f {
	case FrequencyWeekly:
		return 52
	case FrequencyMonthly:
		return 12
	default:
		return 252
	}
}

// ReturnSeries maps asset identifiers to aligned periodic returns (oldest -> newest).
type ReturnSeries struct {
	Frequency Frequency
	Returns   map[string][]float64
}

// CovarianceMatrix is an annualized N×N covariance matrix in universe order.
type CovarianceMatrix [][]float64

// Size returns N.
func (c CovarianceMatrix) Size() int {
	return len(c)
}

// Variances returns the diagonal.
func (c CovarianceMatrix) Variances() []float64 {
	out := make([]float64, len(c))
	for i := range c {
		out[i] = c[i][i]
	}
	return out
}

// Dense copies the matrix into a gonum symmetric matrix. The upper triangle wins.
func (c CovarianceMatrix) Dense() *mat.SymDense {
	n := len(c)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, c[i][j])
		}
	}
	return sym
}

// Estimates is the ReturnEstimator output consumed by every engine.
type Estimates struct {
	Assets          AssetUniverse
	ExpectedReturns map[string]float64
	Covariance      CovarianceMatrix
	Observations    int
	Frequency       Frequency
}

// ReturnsVector returns expected returns in universe order.
func (e Estimates) ReturnsVector() []float64 {
	out := make([]float64, len(e.Assets))
	for i, a := range e.Assets {
		out[i] = e.ExpectedReturns[a]
	}
	return out
}

// Weights maps asset identifiers to portfolio weights.
type Weights map[string]float64

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	total := 0.0
	for _, v := range w {
		total += v
	}
	return total
}

// Ordered returns the weights in the given asset order.
func (w Weights) Ordered(assets AssetUniverse) []float64 {
	out := make([]float64, len(assets))
	for i, a := range assets {
		out[i] = w[a]
	}
	return out
}

func weightsFromVector(assets AssetUniverse, x []float64) Weights {
	w := make(Weights, len(assets))
	for i, a := range assets {
		w[a] = x[i]
	}
	return w
}

// Views holds absolute Black-Litterman views and their confidences in (0, 1].
type Views struct {
	Returns    map[string]float64 `json:"returns"`
	Confidence map[string]float64 `json:"confidence"`
}

// Empty reports whether no views are present.
func (v Views) Empty() bool {
	return len(v.Returns) == 0 && len(v.Confidence) == 0
}

// BlackLittermanModel is the Black-Litterman result.
type BlackLittermanModel struct {
	RunID              string             `json:"run_id"`
	Timestamp          time.Time          `json:"timestamp"`
	PriorReturns       map[string]float64 `json:"prior_returns"`
	PosteriorReturns   map[string]float64 `json:"posterior_returns"`
	MarketWeights      Weights            `json:"market_weights"`
	Weights            Weights            `json:"weights"`
	ExpectedReturn     float64            `json:"expected_return"`
	ExpectedVolatility float64            `json:"expected_volatility"`
	SharpeRatio        float64            `json:"sharpe_ratio"`
	Success            bool               `json:"success"`
}

// RiskParityPortfolio is the Risk Parity result. Callers must check Converged.
type RiskParityPortfolio struct {
	RunID             string             `json:"run_id"`
	Timestamp         time.Time          `json:"timestamp"`
	Weights           Weights            `json:"weights"`
	RiskContributions map[string]float64 `json:"risk_contributions"`
	TotalRisk         float64            `json:"total_risk"`
	ExpectedReturn    float64            `json:"expected_return"`
	Converged         bool               `json:"converged"`
	Iterations        int                `json:"iterations"`
}

// Cluster is one internal merge of the HRP dendrogram.
type Cluster struct {
	Name     string   `json:"name"`
	Assets   []string `json:"assets"`
	Distance float64  `json:"distance"`
	Left     string   `json:"left"`
	Right    string   `json:"right"`
}

// HierarchicalRiskParity is the HRP result.
type HierarchicalRiskParity struct {
	RunID          string       `json:"run_id"`
	Timestamp      time.Time    `json:"timestamp"`
	Weights        Weights      `json:"weights"`
	Clusters       []Cluster    `json:"clusters"`
	Order          []string     `json:"order"`
	Tree           *ClusterTree `json:"-"`
	TotalRisk      float64      `json:"total_risk"`
	ExpectedReturn float64      `json:"expected_return"`
}

// MinimumVariancePortfolio is the Minimum Variance result. Callers must check Success.
type MinimumVariancePortfolio struct {
	RunID               string    `json:"run_id"`
	Timestamp           time.Time `json:"timestamp"`
	Success             bool      `json:"success"`
	Message             string    `json:"message,omitempty"`
	Weights             Weights   `json:"weights"`
	PortfolioVariance   float64   `json:"portfolio_variance"`
	PortfolioVolatility float64   `json:"portfolio_volatility"`
	ExpectedReturn      float64   `json:"expected_return"`
	Iterations          int       `json:"iterations"`
}

// Summary is the method-independent view of a result used for ranking.
type Summary struct {
	Method         Method  `json:"method"`
	Weights        Weights `json:"weights"`
	ExpectedReturn float64 `json:"expected_return"`
	Risk           float64 `json:"risk"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	// Ok is false when the method reported non-convergence or infeasibility.
	Ok bool `json:"ok"`
}

// Ranking is one row of a comparison.
type Ranking struct {
	Rank        int     `json:"rank"`
	Method      Method  `json:"method"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	Summary     Summary `json:"summary"`
}

func portfolioStats(w []float64, mu []float64, cov CovarianceMatrix) (ret, variance float64) {
	return formulas.Dot(w, mu), math.Max(formulas.QuadraticForm(w, cov), 0)
}
