package optimization

import (
	"math"
	"time"
)

// MinimumVarianceOptimizer solves min wᵗΣw under the weight constraints.
type MinimumVarianceOptimizer struct{}

// NewMinimumVarianceOptimizer creates a new minimum variance optimizer.
func NewMinimumVarianceOptimizer() *MinimumVarianceOptimizer {
	return &MinimumVarianceOptimizer{}
}

// Optimize returns Success=false rather than an error when the bounds cannot meet the
// budget or the active-set loop hits its cap. A singular KKT system is an error.
func (o *MinimumVarianceOptimizer) Optimize(est Estimates, constraints Constraints) (*MinimumVariancePortfolio, error) {
	if err := ValidateEstimates(est); err != nil {
		return nil, err
	}
	if err := constraints.Validate(); err != nil {
		return nil, err
	}

	assets := est.Assets
	n := len(assets)
	lo, hi := constraints.vectors(assets)

	result, err := solveQP(qpProblem{
		Q:         est.Covariance,
		C:         make([]float64, n),
		Lo:        lo,
		Hi:        hi,
		Budget:    constraints.FullyInvested,
		Operation: "minimum variance",
	})
	if err != nil {
		return nil, err
	}

	out := &MinimumVariancePortfolio{
		Timestamp:  time.Now(),
		Weights:    Weights{},
		Iterations: result.Iterations,
	}
	if !result.Feasible {
		out.Message = ErrInfeasibleConstraints.Error()
		return out, nil
	}

	ret, variance := portfolioStats(result.X, est.ReturnsVector(), est.Covariance)
	out.Weights = weightsFromVector(assets, result.X)
	out.PortfolioVariance = variance
	out.PortfolioVolatility = math.Sqrt(variance)
	out.ExpectedReturn = ret
	out.Success = result.Converged
	if !result.Converged {
		out.Message = "active-set iteration limit reached"
	}
	return out, nil
}
