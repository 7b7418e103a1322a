package optimization

import (
	"context"

	"github.com/aristath/quantfolio/pkg/formulas"
)

// Request is the shared input every strategy runs on.
type Request struct {
	Estimates   Estimates
	Constraints Constraints
	Views       Views
	// MarketCaps feeds the Black-Litterman prior. Nil means equal weights.
	MarketCaps map[string]float64
}

// Strategy is one optimization method behind a uniform interface.
type Strategy interface {
	Name() Method
	Run(ctx context.Context, req Request) (Summary, error)
}

// SummarizeBlackLitterman reduces a Black-Litterman result to its ranking summary.
func SummarizeBlackLitterman(m *BlackLittermanModel) Summary {
	return Summary{
		Method:         MethodBlackLitterman,
		Weights:        m.Weights,
		ExpectedReturn: m.ExpectedReturn,
		Risk:           m.ExpectedVolatility,
		SharpeRatio:    m.SharpeRatio,
		Ok:             m.Success,
	}
}

// SummarizeRiskParity ranks Risk Parity by its total risk.
func SummarizeRiskParity(p *RiskParityPortfolio) Summary {
	return newSummary(MethodRiskParity, p.Weights, p.ExpectedReturn, p.TotalRisk, p.Converged)
}

// SummarizeHRP ranks HRP by its total risk.
func SummarizeHRP(h *HierarchicalRiskParity) Summary {
	return newSummary(MethodHRP, h.Weights, h.ExpectedReturn, h.TotalRisk, true)
}

// SummarizeMinimumVariance ranks Minimum Variance by its portfolio volatility.
func SummarizeMinimumVariance(p *MinimumVariancePortfolio) Summary {
	return newSummary(MethodMinimumVariance, p.Weights, p.ExpectedReturn, p.PortfolioVolatility, p.Success)
}

type blackLittermanStrategy struct {
	engine *BlackLittermanEngine
	opts   BlackLittermanOptions
}

// NewBlackLittermanStrategy wraps the Black-Litterman engine.
func NewBlackLittermanStrategy(opts BlackLittermanOptions) Strategy {
	return &blackLittermanStrategy{engine: NewBlackLittermanEngine(), opts: opts}
}

func (s *blackLittermanStrategy) Name() Method { return MethodBlackLitterman }

func (s *blackLittermanStrategy) Run(ctx context.Context, req Request) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	m, err := s.engine.Optimize(req.Estimates, req.MarketCaps, req.Views, req.Constraints, s.opts)
	if err != nil {
		return Summary{}, err
	}
	return SummarizeBlackLitterman(m), nil
}

type riskParityStrategy struct {
	solver *RiskParitySolver
	opts   RiskParityOptions
}

// NewRiskParityStrategy wraps the risk parity solver.
func NewRiskParityStrategy(opts RiskParityOptions) Strategy {
	return &riskParityStrategy{solver: NewRiskParitySolver(), opts: opts}
}

func (s *riskParityStrategy) Name() Method { return MethodRiskParity }

func (s *riskParityStrategy) Run(ctx context.Context, req Request) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	p, err := s.solver.Solve(req.Estimates, req.Constraints, s.opts)
	if err != nil {
		return Summary{}, err
	}
	return SummarizeRiskParity(p), nil
}

type hrpStrategy struct {
	optimizer *HRPOptimizer
	opts      HRPOptions
}

// NewHRPStrategy wraps the HRP optimizer.
func NewHRPStrategy(opts HRPOptions) Strategy {
	return &hrpStrategy{optimizer: NewHRPOptimizer(), opts: opts}
}

func (s *hrpStrategy) Name() Method { return MethodHRP }

func (s *hrpStrategy) Run(ctx context.Context, req Request) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	h, err := s.optimizer.Optimize(req.Estimates, req.Constraints, s.opts)
	if err != nil {
		return Summary{}, err
	}
	return SummarizeHRP(h), nil
}

type minimumVarianceStrategy struct {
	optimizer *MinimumVarianceOptimizer
}

// NewMinimumVarianceStrategy wraps the minimum variance optimizer.
func NewMinimumVarianceStrategy() Strategy {
	return &minimumVarianceStrategy{optimizer: NewMinimumVarianceOptimizer()}
}

func (s *minimumVarianceStrategy) Name() Method { return MethodMinimumVariance }

func (s *minimumVarianceStrategy) Run(ctx context.Context, req Request) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	p, err := s.optimizer.Optimize(req.Estimates, req.Constraints)
	if err != nil {
		return Summary{}, err
	}
	return SummarizeMinimumVariance(p), nil
}

// EngineOptions groups the per-method settings.
type EngineOptions struct {
	BlackLitterman BlackLittermanOptions `json:"black_litterman"`
	RiskParity     RiskParityOptions     `json:"risk_parity"`
	HRP            HRPOptions            `json:"hrp"`
}

func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		BlackLitterman: DefaultBlackLittermanOptions(),
		RiskParity:     DefaultRiskParityOptions(),
		HRP:            DefaultHRPOptions(),
	}
}

// DefaultStrategies returns all four strategies in AllMethods order.
func DefaultStrategies(opts EngineOptions) []Strategy {
	return []Strategy{
		NewBlackLittermanStrategy(opts.BlackLitterman),
		NewRiskParityStrategy(opts.RiskParity),
		NewHRPStrategy(opts.HRP),
		NewMinimumVarianceStrategy(),
	}
}

func newSummary(method Method, w Weights, ret, risk float64, ok bool) Summary {
	return Summary{
		Method:         method,
		Weights:        w,
		ExpectedReturn: ret,
		Risk:           risk,
		SharpeRatio:    formulas.SharpeRatio(ret, risk),
		Ok:             ok,
	}
}
