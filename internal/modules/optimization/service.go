package optimization

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReturnsProvider supplies aligned, complete return series for a date range.
type ReturnsProvider interface {
	GetHistoricalReturns(ctx context.Context, assets []string, start, end time.Time) (ReturnSeries, error)
}

// DataVersioner is implemented by returns providers that can report when the stored data
// behind a universe changed. Cached estimates are keyed by that version.
type DataVersioner interface {
	DataVersion(ctx context.Context, assets []string) (int64, error)
}

// MarketCapProvider supplies capitalization weights for the Black-Litterman prior.
type MarketCapProvider interface {
	GetMarketCapWeights(ctx context.Context, assets []string) (map[string]float64, error)
}

// EstimateCache stores estimator output keyed by request shape.
// GetEstimates returns nil, nil on a miss.
type EstimateCache interface {
	GetEstimates(key string) (*Estimates, error)
	SetEstimates(key string, est Estimates) error
}

// ResultArchiver persists finished results outside the process.
type ResultArchiver interface {
	Archive(ctx context.Context, method Method, runID string, result interface{}) error
}

// ServiceOptions configures the service. Zero values fall back to defaults.
type ServiceOptions struct {
	Estimator EstimatorOptions
	Engines   EngineOptions
}

// OptimizerService is the entry point for all optimization runs: it validates inputs,
// fetches returns, estimates, runs the requested engine and archives the result.
type OptimizerService struct {
	returns    ReturnsProvider
	marketCaps MarketCapProvider
	cache      EstimateCache
	archiver   ResultArchiver
	opts       ServiceOptions
	log        zerolog.Logger

	blackLitterman  *BlackLittermanEngine
	riskParity      *RiskParitySolver
	hrp             *HRPOptimizer
	minimumVariance *MinimumVarianceOptimizer
	comparator      *Comparator
}

// NewOptimizerService creates the service. marketCaps, cache and archiver may be nil.
func NewOptimizerService(
	returns ReturnsProvider,
	marketCaps MarketCapProvider,
	cache EstimateCache,
	archiver ResultArchiver,
	opts ServiceOptions,
	log zerolog.Logger,
) *OptimizerService {
	defaults := DefaultEngineOptions()
	if opts.Engines.BlackLitterman.RiskAversion == 0 && opts.Engines.BlackLitterman.Tau == 0 {
		opts.Engines.BlackLitterman = defaults.BlackLitterman
	}
	if opts.Engines.RiskParity.Tolerance == 0 && opts.Engines.RiskParity.MaxIterations == 0 {
		opts.Engines.RiskParity = defaults.RiskParity
	}
	if opts.Engines.HRP.Linkage == "" {
		opts.Engines.HRP.Linkage = defaults.HRP.Linkage
	}
	if opts.Engines.HRP.Bisection == "" {
		opts.Engines.HRP.Bisection = defaults.HRP.Bisection
	}
	if opts.Estimator.Shrinkage == "" {
		opts.Estimator.Shrinkage = ShrinkageNone
	}

	log = log.With().Str("service", "optimizer").Logger()
	return &OptimizerService{
		returns:         returns,
		marketCaps:      marketCaps,
		cache:           cache,
		archiver:        archiver,
		opts:            opts,
		log:             log,
		blackLitterman:  NewBlackLittermanEngine(),
		riskParity:      NewRiskParitySolver(),
		hrp:             NewHRPOptimizer(),
		minimumVariance: NewMinimumVarianceOptimizer(),
		comparator:      NewComparator(log, DefaultStrategies(opts.Engines)...),
	}
}

// Options returns the effective options.
func (s *OptimizerService) Options() ServiceOptions {
	return s.opts
}

// RunBlackLitterman runs Black-Litterman with the given views.
func (s *OptimizerService) RunBlackLitterman(
	ctx context.Context,
	assets []string,
	views Views,
	constraints Constraints,
	start, end time.Time,
) (result *BlackLittermanModel, err error) {
	began := time.Now()
	defer func() { observeRun(string(MethodBlackLitterman), began, result != nil && result.Success, err) }()

	if err := s.validateRequest(assets, constraints, start, end); err != nil {
		return nil, err
	}
	if err := ValidateViews(views, assets); err != nil {
		return nil, err
	}

	est, err := s.estimate(ctx, assets, start, end)
	if err != nil {
		return nil, err
	}
	caps := s.fetchMarketCaps(ctx, assets)

	result, err = s.blackLitterman.Optimize(est, caps, views, constraints, s.opts.Engines.BlackLitterman)
	if err != nil {
		return nil, s.fail(MethodBlackLitterman, assets, err)
	}
	result.RunID = uuid.New().String()
	s.log.Info().
		Str("run_id", result.RunID).
		Int("assets", len(assets)).
		Int("views", len(views.Returns)).
		Float64("expected_return", result.ExpectedReturn).
		Float64("volatility", result.ExpectedVolatility).
		Bool("success", result.Success).
		Msg("Black-Litterman optimization complete")
	s.archive(ctx, MethodBlackLitterman, result.RunID, result)
	return result, nil
}

// RunRiskParity runs the risk parity solver. Callers must check Converged.
func (s *OptimizerService) RunRiskParity(
	ctx context.Context,
	assets []string,
	constraints Constraints,
	start, end time.Time,
) (result *RiskParityPortfolio, err error) {
	began := time.Now()
	defer func() { observeRun(string(MethodRiskParity), began, result != nil && result.Converged, err) }()

	if err := s.validateRequest(assets, constraints, start, end); err != nil {
		return nil, err
	}
	est, err := s.estimate(ctx, assets, start, end)
	if err != nil {
		return nil, err
	}

	result, err = s.riskParity.Solve(est, constraints, s.opts.Engines.RiskParity)
	if err != nil {
		return nil, s.fail(MethodRiskParity, assets, err)
	}
	result.RunID = uuid.New().String()
	event := s.log.Info()
	if !result.Converged {
		event = s.log.Warn()
	}
	event.
		Str("run_id", result.RunID).
		Int("assets", len(assets)).
		Int("iterations", result.Iterations).
		Bool("converged", result.Converged).
		Float64("total_risk", result.TotalRisk).
		Msg("Risk parity optimization complete")
	s.archive(ctx, MethodRiskParity, result.RunID, result)
	return result, nil
}

// RunHRP runs Hierarchical Risk Parity.
func (s *OptimizerService) RunHRP(
	ctx context.Context,
	assets []string,
	constraints Constraints,
	start, end time.Time,
) (result *HierarchicalRiskParity, err error) {
	began := time.Now()
	defer func() { observeRun(string(MethodHRP), began, result != nil, err) }()

	if err := s.validateRequest(assets, constraints, start, end); err != nil {
		return nil, err
	}
	est, err := s.estimate(ctx, assets, start, end)
	if err != nil {
		return nil, err
	}

	result, err = s.hrp.Optimize(est, constraints, s.opts.Engines.HRP)
	if err != nil {
		return nil, s.fail(MethodHRP, assets, err)
	}
	result.RunID = uuid.New().String()
	s.log.Info().
		Str("run_id", result.RunID).
		Int("assets", len(assets)).
		Int("clusters", len(result.Clusters)).
		Str("linkage", string(s.opts.Engines.HRP.Linkage)).
		Float64("total_risk", result.TotalRisk).
		Msg("HRP optimization complete")
	s.archive(ctx, MethodHRP, result.RunID, result)
	return result, nil
}

// RunMinimumVariance runs the minimum variance QP. Callers must check Success.
func (s *OptimizerService) RunMinimumVariance(
	ctx context.Context,
	assets []string,
	constraints Constraints,
	start, end time.Time,
) (result *MinimumVariancePortfolio, err error) {
	began := time.Now()
	defer func() { observeRun(string(MethodMinimumVariance), began, result != nil && result.Success, err) }()

	if err := s.validateRequest(assets, constraints, start, end); err != nil {
		return nil, err
	}
	est, err := s.estimate(ctx, assets, start, end)
	if err != nil {
		return nil, err
	}

	result, err = s.minimumVariance.Optimize(est, constraints)
	if err != nil {
		return nil, s.fail(MethodMinimumVariance, assets, err)
	}
	result.RunID = uuid.New().String()
	event := s.log.Info()
	if !result.Success {
		event = s.log.Warn().Str("message", result.Message)
	}
	event.
		Str("run_id", result.RunID).
		Int("assets", len(assets)).
		Bool("success", result.Success).
		Float64("volatility", result.PortfolioVolatility).
		Msg("Minimum variance optimization complete")
	s.archive(ctx, MethodMinimumVariance, result.RunID, result)
	return result, nil
}

// CompareAll runs every method on the same estimates and ranks them by Sharpe ratio.
func (s *OptimizerService) CompareAll(
	ctx context.Context,
	assets []string,
	constraints Constraints,
	start, end time.Time,
) (rankings []Ranking, err error) {
	began := time.Now()
	defer func() { observeRun("compare", began, err == nil, err) }()

	if err := s.validateRequest(assets, constraints, start, end); err != nil {
		return nil, err
	}
	est, err := s.estimate(ctx, assets, start, end)
	if err != nil {
		return nil, err
	}

	rankings, err = s.comparator.Compare(ctx, Request{
		Estimates:   est,
		Constraints: constraints,
		MarketCaps:  s.fetchMarketCaps(ctx, assets),
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int("assets", len(assets)).
		Str("best", string(rankings[0].Method)).
		Float64("best_sharpe", rankings[0].SharpeRatio).
		Msg("Method comparison complete")
	return rankings, nil
}

// validateRequest catches shape problems before any data is fetched.
func (s *OptimizerService) validateRequest(assets []string, constraints Constraints, start, end time.Time) error {
	if err := ValidateUniverse(assets); err != nil {
		return err
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: %s / %s", ErrInvalidDateRange, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return constraints.Validate()
}

func (s *OptimizerService) estimate(ctx context.Context, assets []string, start, end time.Time) (Estimates, error) {
	cache := s.cache
	var version int64
	if versioner, ok := s.returns.(DataVersioner); ok && cache != nil {
		v, err := versioner.DataVersion(ctx, assets)
		if err != nil {
			// Without a version a cached entry may be stale.
			s.log.Warn().Err(err).Msg("Data version unavailable, bypassing estimate cache")
			cache = nil
		}
		version = v
	}

	key := estimateKey(assets, version, start, end, s.opts.Estimator)
	if cache != nil {
		cached, err := cache.GetEstimates(key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Estimate cache read failed")
		} else if cached != nil {
			estimateCacheLookups.WithLabelValues("hit").Inc()
			return *cached, nil
		}
		estimateCacheLookups.WithLabelValues("miss").Inc()
	}

	series, err := s.returns.GetHistoricalReturns(ctx, assets, start, end)
	if err != nil {
		return Estimates{}, fmt.Errorf("failed to get historical returns: %w", err)
	}
	est, err := Estimate(series, assets, s.opts.Estimator)
	if err != nil {
		return Estimates{}, err
	}

	if cache != nil {
		if err := cache.SetEstimates(key, est); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Estimate cache write failed")
		}
	}
	return est, nil
}

// fetchMarketCaps returns nil when caps are unavailable; the prior then uses equal weights.
func (s *OptimizerService) fetchMarketCaps(ctx context.Context, assets []string) map[string]float64 {
	if s.marketCaps == nil {
		return nil
	}
	caps, err := s.marketCaps.GetMarketCapWeights(ctx, assets)
	if err != nil {
		s.log.Warn().Err(err).Msg("Market caps unavailable, using equal weights")
		return nil
	}
	return caps
}

func (s *OptimizerService) archive(ctx context.Context, method Method, runID string, result interface{}) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.Archive(ctx, method, runID, result); err != nil {
		s.log.Warn().Err(err).Str("run_id", runID).Str("method", string(method)).Msg("Failed to archive result")
	}
}

func (s *OptimizerService) fail(method Method, assets []string, err error) error {
	event := s.log.Error()
	if IsInputError(err) {
		event = s.log.Debug()
	}
	event.Err(err).Str("method", string(method)).Int("assets", len(assets)).Msg("Optimization failed")
	return err
}

// estimateKey length-prefixes every asset so that no two universes share a key.
func estimateKey(assets []string, version int64, start, end time.Time, opts EstimatorOptions) string {
	var universe strings.Builder
	for _, a := range assets {
		fmt.Fprintf(&universe, "%d:%s;", len(a), a)
	}
	return fmt.Sprintf("estimates:%s:v%d:%s:%s:%s:%g",
		universe.String(),
		version,
		start.Format("2006-01-02"),
		end.Format("2006-01-02"),
		opts.Shrinkage,
		opts.PeriodsPerYear,
	)
}
