package optimization

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/aristath/quantfolio/pkg/formulas"
)

// BlackLittermanOptions holds the model parameters for one run.
type BlackLittermanOptions struct {
	// RiskAversion is λ in π = λΣw_mkt and in the mean-variance objective.
	RiskAversion float64 `json:"risk_aversion"`
	// Tau scales the uncertainty of the prior.
	Tau float64 `json:"tau"`
	// Spillover lets views move the returns of correlated assets without a view.
	// When false those assets keep their prior return.
	Spillover bool `json:"spillover"`
}

func DefaultBlackLittermanOptions() BlackLittermanOptions {
	return BlackLittermanOptions{RiskAversion: 2.5, Tau: 0.05}
}

func (o BlackLittermanOptions) Validate() error {
	if !(o.RiskAversion > 0) || math.IsInf(o.RiskAversion, 0) {
		return fmt.Errorf("%w: risk aversion must be positive, got %v", ErrInvalidOptions, o.RiskAversion)
	}
	if !(o.Tau > 0) || math.IsInf(o.Tau, 0) {
		return fmt.Errorf("%w: tau must be positive, got %v", ErrInvalidOptions, o.Tau)
	}
	return nil
}

// BlackLittermanEngine blends the equilibrium prior with absolute views and
// mean-variance optimizes the posterior.
type BlackLittermanEngine struct{}

// NewBlackLittermanEngine creates a new Black-Litterman engine.
func NewBlackLittermanEngine() *BlackLittermanEngine {
	return &BlackLittermanEngine{}
}

// ValidateViews checks every view against the universe. A view needs a finite return and
// a confidence in (0, 1]; a confidence without a view is rejected as well.
func ValidateViews(views Views, assets AssetUniverse) error {
	idx := assets.Index()

	names := make([]string, 0, len(views.Returns))
	for a := range views.Returns {
		names = append(names, a)
	}
	sort.Strings(names)

	for _, a := range names {
		if _, ok := idx[a]; !ok {
			return &InvalidViewError{Asset: a, Reason: "asset is not in the universe"}
		}
		if !formulas.IsFinite(views.Returns[a]) {
			return &InvalidViewError{Asset: a, Reason: "view return is not finite"}
		}
		c, ok := views.Confidence[a]
		if !ok {
			return &InvalidViewError{Asset: a, Reason: "missing confidence"}
		}
		if !(c > 0 && c <= 1) {
			return &InvalidViewError{Asset: a, Reason: fmt.Sprintf("confidence %v outside (0, 1]", c)}
		}
	}

	orphans := make([]string, 0)
	for a := range views.Confidence {
		if _, ok := views.Returns[a]; !ok {
			orphans = append(orphans, a)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return &InvalidViewError{Asset: orphans[0], Reason: "confidence given without a view"}
	}
	return nil
}

// MarketWeights normalizes capitalization weights over the universe. Missing, negative or
// non-finite entries make the caps unusable and the equal-weight portfolio is returned.
func MarketWeights(caps map[string]float64, assets AssetUniverse) ([]float64, bool) {
	n := len(assets)
	w := make([]float64, n)
	total := 0.0
	usable := len(caps) > 0
	for i, a := range assets {
		v, ok := caps[a]
		if !ok || v < 0 || !formulas.IsFinite(v) {
			usable = false
			break
		}
		w[i] = v
		total += v
	}
	if !usable || !(total > 0) {
		for i := range w {
			w[i] = 1.0 / float64(n)
		}
		return w, false
	}
	for i := range w {
		w[i] /= total
	}
	return w, true
}

// Optimize runs the full model. marketCaps may be nil.
func (e *BlackLittermanEngine) Optimize(
	est Estimates,
	marketCaps map[string]float64,
	views Views,
	constraints Constraints,
	opts BlackLittermanOptions,
) (*BlackLittermanModel, error) {
	if err := ValidateEstimates(est); err != nil {
		return nil, err
	}
	if err := constraints.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateViews(views, est.Assets); err != nil {
		return nil, err
	}
	if !constraints.Feasible(est.Assets) {
		return nil, ErrInfeasibleConstraints
	}

	assets := est.Assets
	n := len(assets)
	cov := est.Covariance

	wMkt, _ := MarketWeights(marketCaps, assets)

	prior := formulas.MatVec(cov, wMkt)
	for i := range prior {
		prior[i] *= opts.RiskAversion
	}

	posterior := append([]float64(nil), prior...)
	if len(views.Returns) > 0 {
		var err error
		posterior, err = blendViews(cov, prior, views, assets, opts.Tau, opts.Spillover)
		if err != nil {
			return nil, err
		}
	}

	// maximize μᵗw − (λ/2)wᵗΣw  ≡  minimize ½wᵗ(λΣ)w − μᵗw
	q := make([][]float64, n)
	c := make([]float64, n)
	for i := 0; i < n; i++ {
		q[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			q[i][j] = opts.RiskAversion * cov[i][j]
		}
		c[i] = -posterior[i]
	}
	lo, hi := constraints.vectors(assets)
	result, err := solveQP(qpProblem{
		Q:         q,
		C:         c,
		Lo:        lo,
		Hi:        hi,
		Budget:    constraints.FullyInvested,
		Operation: "black-litterman mean-variance",
	})
	if err != nil {
		return nil, err
	}

	ret, variance := portfolioStats(result.X, posterior, cov)
	vol := math.Sqrt(variance)

	return &BlackLittermanModel{
		Timestamp:          time.Now(),
		PriorReturns:       weightsFromVector(assets, prior),
		PosteriorReturns:   weightsFromVector(assets, posterior),
		MarketWeights:      weightsFromVector(assets, wMkt),
		Weights:            weightsFromVector(assets, result.X),
		ExpectedReturn:     ret,
		ExpectedVolatility: vol,
		SharpeRatio:        formulas.SharpeRatio(ret, vol),
		Success:            result.Converged,
	}, nil
}

// blendViews computes μ = π + τΣPᵗ(PτΣPᵗ + Ω)⁻¹(q − Pπ) for absolute views, with
// Ω_kk = τΣ_kk(1−c_k)/c_k. Views are ordered by universe position.
func blendViews(cov CovarianceMatrix, prior []float64, views Views, assets AssetUniverse, tau float64, spillover bool) ([]float64, error) {
	n := len(assets)
	var picked []int
	for i, a := range assets {
		if _, ok := views.Returns[a]; ok {
			picked = append(picked, i)
		}
	}
	k := len(picked)

	// PτΣPᵗ + Ω is the τ-scaled covariance sub-matrix of the viewed assets plus Ω.
	system := mat.NewDense(k, k, nil)
	gap := mat.NewVecDense(k, nil)
	for r, i := range picked {
		for s, j := range picked {
			system.Set(r, s, tau*cov[i][j])
		}
		conf := views.Confidence[assets[i]]
		system.Set(r, r, system.At(r, r)+tau*cov[i][i]*(1-conf)/conf)
		gap.SetVec(r, views.Returns[assets[i]]-prior[i])
	}

	var x mat.VecDense
	if err := x.SolveVec(system, gap); err != nil {
		return nil, &SingularMatrixError{
			Operation: "black-litterman posterior",
			Detail:    fmt.Sprintf("view system over %d assets: %v", k, err),
		}
	}

	posterior := make([]float64, n)
	for i := 0; i < n; i++ {
		if _, viewed := views.Returns[assets[i]]; !viewed && !spillover {
			posterior[i] = prior[i]
			continue
		}
		adj := 0.0
		for r, j := range picked {
			adj += tau * cov[i][j] * x.AtVec(r)
		}
		posterior[i] = prior[i] + adj
		if !formulas.IsFinite(posterior[i]) {
			return nil, &SingularMatrixError{Operation: "black-litterman posterior", Detail: "non-finite posterior"}
		}
	}
	return posterior, nil
}
