package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/quantfolio/pkg/formulas"
)

// RiskParityOptions bounds the coordinate-descent loop.
type RiskParityOptions struct {
	Tolerance     float64 `json:"tolerance"`
	MaxIterations int     `json:"max_iterations"`
}

func DefaultRiskParityOptions() RiskParityOptions {
	return RiskParityOptions{Tolerance: 1e-6, MaxIterations: 1000}
}

func (o RiskParityOptions) Validate() error {
	if o.Tolerance <= 0 || math.IsNaN(o.Tolerance) {
		return fmt.Errorf("%w: tolerance must be positive", ErrInvalidOptions)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("%w: negative iteration cap", ErrInvalidOptions)
	}
	return nil
}

// RiskParitySolver equalizes per-asset risk contributions.
type RiskParitySolver struct{}

// NewRiskParitySolver creates a new risk parity solver.
func NewRiskParitySolver() *RiskParitySolver {
	return &RiskParitySolver{}
}

// Solve runs coordinate-descent sweeps from equal weights until the risk contributions of
// the assets not held at a bound differ by less than the tolerance, or until a binding
// bound leaves the weights unchanged between sweeps. When bounds bind, contributions are
// equal only among the unbound assets. Errors are returned only for malformed input;
// numerical trouble ends the loop with Converged=false.
func (s *RiskParitySolver) Solve(est Estimates, constraints Constraints, opts RiskParityOptions) (*RiskParityPortfolio, error) {
	if err := ValidateEstimates(est); err != nil {
		return nil, err
	}
	if err := constraints.Validate(); err != nil {
		return nil, err
	}
	if !constraints.Feasible(est.Assets) {
		return nil, ErrInfeasibleConstraints
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	assets := est.Assets
	cov := est.Covariance
	n := len(assets)
	fit := newBudgetFitter(constraints, assets)

	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	w, pinned := fit.apply(w)

	converged := false
	iterations := 0
	for {
		rc, _, ok := riskContributions(cov, w)
		if !ok {
			break
		}
		if freeSpread(rc, pinned) < opts.Tolerance {
			converged = true
			break
		}
		if iterations >= opts.MaxIterations {
			break
		}
		step, ok := riskParityStep(cov, w, pinned)
		if !ok {
			break
		}
		next, nextPinned := fit.apply(step)
		iterations++

		moved := maxAbsDiff(next, w)
		w, pinned = next, nextPinned
		if anyTrue(pinned) && moved < opts.Tolerance {
			converged = true
			break
		}
	}

	rc, sigma, _ := riskContributions(cov, w)
	contributions := make(map[string]float64, n)
	for i, a := range assets {
		if rc != nil {
			contributions[a] = rc[i]
		} else {
			contributions[a] = 0
		}
	}
	ret, _ := portfolioStats(w, est.ReturnsVector(), cov)

	return &RiskParityPortfolio{
		Timestamp:         time.Now(),
		Weights:           weightsFromVector(assets, w),
		RiskContributions: contributions,
		TotalRisk:         sigma,
		ExpectedReturn:    ret,
		Converged:         converged,
		Iterations:        iterations,
	}, nil
}

// riskContributions returns RC_i = w_i·(Σw)_i / sqrt(wᵗΣw) and the portfolio volatility.
// ok is false when the portfolio variance is not strictly positive.
func riskContributions(cov [][]float64, w []float64) (rc []float64, sigma float64, ok bool) {
	marginal := formulas.MatVec(cov, w)
	variance := formulas.Dot(w, marginal)
	if !(variance > 0) || !formulas.IsFinite(variance) {
		return nil, 0, false
	}
	sigma = math.Sqrt(variance)
	rc = make([]float64, len(w))
	for i := range w {
		rc[i] = w[i] * marginal[i] / sigma
	}
	return rc, sigma, true
}

// riskParityStep runs one cyclical coordinate-descent sweep over the unpinned assets.
// Each weight becomes the positive root of w_i·(Σ_ii·w_i + c_i) = b, where
// c_i = Σ_{j≠i} Σ_ij·w_j uses the weights updated earlier in the sweep and b is the
// current average budget w_i·(Σw)_i of the unpinned assets. The root is positive whatever
// the sign of c_i. The result is not normalized. ok is false when an unpinned asset has
// no variance or the budget is not positive.
func riskParityStep(cov [][]float64, w []float64, pinned []bool) ([]float64, bool) {
	n := len(w)
	next := append([]float64(nil), w...)
	marginal := formulas.MatVec(cov, w)

	b, free := 0.0, 0
	for i := range w {
		if !pinned[i] {
			b += w[i] * marginal[i]
			free++
		}
	}
	if free == 0 {
		return next, true
	}
	b /= float64(free)
	if !(b > 0) {
		// Unpinned assets hedge the pinned ones; fall back to the portfolio average.
		b = formulas.Dot(w, marginal) / float64(n)
	}
	if !(b > 0) || !formulas.IsFinite(b) {
		return nil, false
	}

	for i := 0; i < n; i++ {
		if pinned[i] {
			continue
		}
		a := cov[i][i]
		if !(a > 0) {
			return nil, false
		}
		c := 0.0
		for j := 0; j < n; j++ {
			if j != i {
				c += cov[i][j] * next[j]
			}
		}
		next[i] = (-c + math.Sqrt(c*c+4*a*b)) / (2 * a)
		if !formulas.IsFinite(next[i]) {
			return nil, false
		}
	}
	return next, true
}

// budgetFitter maps raw risk parity weights onto the constraint set.
type budgetFitter struct {
	bounded       bool
	fullyInvested bool
	lo, hi        []float64
}

func newBudgetFitter(c Constraints, assets AssetUniverse) budgetFitter {
	lo, hi := c.vectors(assets)
	return budgetFitter{
		bounded:       !c.Trivial(assets),
		fullyInvested: c.FullyInvested,
		lo:            lo,
		hi:            hi,
	}
}

// apply scales w to unit sum and reports which weights sit on a bound. Under a budget,
// weights that cross a bound are clipped to it and the rest are rescaled to fill what is
// left, which keeps the ratios between unbound weights.
func (f budgetFitter) apply(w []float64) ([]float64, []bool) {
	n := len(w)
	pinned := make([]bool, n)
	total := 0.0
	for _, v := range w {
		total += v
	}
	out := make([]float64, n)
	for i, v := range w {
		out[i] = v / total
	}
	if !f.bounded {
		return out, pinned
	}
	if !f.fullyInvested {
		out = clipToBounds(out, f.lo, f.hi)
	} else {
		out = fillBudget(out, f.lo, f.hi)
	}
	for i := range out {
		pinned[i] = math.Abs(out[i]-f.hi[i]) < boundTol || math.Abs(out[i]-f.lo[i]) < boundTol
	}
	return out, pinned
}

const boundTol = 1e-12

// fillBudget clips crossing weights and rescales the others to sum to one. It falls back
// to the Euclidean projection when clipping runs out of free weights.
func fillBudget(w, lo, hi []float64) []float64 {
	n := len(w)
	out := make([]float64, n)
	fixed := make([]bool, n)
	for round := 0; round <= n; round++ {
		budget, freeSum := 1.0, 0.0
		for i := range w {
			if fixed[i] {
				budget -= out[i]
			} else {
				freeSum += w[i]
			}
		}
		if !(freeSum > 0) || budget < 0 {
			return projectOntoFeasible(w, lo, hi)
		}

		scale := budget / freeSum
		crossed := false
		for i := range w {
			if fixed[i] {
				continue
			}
			out[i] = w[i] * scale
			switch {
			case out[i] > hi[i]:
				out[i], fixed[i], crossed = hi[i], true, true
			case out[i] < lo[i]:
				out[i], fixed[i], crossed = lo[i], true, true
			}
		}
		if !crossed {
			return out
		}
	}
	return projectOntoFeasible(w, lo, hi)
}

// freeSpread is the spread of the contributions of unpinned assets, 0 when all are pinned.
func freeSpread(rc []float64, pinned []bool) float64 {
	free := make([]float64, 0, len(rc))
	for i, v := range rc {
		if !pinned[i] {
			free = append(free, v)
		}
	}
	if len(free) == 0 {
		return 0
	}
	return spread(free)
}

func spread(values []float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return hi - lo
}

func maxAbsDiff(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}

func anyTrue(flags []bool) bool {
	for _, f := range flags {
		if f {
			return true
		}
	}
	return false
}
