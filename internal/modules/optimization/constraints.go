// Package optimization turns return and covariance estimates into portfolio weights
// using Black-Litterman, Risk Parity, Hierarchical Risk Parity and Minimum Variance.
package optimization

import (
	"fmt"
	"math"
)

// Bounds is a per-asset weight range.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Constraints are the weight constraints shared by all methods.
type Constraints struct {
	MinWeight     float64 `json:"min_weight"`
	MaxWeight     float64 `json:"max_weight"`
	FullyInvested bool    `json:"fully_invested"`
	LongOnly      bool    `json:"long_only"`
	// AssetBounds overrides MinWeight/MaxWeight for individual assets.
	AssetBounds map[string]Bounds `json:"asset_bounds,omitempty"`
}

// DefaultConstraints returns {min 0, max 1, fully invested, long only}.
func DefaultConstraints() Constraints {
	return Constraints{
		MinWeight:     0,
		MaxWeight:     1,
		FullyInvested: true,
		LongOnly:      true,
	}
}

// Validate checks that the bounds are coherent on their own.
func (c Constraints) Validate() error {
	check := func(name string, b Bounds) error {
		if math.IsNaN(b.Min) || math.IsNaN(b.Max) {
			return fmt.Errorf("%w: %s bounds are NaN", ErrInvalidConstraints, name)
		}
		if b.Min > b.Max {
			return fmt.Errorf("%w: %s has lower bound %.4f > upper bound %.4f", ErrInvalidConstraints, name, b.Min, b.Max)
		}
		if c.LongOnly && b.Min < 0 {
			return fmt.Errorf("%w: %s has negative lower bound %.4f under long-only", ErrInvalidConstraints, name, b.Min)
		}
		if c.LongOnly && b.Max < 0 {
			return fmt.Errorf("%w: %s has negative upper bound %.4f under long-only", ErrInvalidConstraints, name, b.Max)
		}
		return nil
	}

	if err := check("default", Bounds{Min: c.MinWeight, Max: c.MaxWeight}); err != nil {
		return err
	}
	for asset, b := range c.AssetBounds {
		if err := check(asset, b); err != nil {
			return err
		}
	}
	return nil
}

// BoundsFor returns the effective bounds of one asset.
func (c Constraints) BoundsFor(asset string) Bounds {
	b := Bounds{Min: c.MinWeight, Max: c.MaxWeight}
	if override, ok := c.AssetBounds[asset]; ok {
		b = override
	}
	if c.LongOnly {
		b.Min = math.Max(b.Min, 0)
	}
	return b
}

// vectors returns lower and upper bounds in universe order.
func (c Constraints) vectors(assets AssetUniverse) (lo, hi []float64) {
	lo = make([]float64, len(assets))
	hi = make([]float64, len(assets))
	for i, a := range assets {
		b := c.BoundsFor(a)
		lo[i] = b.Min
		hi[i] = b.Max
	}
	return lo, hi
}

// Feasible reports whether the bounds admit a portfolio for the given universe.
func (c Constraints) Feasible(assets AssetUniverse) bool {
	lo, hi := c.vectors(assets)
	if !c.FullyInvested {
		return true
	}
	sumLo, sumHi := 0.0, 0.0
	for i := range lo {
		sumLo += lo[i]
		sumHi += hi[i]
	}
	return sumLo <= 1+feasibilityTol && sumHi >= 1-feasibilityTol
}

// Trivial reports whether the bounds never bind a simplex portfolio.
func (c Constraints) Trivial(assets AssetUniverse) bool {
	lo, hi := c.vectors(assets)
	for i := range lo {
		if lo[i] > 0 || hi[i] < 1 {
			return false
		}
	}
	return true
}

const feasibilityTol = 1e-9

// projectOntoFeasible returns the Euclidean projection of v onto
// {lo <= w <= hi, Σw = 1}. The caller must have checked feasibility.
func projectOntoFeasible(v, lo, hi []float64) []float64 {
	n := len(v)
	out := make([]float64, n)

	sumAt := func(tau float64) float64 {
		total := 0.0
		for i := range v {
			total += math.Max(lo[i], math.Min(hi[i], v[i]+tau))
		}
		return total
	}

	low, high := math.Inf(1), math.Inf(-1)
	for i := range v {
		low = math.Min(low, lo[i]-v[i])
		high = math.Max(high, hi[i]-v[i])
	}
	low--
	high++

	for iter := 0; iter < 200 && high-low > 1e-15; iter++ {
		mid := 0.5 * (low + high)
		if sumAt(mid) < 1 {
			low = mid
		} else {
			high = mid
		}
	}

	tau := 0.5 * (low + high)
	for i := range v {
		out[i] = math.Max(lo[i], math.Min(hi[i], v[i]+tau))
	}
	return out
}

// clipToBounds projects v onto the box only.
func clipToBounds(v, lo, hi []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = math.Max(lo[i], math.Min(hi[i], v[i]))
	}
	return out
}

// applyConstraints maps relative HRP allocations onto the constraint set.
// Allocations already inside the set are returned unchanged.
func (c Constraints) applyConstraints(assets AssetUniverse, w []float64) []float64 {
	if c.Trivial(assets) {
		return w
	}
	lo, hi := c.vectors(assets)
	if !c.FullyInvested {
		return clipToBounds(w, lo, hi)
	}
	return projectOntoFeasible(w, lo, hi)
}
