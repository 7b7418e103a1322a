package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// qpProblem is  minimize ½xᵗQx + cᵗx  subject to lo <= x <= hi and, when Budget is set, Σx = 1.
type qpProblem struct {
	Q      [][]float64
	C      []float64
	Lo, Hi []float64
	Budget bool
	// Operation names the caller in SingularMatrixError messages.
	Operation string
}

type qpResult struct {
	X          []float64
	Iterations int
	Feasible   bool
	Converged  bool
}

type boundState int

const (
	stateFree boundState = iota
	stateLower
	stateUpper
	statePinned
)

// solveQP runs a primal active-set method. The working set holds variables sitting on a
// bound; each iteration solves the equality-constrained subproblem over the free variables,
// steps until a bound blocks, and releases the bound with the most negative multiplier once
// the subproblem is stationary. The returned point satisfies the KKT conditions when
// Converged is true.
func solveQP(p qpProblem) (qpResult, error) {
	n := len(p.C)
	if n == 0 {
		return qpResult{}, fmt.Errorf("%w: empty problem", ErrInvalidConstraints)
	}

	if p.Budget {
		sumLo, sumHi := 0.0, 0.0
		for i := 0; i < n; i++ {
			sumLo += p.Lo[i]
			sumHi += p.Hi[i]
		}
		if sumLo > 1+feasibilityTol || sumHi < 1-feasibilityTol {
			return qpResult{Feasible: false}, nil
		}
	}

	start := make([]float64, n)
	for i := range start {
		start[i] = 1.0 / float64(n)
	}
	var x []float64
	if p.Budget {
		x = projectOntoFeasible(start, p.Lo, p.Hi)
	} else {
		x = clipToBounds(start, p.Lo, p.Hi)
	}

	scale := 1.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, math.Abs(p.C[i]))
		for j := 0; j < n; j++ {
			scale = math.Max(scale, math.Abs(p.Q[i][j]))
		}
	}
	const boundTol = 1e-12
	multTol := 1e-10 * scale
	stepTol := 1e-13

	state := make([]boundState, n)
	for i := 0; i < n; i++ {
		switch {
		case p.Hi[i]-p.Lo[i] <= boundTol:
			state[i] = statePinned
			x[i] = p.Lo[i]
		case x[i] <= p.Lo[i]+boundTol:
			state[i] = stateLower
			x[i] = p.Lo[i]
		case x[i] >= p.Hi[i]-boundTol:
			state[i] = stateUpper
			x[i] = p.Hi[i]
		}
	}

	maxIter := 50*n + 100
	for iter := 1; iter <= maxIter; iter++ {
		grad := make([]float64, n)
		for i := 0; i < n; i++ {
			grad[i] = p.C[i]
			for j := 0; j < n; j++ {
				grad[i] += p.Q[i][j] * x[j]
			}
		}

		free := make([]int, 0, n)
		for i := 0; i < n; i++ {
			if state[i] == stateFree {
				free = append(free, i)
			}
		}

		step, nu, err := solveSubproblem(p, free, grad)
		if err != nil {
			return qpResult{}, err
		}

		maxStep := 0.0
		for _, s := range step {
			maxStep = math.Max(maxStep, math.Abs(s))
		}

		if maxStep <= stepTol {
			if len(free) == 0 && p.Budget {
				nu = budgetMultiplier(state, grad)
			}
			release := -1
			worst := -multTol
			for i := 0; i < n; i++ {
				var m float64
				switch state[i] {
				case stateLower:
					m = grad[i] - nu
				case stateUpper:
					m = nu - grad[i]
				default:
					continue
				}
				if m < worst {
					worst = m
					release = i
				}
			}
			if release < 0 {
				return qpResult{X: clipToBounds(x, p.Lo, p.Hi), Iterations: iter, Feasible: true, Converged: true}, nil
			}
			state[release] = stateFree
			continue
		}

		alpha := 1.0
		blocking := -1
		blockingState := stateFree
		for k, i := range free {
			switch {
			case step[k] < 0:
				if a := (p.Lo[i] - x[i]) / step[k]; a < alpha {
					alpha, blocking, blockingState = math.Max(a, 0), i, stateLower
				}
			case step[k] > 0:
				if a := (p.Hi[i] - x[i]) / step[k]; a < alpha {
					alpha, blocking, blockingState = math.Max(a, 0), i, stateUpper
				}
			}
		}
		for k, i := range free {
			x[i] += alpha * step[k]
		}
		if blocking >= 0 {
			state[blocking] = blockingState
			if blockingState == stateLower {
				x[blocking] = p.Lo[blocking]
			} else {
				x[blocking] = p.Hi[blocking]
			}
		}
	}

	return qpResult{X: x, Iterations: maxIter, Feasible: true, Converged: false}, nil
}

// solveSubproblem solves the equality-constrained step over the free set:
//
//	[Q_FF 1][p]   [-g_F]
//	[1ᵗ   0][ν] = [ 0  ]
//
// and returns p and the budget multiplier expressed so that g_i = ν for free i.
func solveSubproblem(p qpProblem, free []int, grad []float64) ([]float64, float64, error) {
	m := len(free)
	if m == 0 {
		return nil, 0, nil
	}

	size := m
	if p.Budget {
		size++
	}

	kkt := mat.NewDense(size, size, nil)
	rhs := mat.NewVecDense(size, nil)
	for a, i := range free {
		for b, j := range free {
			kkt.Set(a, b, p.Q[i][j])
		}
		rhs.SetVec(a, -grad[i])
		if p.Budget {
			kkt.Set(a, m, 1)
			kkt.Set(m, a, 1)
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, rhs); err != nil {
		return nil, 0, &SingularMatrixError{
			Operation: p.Operation,
			Detail:    fmt.Sprintf("KKT system over %d free assets: %v", m, err),
		}
	}

	step := make([]float64, m)
	for a := 0; a < m; a++ {
		step[a] = sol.AtVec(a)
		if math.IsNaN(step[a]) || math.IsInf(step[a], 0) {
			return nil, 0, &SingularMatrixError{Operation: p.Operation, Detail: "non-finite KKT solution"}
		}
	}

	nu := 0.0
	if p.Budget {
		// Stationarity reads Q_FF p + g_F + ν_sol·1 = 0, so g_i = -ν_sol at p = 0.
		nu = -sol.AtVec(m)
	}
	return step, nu, nil
}

// budgetMultiplier picks the budget multiplier when every variable sits on a bound.
// Any value in [max g_upper, min g_lower] certifies optimality; when the interval is
// empty the midpoint still exposes a negative multiplier to release.
func budgetMultiplier(state []boundState, grad []float64) float64 {
	maxUpper, minLower := math.Inf(-1), math.Inf(1)
	for i, s := range state {
		switch s {
		case stateUpper:
			maxUpper = math.Max(maxUpper, grad[i])
		case stateLower:
			minLower = math.Min(minLower, grad[i])
		}
	}
	switch {
	case math.IsInf(maxUpper, -1) && math.IsInf(minLower, 1):
		return 0
	case math.IsInf(maxUpper, -1):
		return minLower
	case math.IsInf(minLower, 1):
		return maxUpper
	}
	return 0.5 * (maxUpper + minLower)
}
