package optimization

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/result"
	"github.com/quantfolio/riskengine/pkg/formulas"
)

func covFrom(values []float64, n int) *mat.SymDense {
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, values[i*n+j])
		}
	}
	return cov
}

func TestSolve_MinVariance_UncorrelatedEqualVol(t *testing.T) {
	// Two uncorrelated assets with equal variance: the minimum-variance
	// portfolio is the equal-weight one.
	cov := covFrom([]float64{
		0.0016, 0.0,
		0.0, 0.0016,
	}, 2)

	s := NewSolver(Options{}, zerolog.Nop())
	sol, err := s.Solve(context.Background(), Problem{
		Tickers:   []string{"A", "B"},
		Cov:       cov,
		Objective: MinimizeVariance,
	})
	require.NoError(t, err)
	require.Equal(t, result.StatusConverged, sol.Status)

	assert.InDelta(t, 0.5, sol.Weights["A"], 0.02)
	assert.InDelta(t, 0.5, sol.Weights["B"], 0.02)

	sum := sol.Weights["A"] + sol.Weights["B"]
	assert.InDelta(t, 1.0, sum, 1e-9, "weights are normalized to the target sum")

	require.True(t, sol.AnnualVolatility.Valid)
	// At equal weights the portfolio variance is half an asset's variance.
	assert.InDelta(t, formulas.AnnualizedVolatility(0.0008), sol.AnnualVolatility.Value, 0.01)
}

func TestSolve_MinVariance_PerfectlyCorrelatedEqualVol(t *testing.T) {
	// Perfect correlation with equal variance: every full-investment mix has
	// the same variance, the asset variance itself.
	assetVar := 0.0016
	cov := covFrom([]float64{
		assetVar, assetVar,
		assetVar, assetVar,
	}, 2)

	s := NewSolver(Options{}, zerolog.Nop())
	sol, err := s.Solve(context.Background(), Problem{
		Tickers:   []string{"A", "B"},
		Cov:       cov,
		Objective: MinimizeVariance,
	})
	require.NoError(t, err)
	require.Equal(t, result.StatusConverged, sol.Status)

	require.True(t, sol.AnnualVolatility.Valid)
	assert.InDelta(t, formulas.AnnualizedVolatility(assetVar), sol.AnnualVolatility.Value, 1e-6,
		"no diversification is possible between perfectly correlated equal-vol assets")
}

func TestSolve_MaxReturn_PrefersHigherMu(t *testing.T) {
	cov := covFrom([]float64{
		0.0016, 0.0,
		0.0, 0.0016,
	}, 2)

	s := NewSolver(Options{}, zerolog.Nop())
	sol, err := s.Solve(context.Background(), Problem{
		Tickers:         []string{"A", "B"},
		Cov:             cov,
		Objective:       MaximizeExpectedReturn,
		ExpectedReturns: map[string]float64{"A": 0.12, "B": 0.04},
	})
	require.NoError(t, err)
	require.Equal(t, result.StatusConverged, sol.Status)

	assert.Greater(t, sol.Weights["A"], 0.9, "everything goes to the higher-return asset")
	require.True(t, sol.ExpectedReturn.Valid)
	assert.InDelta(t, 0.12, sol.ExpectedReturn.Value, 0.01)
}

func TestSolve_MaxReturn_MissingMuIsError(t *testing.T) {
	cov := covFrom([]float64{0.0016, 0, 0, 0.0016}, 2)

	s := NewSolver(Options{}, zerolog.Nop())
	_, err := s.Solve(context.Background(), Problem{
		Tickers:         []string{"A", "B"},
		Cov:             cov,
		Objective:       MaximizeExpectedReturn,
		ExpectedReturns: map[string]float64{"A": 0.12},
	})

	var inputErr *domain.InputValidationError
	require.ErrorAs(t, err, &inputErr)
	assert.Equal(t, "B", inputErr.Ticker)
}

func TestSolve_StructurallyInfeasibleBounds(t *testing.T) {
	cov := covFrom([]float64{0.0016, 0, 0, 0.0016}, 2)

	s := NewSolver(Options{}, zerolog.Nop())
	sol, err := s.Solve(context.Background(), Problem{
		Tickers:   []string{"A", "B"},
		Cov:       cov,
		Objective: MinimizeVariance,
		Bounds: Bounds{
			Upper: map[string]float64{"A": 0.3, "B": 0.3},
		},
	})
	require.NoError(t, err, "infeasibility is a status, not an error")
	assert.Equal(t, result.StatusInfeasible, sol.Status)
	assert.NotEmpty(t, sol.Violated)
}

func TestSolve_RespectsBounds(t *testing.T) {
	// Asset A has much lower variance; unconstrained min-variance would
	// overweight it, but its upper bound caps it.
	cov := covFrom([]float64{
		0.0001, 0.0,
		0.0, 0.0100,
	}, 2)

	s := NewSolver(Options{}, zerolog.Nop())
	sol, err := s.Solve(context.Background(), Problem{
		Tickers:   []string{"A", "B"},
		Cov:       cov,
		Objective: MinimizeVariance,
		Bounds: Bounds{
			Upper: map[string]float64{"A": 0.6},
		},
	})
	require.NoError(t, err)
	require.Equal(t, result.StatusConverged, sol.Status)

	// Normalization to the weight target can move a clamped coordinate by the
	// residual sum error, so allow small slack on the bound.
	assert.LessOrEqual(t, sol.Weights["A"], 0.6+1e-3)
	assert.InDelta(t, 1.0, sol.Weights["A"]+sol.Weights["B"], 1e-9)
}

func TestSolve_VolatilityLimitAudited(t *testing.T) {
	// Both assets are too volatile for the cap: the solved portfolio cannot
	// satisfy the limit and the run terminates infeasible.
	cov := covFrom([]float64{
		0.01, 0.009,
		0.009, 0.01,
	}, 2)

	limits := domain.RiskLimitSet{Limits: []domain.RiskLimit{{
		Name:      "max_volatility",
		Metric:    domain.LimitVolatility,
		Threshold: 0.05, // ~5% annual vol, unreachable
		Direction: domain.AtMost,
	}}}

	s := NewSolver(Options{}, zerolog.Nop())
	sol, err := s.Solve(context.Background(), Problem{
		Tickers:   []string{"A", "B"},
		Cov:       cov,
		Objective: MinimizeVariance,
		Limits:    limits,
	})
	require.NoError(t, err)
	assert.Equal(t, result.StatusInfeasible, sol.Status)
	assert.Contains(t, sol.Violated, "max_volatility")
}

func TestSolve_CutoffIsTimeoutStatus(t *testing.T) {
	cov := covFrom([]float64{0.0016, 0, 0, 0.0016}, 2)

	// One major iteration can never satisfy the function converger, so both
	// attempts hit the cutoff.
	s := NewSolver(Options{MaxIterations: 1, MaxRuntime: time.Nanosecond}, zerolog.Nop())
	sol, err := s.Solve(context.Background(), Problem{
		Tickers:   []string{"A", "B"},
		Cov:       cov,
		Objective: MinimizeVariance,
	})
	require.NoError(t, err, "hitting the cutoff is a terminal status, not an error")
	assert.Equal(t, result.StatusTimeout, sol.Status)
	assert.Empty(t, sol.Weights, "no partial weights are reported on timeout")
	assert.True(t, sol.RelaxedTolerance, "the relaxed retry ran before giving up")
}

func TestSolve_EmptyProblem(t *testing.T) {
	s := NewSolver(Options{}, zerolog.Nop())
	_, err := s.Solve(context.Background(), Problem{Objective: MinimizeVariance})

	var inputErr *domain.InputValidationError
	require.ErrorAs(t, err, &inputErr)
}

func TestConstraintEval_Violation(t *testing.T) {
	eval := constraintEval{
		name:      "max_weight",
		direction: domain.AtMost,
		threshold: 0.5,
		measure: func(w []float64) float64 {
			m := 0.0
			for _, v := range w {
				m = math.Max(m, math.Abs(v))
			}
			return m
		},
	}

	assert.Equal(t, 0.0, eval.violation([]float64{0.5, 0.5}), "boundary equality is not a violation")
	assert.InDelta(t, 0.2, eval.violation([]float64{0.7, 0.3}), 1e-12)
	assert.True(t, eval.satisfiedWithin([]float64{0.5, 0.5}, feasibilityTolerance))
	assert.False(t, eval.satisfiedWithin([]float64{0.7, 0.3}, feasibilityTolerance))

	atLeast := constraintEval{
		name:      "min_exposure",
		direction: domain.AtLeast,
		threshold: 0.2,
		measure:   func(w []float64) float64 { return w[0] },
	}
	assert.InDelta(t, 0.1, atLeast.violation([]float64{0.1}), 1e-12)
	assert.Equal(t, 0.0, atLeast.violation([]float64{0.3}))
}

func TestMaxAbsCorrelation(t *testing.T) {
	cov := covFrom([]float64{
		0.04, -0.012,
		-0.012, 0.01,
	}, 2)

	// corr = -0.012 / sqrt(0.04*0.01) = -0.6
	assert.InDelta(t, 0.6, maxAbsCorrelation(cov), 1e-12)
}
