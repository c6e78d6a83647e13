package optimization

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/result"
	"github.com/quantfolio/riskengine/pkg/formulas"
)

// Objective selects the optimization problem.
type Objective string

const (
	MinimizeVariance       Objective = "minimize_variance"
	MaximizeExpectedReturn Objective = "maximize_expected_return"
)

// Default solver settings.
const (
	DefaultMaxIterations = 2000
	DefaultMaxRuntime    = 10 * time.Second
	DefaultTolerance     = 1e-9
	penaltyWeight        = 1000.0

	// relaxFactor loosens the convergence tolerance on the single retry
	// after a non-converged first attempt.
	relaxFactor = 100.0
)

// Problem is a fully specified allocation problem. Cov must be the same
// covariance matrix the decomposer produces for these tickers; limits are
// hard constraints expressed on that same decomposition.
type Problem struct {
	Tickers         []string
	Cov             *mat.SymDense
	ExpectedReturns map[string]float64 // required for MaximizeExpectedReturn
	BetaVectors     map[string]domain.FactorBetaVector
	IndustryGroups  map[string]string // ticker -> industry group
	Limits          domain.RiskLimitSet
	Objective       Objective
	WeightSum       float64 // target for sum of weights; defaults to 1.0
	Bounds          Bounds
}

// Options tunes solver cutoffs.
type Options struct {
	MaxIterations int
	MaxRuntime    time.Duration
	Tolerance     float64
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.MaxRuntime <= 0 {
		o.MaxRuntime = DefaultMaxRuntime
	}
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	return o
}

// Solution is the solver output consumed by the result builder. Infeasible
// and timeout are statuses, never errors.
type Solution struct {
	Status           result.OptimizationStatus
	Weights          map[string]float64
	ObjectiveValue   domain.Metric
	AnnualVolatility domain.Metric
	ExpectedReturn   domain.Metric
	Satisfied        []string
	Violated         []string
	Iterations       int
	Runtime          time.Duration
	RelaxedTolerance bool
}

// Solver solves constrained minimum-variance and maximum-return allocation
// problems with a penalty method over a smooth unconstrained core
// (Nelder-Mead first, BFGS fallback).
type Solver struct {
	opts Options
	log  zerolog.Logger
}

// NewSolver creates an optimizer.
func NewSolver(opts Options, log zerolog.Logger) *Solver {
	return &Solver{
		opts: opts.withDefaults(),
		log:  log.With().Str("component", "optimizer").Logger(),
	}
}

// Solve runs the optimization. Errors are reserved for malformed problems;
// infeasibility and solver cutoffs come back as terminal statuses on the
// Solution.
func (s *Solver) Solve(ctx context.Context, p Problem) (Solution, error) {
	start := time.Now()

	n := len(p.Tickers)
	if n == 0 {
		return Solution{}, &domain.InputValidationError{Reason: "no tickers provided"}
	}
	if p.Cov == nil || p.Cov.SymmetricDim() != n {
		return Solution{}, &domain.InputValidationError{Reason: "covariance matrix does not match ticker count"}
	}
	weightSum := p.WeightSum
	if weightSum == 0 {
		weightSum = 1.0
	}

	var mu []float64
	switch p.Objective {
	case MinimizeVariance:
	case MaximizeExpectedReturn:
		mu = make([]float64, n)
		for i, t := range p.Tickers {
			ret, ok := p.ExpectedReturns[t]
			if !ok {
				return Solution{}, &domain.InputValidationError{
					Ticker: t,
					Reason: "missing expected return for maximize_expected_return objective",
				}
			}
			mu[i] = ret
		}
	default:
		return Solution{}, &domain.InputValidationError{
			Reason: fmt.Sprintf("unknown objective %q", p.Objective),
		}
	}

	evals, err := buildConstraintEvals(p)
	if err != nil {
		return Solution{}, err
	}

	// Structural infeasibility: bounds that cannot reach the weight target.
	lowerSum, upperSum := 0.0, 0.0
	for _, t := range p.Tickers {
		lo, hi := p.Bounds.lowerFor(t), p.Bounds.upperFor(t)
		if lo > hi {
			return s.infeasible(p, nil, evals, start,
				fmt.Sprintf("bounds for %s", t)), nil
		}
		lowerSum += lo
		upperSum += hi
	}
	if lowerSum > weightSum+1e-9 || upperSum < weightSum-1e-9 {
		return s.infeasible(p, nil, evals, start, "weight_bounds"), nil
	}

	objective := func(x []float64) float64 {
		w := s.projectToBounds(x, p)

		var obj float64
		switch p.Objective {
		case MinimizeVariance:
			obj = formulas.AnnualizeVariance(quadraticForm(p.Cov, w))
		case MaximizeExpectedReturn:
			ret := 0.0
			for i := range w {
				ret += mu[i] * w[i]
			}
			obj = -ret
		}

		sum := 0.0
		for _, v := range w {
			sum += v
		}
		obj += penaltyWeight * (sum - weightSum) * (sum - weightSum)

		for _, c := range evals {
			if v := c.violation(w); v > 0 {
				obj += penaltyWeight * v * v
			}
		}
		return obj
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = weightSum / float64(n)
	}

	res, relaxed, solveErr := s.minimize(ctx, objective, initial)
	iterations := 0
	if res != nil {
		iterations = res.Stats.MajorIterations
	}
	if solveErr != nil || res == nil || !converged(res.Status) {
		status := result.StatusTimeout
		s.log.Warn().
			Err(solveErr).
			Bool("relaxed", relaxed).
			Msg("Optimization did not converge within cutoffs")
		return Solution{
			Status:           status,
			Iterations:       iterations,
			Runtime:          time.Since(start),
			RelaxedTolerance: relaxed,
		}, nil
	}

	// Project the final point to bounds and normalize to the weight target,
	// the same post-processing applied inside the objective.
	w := s.projectToBounds(res.X, p)
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum != 0 && math.Abs(sum-weightSum) > 1e-12 {
		for i := range w {
			w[i] *= weightSum / sum
		}
	}

	solution := s.buildSolution(p, w, mu, evals, weightSum)
	solution.Iterations = iterations
	solution.Runtime = time.Since(start)
	solution.RelaxedTolerance = relaxed

	s.log.Info().
		Str("objective", string(p.Objective)).
		Str("status", string(solution.Status)).
		Int("iterations", iterations).
		Msg("Optimization finished")

	return solution, nil
}

// minimize runs Nelder-Mead with a BFGS fallback, then retries once with a
// relaxed tolerance before giving up.
func (s *Solver) minimize(
	ctx context.Context,
	fn func([]float64) float64,
	initial []float64,
) (*optimize.Result, bool, error) {
	run := func(tol float64) (*optimize.Result, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		problem := optimize.Problem{Func: fn}
		settings := &optimize.Settings{
			MajorIterations: s.opts.MaxIterations,
			Runtime:         s.opts.MaxRuntime,
			Converger: &optimize.FunctionConverge{
				Absolute:   tol,
				Iterations: 100,
			},
		}
		res, err := optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err == nil && converged(res.Status) {
			return res, nil
		}
		// Gradient-based fallback; gonum differentiates Func numerically.
		res2, err2 := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
		if err2 == nil && converged(res2.Status) {
			return res2, nil
		}
		if res != nil {
			return res, err
		}
		return res2, err2
	}

	res, err := run(s.opts.Tolerance)
	if err == nil && res != nil && converged(res.Status) {
		return res, false, nil
	}
	res, err = run(s.opts.Tolerance * relaxFactor)
	return res, true, err
}

// converged reports whether a gonum status counts as success.
func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold, optimize.StepConvergence:
		return true
	default:
		return false
	}
}

// projectToBounds clamps each coordinate to its per-position bounds.
func (s *Solver) projectToBounds(x []float64, p Problem) []float64 {
	out := make([]float64, len(x))
	for i, t := range p.Tickers {
		out[i] = math.Max(p.Bounds.lowerFor(t), math.Min(p.Bounds.upperFor(t), x[i]))
	}
	return out
}

// buildSolution audits the solved weights against every constraint and
// assembles the terminal solution.
func (s *Solver) buildSolution(
	p Problem,
	w []float64,
	mu []float64,
	evals []constraintEval,
	weightSum float64,
) Solution {
	weights := make(map[string]float64, len(w))
	for i, t := range p.Tickers {
		weights[t] = w[i]
	}

	annualVariance := formulas.AnnualizeVariance(quadraticForm(p.Cov, w))
	annualVol := formulas.AnnualizedVolatility(quadraticForm(p.Cov, w))

	expectedReturn := domain.None()
	objectiveValue := domain.Some(annualVariance)
	if p.Objective == MaximizeExpectedReturn {
		ret := 0.0
		for i := range w {
			ret += mu[i] * w[i]
		}
		expectedReturn = domain.Some(ret)
		objectiveValue = domain.Some(ret)
	}

	var satisfied, violated []string
	for _, c := range evals {
		if c.satisfiedWithin(w, feasibilityTolerance) {
			satisfied = append(satisfied, c.name)
		} else {
			violated = append(violated, c.name)
		}
	}

	status := result.StatusConverged
	if len(violated) > 0 {
		status = result.StatusInfeasible
	}

	return Solution{
		Status:           status,
		Weights:          weights,
		ObjectiveValue:   objectiveValue,
		AnnualVolatility: domain.Some(annualVol),
		ExpectedReturn:   expectedReturn,
		Satisfied:        satisfied,
		Violated:         violated,
	}
}

// infeasible builds a terminal infeasible solution when the problem cannot
// be attempted (e.g. contradictory bounds).
func (s *Solver) infeasible(
	p Problem,
	w []float64,
	evals []constraintEval,
	start time.Time,
	reason string,
) Solution {
	violated := []string{reason}
	var satisfied []string
	if w != nil {
		for _, c := range evals {
			if c.satisfiedWithin(w, feasibilityTolerance) {
				satisfied = append(satisfied, c.name)
			} else {
				violated = append(violated, c.name)
			}
		}
	}
	s.log.Warn().Str("reason", reason).Msg("Optimization problem is structurally infeasible")
	return Solution{
		Status:    result.StatusInfeasible,
		Satisfied: satisfied,
		Violated:  violated,
		Runtime:   time.Since(start),
	}
}
