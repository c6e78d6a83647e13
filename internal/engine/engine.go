// Package engine wires the pipeline components into the three public entry
// points: Analyze, WhatIf and Optimize. Every call is a self-contained,
// side-effect-free computation over immutable inputs; concurrent analyses
// share nothing and need no locking.
package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/betas"
	"github.com/quantfolio/riskengine/internal/modules/compliance"
	"github.com/quantfolio/riskengine/internal/modules/decomposition"
	"github.com/quantfolio/riskengine/internal/modules/optimization"
	"github.com/quantfolio/riskengine/internal/modules/result"
	"github.com/quantfolio/riskengine/internal/modules/scenario"
	"github.com/quantfolio/riskengine/internal/modules/scoring"
)

// weightSumTolerance is how closely input portfolio weights must sum to 1.
const weightSumTolerance = 1e-6

// Config carries the engine's tunables. Zero values select documented
// defaults.
type Config struct {
	MinObservations      int
	PSDClipTolerance     float64
	SuggestedLimitMargin float64
	DustThreshold        float64
	LeverageCap          float64
	MaxParallel          int

	OptimizerMaxIterations int
	OptimizerMaxRuntime    time.Duration
	OptimizerTolerance     float64
}

// Engine is the factor-risk decomposition and optimization engine.
type Engine struct {
	cfg        Config
	estimator  *betas.Estimator
	decomposer *decomposition.Decomposer
	scorer     *scoring.Engine
	solver     *optimization.Solver
	log        zerolog.Logger
}

// New creates an engine.
func New(cfg Config, log zerolog.Logger) *Engine {
	log = log.With().Str("component", "engine").Logger()
	return &Engine{
		cfg: cfg,
		estimator: betas.NewEstimator(betas.Options{
			MinObservations: cfg.MinObservations,
			MaxParallel:     cfg.MaxParallel,
		}, log),
		decomposer: decomposition.NewDecomposer(decomposition.Options{
			MinObservations:  cfg.MinObservations,
			PSDClipTolerance: cfg.PSDClipTolerance,
		}, log),
		scorer: scoring.NewEngine(cfg.SuggestedLimitMargin, log),
		solver: optimization.NewSolver(optimization.Options{
			MaxIterations: cfg.OptimizerMaxIterations,
			MaxRuntime:    cfg.OptimizerMaxRuntime,
			Tolerance:     cfg.OptimizerTolerance,
		}, log),
		log: log,
	}
}

// AnalysisRequest carries the immutable inputs of one analysis. Series must
// cover every position ticker and every factor proxy.
type AnalysisRequest struct {
	Positions []domain.Position              `json:"positions"`
	Series    map[string]domain.ReturnSeries `json:"series"`
	// Limits is optional; when empty, suggested limits derived from the
	// measured values are checked instead.
	Limits domain.RiskLimitSet `json:"limits"`
	// AllowLeverage permits weights that do not sum to 1.
	AllowLeverage bool `json:"allow_leverage,omitempty"`
}

// validate runs the fail-fast input checks shared by all entry points.
func (e *Engine) validate(req AnalysisRequest) error {
	if err := domain.ValidatePositions(req.Positions); err != nil {
		return err
	}
	if len(req.Positions) == 0 {
		return &domain.InputValidationError{Reason: "no positions provided"}
	}
	for _, s := range req.Series {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	if err := req.Limits.Validate(); err != nil {
		return err
	}
	if !req.AllowLeverage {
		sum := 0.0
		for _, p := range req.Positions {
			sum += p.Weight
		}
		if math.Abs(sum-1.0) > weightSumTolerance {
			return &domain.InputValidationError{
				Reason: fmt.Sprintf("position weights sum to %.8f, expected 1.0", sum),
			}
		}
	}
	return nil
}

// Analyze runs the full pipeline: beta estimation, variance decomposition,
// risk scoring and compliance checking, and returns the canonical result.
func (e *Engine) Analyze(ctx context.Context, req AnalysisRequest) (*result.RiskResult, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	return e.analyze(ctx, req.Positions, req)
}

// analyze is the single pipeline implementation shared by every entry point.
// Baseline, scenario and optimizer audits all go through this code path.
func (e *Engine) analyze(
	ctx context.Context,
	positions []domain.Position,
	req AnalysisRequest,
) (*result.RiskResult, error) {
	vectors, err := e.estimator.Estimate(ctx, positions, req.Series)
	if err != nil {
		return nil, err
	}

	decomp, err := e.decomposer.Decompose(positions, vectors, req.Series)
	if err != nil {
		return nil, err
	}

	score := e.scorer.Score(decomp)

	limits := req.Limits
	suggested := false
	if limits.Empty() {
		limits = e.scorer.SuggestLimits(decomp)
		suggested = true
	}
	checks := compliance.Check(decomp, limits)

	return result.Build(result.BuildInputs{
		Positions:       positions,
		Decomposition:   decomp,
		Score:           score,
		Compliance:      checks,
		Limits:          limits,
		LimitsSuggested: suggested,
	}), nil
}

// WhatIfRequest is an analysis request plus a hypothetical weight delta.
type WhatIfRequest struct {
	AnalysisRequest
	Delta scenario.Delta `json:"delta"`
}

// WhatIf applies the delta to the baseline portfolio and compares the two
// analyses. Baseline and scenario run through the identical pipeline; an
// invalid delta returns a ScenarioValidationError and no partial result.
func (e *Engine) WhatIf(ctx context.Context, req WhatIfRequest) (*result.WhatIfResult, error) {
	if err := e.validate(req.AnalysisRequest); err != nil {
		return nil, err
	}

	differ := scenario.NewDiffer(func(positions []domain.Position) (*result.RiskResult, error) {
		return e.analyze(ctx, positions, req.AnalysisRequest)
	}, scenario.Options{
		DustThreshold: e.cfg.DustThreshold,
		LeverageCap:   e.cfg.LeverageCap,
		AllowLeverage: req.AllowLeverage,
	})

	return differ.Run(req.Positions, req.Delta)
}

// OptimizeRequest specifies a constrained allocation problem over the same
// factor model used for analysis.
type OptimizeRequest struct {
	Positions []domain.Position              `json:"positions"`
	Series    map[string]domain.ReturnSeries `json:"series"`
	Limits    domain.RiskLimitSet            `json:"limits"`
	Objective optimization.Objective         `json:"objective"`
	// ExpectedReturns are required for the maximize_expected_return
	// objective, one entry per position ticker.
	ExpectedReturns map[string]float64 `json:"expected_returns,omitempty"`
	Bounds          optimization.Bounds `json:"bounds,omitempty"`
	WeightSum       float64             `json:"weight_sum,omitempty"`
}

// Optimize solves the allocation problem. Infeasibility and solver cutoffs
// are terminal statuses on the returned result, not errors. When the solver
// converges, the solved weights are audited through the same decomposition
// and compliance code used by Analyze.
func (e *Engine) Optimize(ctx context.Context, req OptimizeRequest) (*result.OptimizationResult, error) {
	if err := domain.ValidatePositions(req.Positions); err != nil {
		return nil, err
	}
	if len(req.Positions) == 0 {
		return nil, &domain.InputValidationError{Reason: "no positions provided"}
	}
	if err := req.Limits.Validate(); err != nil {
		return nil, err
	}
	for _, s := range req.Series {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	vectors, err := e.estimator.Estimate(ctx, req.Positions, req.Series)
	if err != nil {
		return nil, err
	}

	tickers := make([]string, len(req.Positions))
	groups := make(map[string]string, len(req.Positions))
	for i, p := range req.Positions {
		tickers[i] = p.Ticker
		groups[p.Ticker] = p.Proxies.Group()
	}

	cov, _, err := e.decomposer.BuildCovariance(tickers, req.Series)
	if err != nil {
		return nil, err
	}

	solution, err := e.solver.Solve(ctx, optimization.Problem{
		Tickers:         tickers,
		Cov:             cov,
		ExpectedReturns: req.ExpectedReturns,
		BetaVectors:     vectors,
		IndustryGroups:  groups,
		Limits:          req.Limits,
		Objective:       req.Objective,
		WeightSum:       req.WeightSum,
		Bounds:          req.Bounds,
	})
	if err != nil {
		return nil, err
	}

	// Re-audit converged solutions through the shared pipeline so the
	// reported constraint outcome uses the exact compliance semantics.
	if solution.Status == result.StatusConverged && !req.Limits.Empty() {
		if satisfied, violated, auditErr := e.auditSolvedWeights(ctx, req, solution.Weights); auditErr == nil {
			solution.Satisfied = satisfied
			solution.Violated = violated
			if len(violated) > 0 {
				solution.Status = result.StatusInfeasible
			}
		} else {
			e.log.Warn().Err(auditErr).Msg("Post-solve compliance audit failed; keeping solver audit")
		}
	}

	return result.BuildOptimization(result.OptimizationInputs{
		Objective:        string(req.Objective),
		Status:           solution.Status,
		ObjectiveValue:   solution.ObjectiveValue,
		AnnualVolatility: solution.AnnualVolatility,
		ExpectedReturn:   solution.ExpectedReturn,
		Weights:          solution.Weights,
		Satisfied:        solution.Satisfied,
		Violated:         solution.Violated,
		Iterations:       solution.Iterations,
		Runtime:          solution.Runtime,
		RelaxedTolerance: solution.RelaxedTolerance,
	}), nil
}

// auditSolvedWeights re-runs decomposition and compliance over the solved
// weight vector. Positions with near-zero solved weight are dropped.
func (e *Engine) auditSolvedWeights(
	ctx context.Context,
	req OptimizeRequest,
	weights map[string]float64,
) (satisfied, violated []string, err error) {
	candidate := make([]domain.Position, 0, len(req.Positions))
	for _, p := range req.Positions {
		w := weights[p.Ticker]
		if math.Abs(w) < 1e-9 {
			continue
		}
		p.Weight = w
		candidate = append(candidate, p)
	}
	if len(candidate) == 0 {
		return nil, nil, fmt.Errorf("solved weights are all zero")
	}

	vectors, err := e.estimator.Estimate(ctx, candidate, req.Series)
	if err != nil {
		return nil, nil, err
	}
	decomp, err := e.decomposer.Decompose(candidate, vectors, req.Series)
	if err != nil {
		return nil, nil, err
	}
	for _, check := range compliance.Check(decomp, req.Limits) {
		if check.Pass {
			satisfied = append(satisfied, check.Name)
		} else {
			violated = append(violated, check.Name)
		}
	}
	return satisfied, violated, nil
}
