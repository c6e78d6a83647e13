// Package scenario validates and applies hypothetical weight deltas and
// drives the baseline/scenario comparison. Baseline and scenario analyses go
// through the exact same pipeline function so differences reflect only the
// delta, never implementation drift.
package scenario

import (
	"fmt"
	"math"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/result"
)

// Default validation thresholds.
const (
	// DefaultDustThreshold is the smallest surviving absolute weight a delta
	// may leave behind without removing the position outright.
	DefaultDustThreshold = 0.005

	// DefaultLeverageCap bounds gross exposure (sum of absolute weights)
	// after renormalization. 1.0 means no leverage.
	DefaultLeverageCap = 1.0

	// zeroTol treats weights within this distance of zero as exact removal.
	zeroTol = 1e-12
)

// Delta is a sparse mapping of ticker to weight change.
type Delta map[string]float64

// Options tunes delta validation.
type Options struct {
	DustThreshold float64
	LeverageCap   float64
	AllowLeverage bool
}

func (o Options) withDefaults() Options {
	if o.DustThreshold <= 0 {
		o.DustThreshold = DefaultDustThreshold
	}
	if o.LeverageCap <= 0 {
		o.LeverageCap = DefaultLeverageCap
	}
	return o
}

// Apply validates the delta against the baseline positions and returns the
// renormalized scenario position set. A delta that exactly reduces a
// position to zero removes it; one that would push a non-short-eligible
// position negative, strand a position below the dust threshold, or exceed
// the leverage cap is rejected with a ScenarioValidationError naming the
// violated rule.
func Apply(positions []domain.Position, delta Delta, opts Options) ([]domain.Position, error) {
	opts = opts.withDefaults()

	known := make(map[string]bool, len(positions))
	for _, p := range positions {
		known[p.Ticker] = true
	}
	for ticker := range delta {
		if !known[ticker] {
			return nil, &domain.ScenarioValidationError{
				Rule:   "unknown_ticker",
				Ticker: ticker,
				Detail: "delta references a ticker not present in the baseline portfolio",
			}
		}
	}

	scenario := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		_, touched := delta[p.Ticker]
		w := p.Weight + delta[p.Ticker]
		switch {
		case math.Abs(w) <= zeroTol:
			// Exact reduction to zero removes the position.
			continue
		case w < 0 && !p.AllowShort:
			return nil, &domain.ScenarioValidationError{
				Rule:   "short_not_allowed",
				Ticker: p.Ticker,
				Detail: fmt.Sprintf("delta would push weight to %.6f without short allowance", w),
			}
		// Only positions the delta moves are held to the dust threshold; a
		// baseline may legitimately carry sub-dust residuals.
		case touched && math.Abs(w) < opts.DustThreshold:
			return nil, &domain.ScenarioValidationError{
				Rule:   "dust_threshold",
				Ticker: p.Ticker,
				Detail: fmt.Sprintf("surviving weight %.6f is below dust threshold %.6f; remove the position instead", w, opts.DustThreshold),
			}
		}
		p.Weight = w
		scenario = append(scenario, p)
	}

	if len(scenario) == 0 {
		return nil, &domain.ScenarioValidationError{
			Rule:   "empty_portfolio",
			Detail: "delta removes every position",
		}
	}

	net := 0.0
	for _, p := range scenario {
		net += p.Weight
	}
	if net <= 0 {
		return nil, &domain.ScenarioValidationError{
			Rule:   "non_positive_net_weight",
			Detail: fmt.Sprintf("net weight after delta is %.6f", net),
		}
	}

	// Re-normalize total weight to 1.0. Skipped when already exact so a
	// zero delta reproduces the baseline bit for bit.
	if math.Abs(net-1.0) > zeroTol {
		for i := range scenario {
			scenario[i].Weight /= net
		}
	}

	if !opts.AllowLeverage {
		gross := 0.0
		for _, p := range scenario {
			gross += math.Abs(p.Weight)
		}
		if gross > opts.LeverageCap+1e-9 {
			return nil, &domain.ScenarioValidationError{
				Rule:   "leverage_cap",
				Detail: fmt.Sprintf("gross exposure %.6f exceeds cap %.6f", gross, opts.LeverageCap),
			}
		}
	}

	return scenario, nil
}

// State tracks the differencer's progress. The machine is strictly
// BaselineComputed then ScenarioComputed; ScenarioComputed is terminal.
type State int

const (
	StateInitial State = iota
	StateBaselineComputed
	StateScenarioComputed
)

// Pipeline runs one full analysis over a position set. Baseline and
// scenario use the same Pipeline value.
type Pipeline func(positions []domain.Position) (*result.RiskResult, error)

// Differ runs a baseline analysis, applies a delta, runs the identical
// pipeline on the scenario, and pairs the two results.
type Differ struct {
	run      Pipeline
	opts     Options
	state    State
	baseline *result.RiskResult
	scenario *result.RiskResult
}

// NewDiffer creates a scenario differencer around a pipeline.
func NewDiffer(run Pipeline, opts Options) *Differ {
	return &Differ{run: run, opts: opts.withDefaults()}
}

// State returns the differencer's current state.
func (d *Differ) State() State { return d.state }

// Run executes the full baseline/scenario comparison. An invalid delta or a
// failed analysis on either side returns an error with no partial result.
func (d *Differ) Run(positions []domain.Position, delta Delta) (*result.WhatIfResult, error) {
	if d.state != StateInitial {
		return nil, fmt.Errorf("differ already ran (state %d)", d.state)
	}

	// Validate the delta before any computation is spent.
	scenarioPositions, err := Apply(positions, delta, d.opts)
	if err != nil {
		return nil, err
	}

	baseline, err := d.run(positions)
	if err != nil {
		return nil, fmt.Errorf("baseline analysis failed: %w", err)
	}
	d.baseline = baseline
	d.state = StateBaselineComputed

	scenario, err := d.run(scenarioPositions)
	if err != nil {
		return nil, fmt.Errorf("scenario analysis failed: %w", err)
	}
	d.scenario = scenario
	d.state = StateScenarioComputed

	return result.BuildWhatIf(d.baseline, d.scenario), nil
}
