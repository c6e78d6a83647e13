// Package optimization solves constrained weight-allocation problems over
// the same factor model and covariance the rest of the engine uses.
package optimization

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/pkg/formulas"
)

// feasibilityTolerance is the relative slack allowed when auditing the
// solved weights against the hard limits.
const feasibilityTolerance = 1e-3

// Bounds are optional per-position weight bounds. Missing entries default to
// [0, 1].
type Bounds struct {
	Lower map[string]float64
	Upper map[string]float64
}

// lowerFor returns the lower bound for a ticker.
func (b Bounds) lowerFor(ticker string) float64 {
	if b.Lower != nil {
		if v, ok := b.Lower[ticker]; ok {
			return v
		}
	}
	return 0.0
}

// upperFor returns the upper bound for a ticker.
func (b Bounds) upperFor(ticker string) float64 {
	if b.Upper != nil {
		if v, ok := b.Upper[ticker]; ok {
			return v
		}
	}
	return 1.0
}

// constraintEval is one risk limit translated into a function of the weight
// vector. The same measure functions back both the penalty terms during the
// solve and the feasibility audit afterwards, so the optimizer never uses a
// risk formula of its own.
type constraintEval struct {
	name      string
	direction domain.Direction
	threshold float64
	measure   func(w []float64) float64
}

// violation returns how far the measured value is on the failing side of the
// threshold (zero when satisfied).
func (c constraintEval) violation(w []float64) float64 {
	measured := c.measure(w)
	switch c.direction {
	case domain.AtLeast:
		if measured < c.threshold {
			return c.threshold - measured
		}
	default: // AtMost
		if measured > c.threshold {
			return measured - c.threshold
		}
	}
	return 0
}

// satisfiedWithin reports whether the constraint holds with relative slack.
func (c constraintEval) satisfiedWithin(w []float64, relTol float64) bool {
	slack := relTol * math.Max(math.Abs(c.threshold), 1e-9)
	return c.violation(w) <= slack
}

// buildConstraintEvals translates a limit set into weight-vector functions.
// Exposures the portfolio does not carry (missing betas, unknown industry
// groups) measure as zero, matching the compliance checker.
func buildConstraintEvals(p Problem) ([]constraintEval, error) {
	n := len(p.Tickers)
	index := make(map[string]int, n)
	for i, t := range p.Tickers {
		index[t] = i
	}

	annualVol := func(w []float64) float64 {
		return formulas.AnnualizedVolatility(quadraticForm(p.Cov, w))
	}

	evals := make([]constraintEval, 0, len(p.Limits.Limits))
	for _, limit := range p.Limits.Limits {
		eval := constraintEval{
			name:      limit.Name,
			direction: limit.Direction,
			threshold: limit.Threshold,
		}
		switch limit.Metric {
		case domain.LimitVolatility:
			eval.measure = annualVol
		case domain.LimitPositionWeight:
			eval.measure = func(w []float64) float64 {
				m := 0.0
				for _, v := range w {
					if math.Abs(v) > m {
						m = math.Abs(v)
					}
				}
				return m
			}
		case domain.LimitConcentration:
			eval.measure = func(w []float64) float64 {
				return formulas.Herfindahl(w)
			}
		case domain.LimitFactorBeta:
			betas := make([]float64, n)
			for i, t := range p.Tickers {
				betas[i] = p.BetaVectors[t].Beta(limit.Factor).Or(0)
			}
			eval.measure = func(w []float64) float64 {
				sum := 0.0
				for i := range w {
					sum += w[i] * betas[i]
				}
				return math.Abs(sum)
			}
		case domain.LimitIndustryShare:
			members := make([]int, 0, n)
			for i, t := range p.Tickers {
				if p.IndustryGroups[t] == limit.Industry {
					members = append(members, i)
				}
			}
			eval.measure = func(w []float64) float64 {
				sum := 0.0
				for _, i := range members {
					sum += w[i]
				}
				return sum
			}
		case domain.LimitCorrelation:
			// Pairwise asset correlations do not depend on weights; the
			// constraint is a constant of the problem.
			maxCorr := maxAbsCorrelation(p.Cov)
			eval.measure = func([]float64) float64 { return maxCorr }
		default:
			return nil, &domain.InputValidationError{
				Reason: fmt.Sprintf("limit %q: unknown metric %q", limit.Name, limit.Metric),
			}
		}
		evals = append(evals, eval)
	}
	return evals, nil
}

// quadraticForm computes w'Σw.
func quadraticForm(cov *mat.SymDense, w []float64) float64 {
	n := len(w)
	sum := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum += w[i] * w[j] * cov.At(i, j)
		}
	}
	return sum
}

// maxAbsCorrelation extracts the largest absolute pairwise correlation
// implied by the covariance matrix.
func maxAbsCorrelation(cov *mat.SymDense) float64 {
	n := cov.SymmetricDim()
	m := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			vi, vj := cov.At(i, i), cov.At(j, j)
			if vi <= 0 || vj <= 0 {
				continue
			}
			c := math.Abs(cov.At(i, j) / math.Sqrt(vi*vj))
			if c > m {
				m = c
			}
		}
	}
	return m
}
