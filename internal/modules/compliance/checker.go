// Package compliance evaluates a variance decomposition against a configured
// risk limit set.
package compliance

import (
	"math"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/decomposition"
)

// Result is the evaluation of one limit. Margin is the distance to the
// threshold in the passing direction: positive margin means headroom,
// negative means breach depth.
type Result struct {
	Name      string             `json:"name"`
	Metric    domain.LimitMetric `json:"metric"`
	Factor    domain.FactorName  `json:"factor,omitempty"`
	Industry  string             `json:"industry,omitempty"`
	Measured  float64            `json:"measured"`
	Threshold float64            `json:"threshold"`
	Direction domain.Direction   `json:"direction"`
	Pass      bool               `json:"pass"`
	Margin    float64            `json:"margin"`
}

// Check evaluates every configured limit against the decomposition. It is a
// pure function: every limit yields exactly one result row, in configuration
// order, and a metric exactly equal to its threshold passes.
//
// Limits referencing a factor or industry with no corresponding exposure in
// the portfolio evaluate the exposure as zero.
func Check(d *decomposition.Decomposition, limits domain.RiskLimitSet) []Result {
	results := make([]Result, 0, len(limits.Limits))
	for _, limit := range limits.Limits {
		measured := measure(d, limit)

		var pass bool
		var margin float64
		switch limit.Direction {
		case domain.AtLeast:
			pass = measured >= limit.Threshold
			margin = measured - limit.Threshold
		default: // AtMost
			pass = measured <= limit.Threshold
			margin = limit.Threshold - measured
		}

		results = append(results, Result{
			Name:      limit.Name,
			Metric:    limit.Metric,
			Factor:    limit.Factor,
			Industry:  limit.Industry,
			Measured:  measured,
			Threshold: limit.Threshold,
			Direction: limit.Direction,
			Pass:      pass,
			Margin:    margin,
		})
	}
	return results
}

// measure extracts the measured value a limit constrains.
func measure(d *decomposition.Decomposition, limit domain.RiskLimit) float64 {
	switch limit.Metric {
	case domain.LimitVolatility:
		return d.AnnualVolatility
	case domain.LimitPositionWeight:
		return d.MaxPositionWeight
	case domain.LimitConcentration:
		return d.Herfindahl
	case domain.LimitFactorBeta:
		// Missing exposure evaluates as zero, not "not applicable".
		return math.Abs(d.FactorBetas[limit.Factor].Or(0))
	case domain.LimitIndustryShare:
		return d.IndustryGroups[limit.Industry].Weight
	case domain.LimitCorrelation:
		return math.Abs(d.Correlations.MaxOffDiagonal().Or(0))
	default:
		return 0
	}
}

// AllPass reports whether every result row passed.
func AllPass(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

// Violations returns the names of failed limits.
func Violations(results []Result) []string {
	var names []string
	for _, r := range results {
		if !r.Pass {
			names = append(names, r.Name)
		}
	}
	return names
}
