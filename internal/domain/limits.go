package domain

import "fmt"

// LimitMetric names the measured quantity a risk limit constrains.
type LimitMetric string

// The measurable dimensions limits may reference.
const (
	LimitVolatility     LimitMetric = "volatility"      // annualized portfolio volatility
	LimitPositionWeight LimitMetric = "position_weight" // largest absolute single-position weight
	LimitConcentration  LimitMetric = "concentration"   // Herfindahl index over weights
	LimitFactorBeta     LimitMetric = "factor_beta"     // portfolio beta to a named factor
	LimitIndustryShare  LimitMetric = "industry_share"  // aggregate weight of a named industry group
	LimitCorrelation    LimitMetric = "correlation"     // max absolute pairwise correlation
)

// Direction is the comparison direction of a limit.
type Direction string

const (
	AtMost  Direction = "at_most"  // measured <= threshold passes
	AtLeast Direction = "at_least" // measured >= threshold passes
)

// RiskLimit is one named threshold on a risk metric. Factor is set only for
// factor_beta limits, Industry only for industry_share limits.
type RiskLimit struct {
	Name      string      `json:"name"`
	Metric    LimitMetric `json:"metric"`
	Factor    FactorName  `json:"factor,omitempty"`
	Industry  string      `json:"industry,omitempty"`
	Threshold float64     `json:"threshold"`
	Direction Direction   `json:"direction"`
}

// Validate checks the limit definition.
func (l RiskLimit) Validate() error {
	if l.Name == "" {
		return &InputValidationError{Reason: "risk limit has empty name"}
	}
	switch l.Metric {
	case LimitVolatility, LimitPositionWeight, LimitConcentration, LimitCorrelation:
	case LimitFactorBeta:
		if l.Factor == "" {
			return &InputValidationError{Reason: fmt.Sprintf("limit %q: factor_beta limit requires a factor", l.Name)}
		}
	case LimitIndustryShare:
		if l.Industry == "" {
			return &InputValidationError{Reason: fmt.Sprintf("limit %q: industry_share limit requires an industry", l.Name)}
		}
	default:
		return &InputValidationError{Reason: fmt.Sprintf("limit %q: unknown metric %q", l.Name, l.Metric)}
	}
	switch l.Direction {
	case AtMost, AtLeast:
	default:
		return &InputValidationError{Reason: fmt.Sprintf("limit %q: unknown direction %q", l.Name, l.Direction)}
	}
	return nil
}

// RiskLimitSet is an ordered collection of limits. Order is preserved so
// compliance output rows match configuration order.
type RiskLimitSet struct {
	Limits []RiskLimit `json:"limits"`
}

// Validate checks every limit and name uniqueness.
func (s RiskLimitSet) Validate() error {
	seen := make(map[string]bool, len(s.Limits))
	for _, l := range s.Limits {
		if err := l.Validate(); err != nil {
			return err
		}
		if seen[l.Name] {
			return &InputValidationError{Reason: fmt.Sprintf("duplicate limit name %q", l.Name)}
		}
		seen[l.Name] = true
	}
	return nil
}

// Empty reports whether the set carries no limits.
func (s RiskLimitSet) Empty() bool { return len(s.Limits) == 0 }
