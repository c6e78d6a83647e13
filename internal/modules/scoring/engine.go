// Package scoring maps a variance decomposition onto bounded risk scores and
// derives suggested risk limits.
package scoring

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/decomposition"
)

// Component weights of the composite score. These are fixed, documented
// constants rather than runtime configuration so score semantics stay stable
// over time. They must sum to 1.0.
const (
	WeightVolatility     = 0.35 // annualized volatility
	WeightConcentration  = 0.25 // Herfindahl concentration
	WeightFactorExposure = 0.20 // largest absolute portfolio factor beta
	WeightCorrelation    = 0.20 // largest absolute pairwise correlation
)

// Score band boundaries. Each component maps its measured value linearly
// onto [0,100] between a "safe" floor (score 100) and a "worst" ceiling
// (score 0). Worse risk always means a lower score.
const (
	VolatilitySafe  = 0.10 // 10% annual vol or less scores 100
	VolatilityWorst = 0.50 // 50% annual vol or more scores 0

	ConcentrationSafe  = 0.05 // HHI of a ~20-position equal-weight book
	ConcentrationWorst = 0.40

	FactorExposureSafe  = 0.50 // |portfolio beta|
	FactorExposureWorst = 2.00

	CorrelationSafe  = 0.20 // max |pairwise correlation|
	CorrelationWorst = 0.95
)

// DefaultSuggestedLimitMargin is the headroom applied when deriving
// suggested limits from measured values: threshold = measured * (1+margin).
const DefaultSuggestedLimitMargin = 0.15

// Clamps for suggested limits so proposals stay actionable.
const (
	suggestedVolatilityMin = 0.05
	suggestedVolatilityMax = 1.00
	suggestedWeightMin     = 0.02
	suggestedWeightMax     = 1.00
	suggestedHHIMin        = 0.05
	suggestedHHIMax        = 1.00
	suggestedBetaMin       = 0.10
	suggestedBetaMax       = 3.00
)

// ComponentScores are the named component scores in [0,100]. A component
// whose underlying metric is undefined is invalid ("not applicable").
type ComponentScores struct {
	Volatility     domain.Metric `json:"volatility"`
	Concentration  domain.Metric `json:"concentration"`
	FactorExposure domain.Metric `json:"factor_exposure"`
	Correlation    domain.Metric `json:"correlation"`
}

// RiskScore is the composite score plus its components.
type RiskScore struct {
	Composite  domain.Metric   `json:"composite"`
	Components ComponentScores `json:"components"`
}

// Engine computes risk scores and suggested limits.
type Engine struct {
	margin float64
	log    zerolog.Logger
}

// NewEngine creates a risk score engine. margin <= 0 selects the default
// suggested-limit margin.
func NewEngine(margin float64, log zerolog.Logger) *Engine {
	if margin <= 0 {
		margin = DefaultSuggestedLimitMargin
	}
	return &Engine{
		margin: margin,
		log:    log.With().Str("component", "risk_score").Logger(),
	}
}

// Score maps the decomposition onto component scores and the composite.
// The composite is the fixed weighted combination of the valid components,
// renormalized when some components are not applicable.
func (e *Engine) Score(d *decomposition.Decomposition) RiskScore {
	components := ComponentScores{
		Volatility:     bandScore(domain.Some(d.AnnualVolatility), VolatilitySafe, VolatilityWorst),
		Concentration:  bandScore(domain.Some(d.Herfindahl), ConcentrationSafe, ConcentrationWorst),
		FactorExposure: bandScore(maxFactorExposure(d.FactorBetas), FactorExposureSafe, FactorExposureWorst),
		Correlation:    bandScore(absMetric(d.Correlations.MaxOffDiagonal()), CorrelationSafe, CorrelationWorst),
	}

	type weighted struct {
		score  domain.Metric
		weight float64
	}
	parts := []weighted{
		{components.Volatility, WeightVolatility},
		{components.Concentration, WeightConcentration},
		{components.FactorExposure, WeightFactorExposure},
		{components.Correlation, WeightCorrelation},
	}

	sum, weightSum := 0.0, 0.0
	for _, p := range parts {
		if !p.score.Valid {
			continue
		}
		sum += p.weight * p.score.Value
		weightSum += p.weight
	}

	composite := domain.None()
	if weightSum > 0 {
		composite = domain.Some(sum / weightSum)
	}

	return RiskScore{Composite: composite, Components: components}
}

// SuggestLimits derives a limit set slightly above the portfolio's measured
// values: threshold = measured * (1 + margin), clamped to sane bounds. Used
// when the caller supplies no explicit limit set so the compliance checker
// always has actionable thresholds.
func (e *Engine) SuggestLimits(d *decomposition.Decomposition) domain.RiskLimitSet {
	pad := func(v, lo, hi float64) float64 {
		return math.Min(hi, math.Max(lo, v*(1+e.margin)))
	}

	limits := []domain.RiskLimit{
		{
			Name:      "max_volatility",
			Metric:    domain.LimitVolatility,
			Threshold: pad(d.AnnualVolatility, suggestedVolatilityMin, suggestedVolatilityMax),
			Direction: domain.AtMost,
		},
		{
			Name:      "max_position_weight",
			Metric:    domain.LimitPositionWeight,
			Threshold: pad(d.MaxPositionWeight, suggestedWeightMin, suggestedWeightMax),
			Direction: domain.AtMost,
		},
		{
			Name:      "max_concentration",
			Metric:    domain.LimitConcentration,
			Threshold: pad(d.Herfindahl, suggestedHHIMin, suggestedHHIMax),
			Direction: domain.AtMost,
		},
	}

	for _, factor := range domain.AllFactors() {
		beta, ok := d.FactorBetas[factor]
		if !ok || !beta.Valid {
			continue
		}
		limits = append(limits, domain.RiskLimit{
			Name:      fmt.Sprintf("max_%s_beta", factor),
			Metric:    domain.LimitFactorBeta,
			Factor:    factor,
			Threshold: pad(math.Abs(beta.Value), suggestedBetaMin, suggestedBetaMax),
			Direction: domain.AtMost,
		})
	}

	if maxCorr := d.Correlations.MaxOffDiagonal(); maxCorr.Valid {
		limits = append(limits, domain.RiskLimit{
			Name:      "max_pairwise_correlation",
			Metric:    domain.LimitCorrelation,
			Threshold: math.Min(1.0, math.Abs(maxCorr.Value)*(1+e.margin)),
			Direction: domain.AtMost,
		})
	}

	e.log.Debug().Int("limits", len(limits)).Msg("Derived suggested risk limits")
	return domain.RiskLimitSet{Limits: limits}
}

// bandScore maps a measured value linearly onto [0,100]: values at or below
// safe score 100, values at or above worst score 0. The map is piecewise
// monotonic: worse risk always lowers the score.
func bandScore(measured domain.Metric, safe, worst float64) domain.Metric {
	if !measured.Valid {
		return domain.None()
	}
	v := measured.Value
	switch {
	case v <= safe:
		return domain.Some(100)
	case v >= worst:
		return domain.Some(0)
	default:
		return domain.Some(100 * (worst - v) / (worst - safe))
	}
}

// maxFactorExposure returns the largest absolute valid portfolio beta, or an
// invalid metric when no factor beta is estimable.
func maxFactorExposure(betas map[domain.FactorName]domain.Metric) domain.Metric {
	maxAbs := 0.0
	found := false
	for _, beta := range betas {
		if !beta.Valid {
			continue
		}
		found = true
		if math.Abs(beta.Value) > maxAbs {
			maxAbs = math.Abs(beta.Value)
		}
	}
	if !found {
		return domain.None()
	}
	return domain.Some(maxAbs)
}

func absMetric(m domain.Metric) domain.Metric {
	if !m.Valid {
		return m
	}
	return domain.Some(math.Abs(m.Value))
}
