// Package result defines the canonical result objects of the engine. Every
// analysis produces exactly one immutable result through a single builder;
// the human report renderer and the machine payload renderer read only from
// that object's fields and can never diverge in the numbers they expose.
package result

import (
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantfolio/riskengine/internal/domain"
	"github.com/quantfolio/riskengine/internal/modules/compliance"
	"github.com/quantfolio/riskengine/internal/modules/decomposition"
	"github.com/quantfolio/riskengine/internal/modules/scoring"
)

// PositionWeight is a portfolio line in the payload.
type PositionWeight struct {
	Ticker string  `json:"ticker" msgpack:"ticker"`
	Weight float64 `json:"weight" msgpack:"weight"`
}

// DecompositionPayload is the serializable shape of a variance
// decomposition.
type DecompositionPayload struct {
	MonthlyVariance     float64                               `json:"monthly_variance" msgpack:"monthly_variance"`
	AnnualVariance      float64                               `json:"annual_variance" msgpack:"annual_variance"`
	AnnualVolatility    float64                               `json:"annual_volatility" msgpack:"annual_volatility"`
	RiskContributions   map[string]float64                    `json:"risk_contributions" msgpack:"risk_contributions"`
	FactorBetas         map[domain.FactorName]domain.Metric   `json:"factor_betas" msgpack:"factor_betas"`
	IndustryGroups      map[string]decomposition.IndustryExposure `json:"industry_groups" msgpack:"industry_groups"`
	Herfindahl          float64                               `json:"herfindahl" msgpack:"herfindahl"`
	MaxPositionWeight   float64                               `json:"max_position_weight" msgpack:"max_position_weight"`
	MaxCorrelation      domain.Metric                         `json:"max_correlation" msgpack:"max_correlation"`
	NumericallyAdjusted bool                                  `json:"numerically_adjusted" msgpack:"numerically_adjusted"`
	Observations        int                                   `json:"observations" msgpack:"observations"`
}

// Payload is the machine-readable rendering of a RiskResult. It carries
// every number the result exposes; persistence collaborators serialize it
// verbatim.
type Payload struct {
	ID              string               `json:"id" msgpack:"id"`
	CreatedAt       time.Time            `json:"created_at" msgpack:"created_at"`
	Positions       []PositionWeight     `json:"positions" msgpack:"positions"`
	Decomposition   DecompositionPayload `json:"decomposition" msgpack:"decomposition"`
	Score           scoring.RiskScore    `json:"score" msgpack:"score"`
	Compliance      []compliance.Result  `json:"compliance" msgpack:"compliance"`
	Limits          domain.RiskLimitSet  `json:"limits" msgpack:"limits"`
	LimitsSuggested bool                 `json:"limits_suggested" msgpack:"limits_suggested"`
}

// RiskResult is the canonical immutable result of one analysis. Construct it
// only via Build; renderers read from the internal payload and never
// recompute upstream data.
type RiskResult struct {
	payload Payload
}

// BuildInputs are the pipeline outputs Build assembles into a result.
type BuildInputs struct {
	Positions       []domain.Position
	Decomposition   *decomposition.Decomposition
	Score           scoring.RiskScore
	Compliance      []compliance.Result
	Limits          domain.RiskLimitSet
	LimitsSuggested bool
}

// Build is the single construction path for a RiskResult.
func Build(in BuildInputs) *RiskResult {
	positions := make([]PositionWeight, len(in.Positions))
	for i, p := range in.Positions {
		positions[i] = PositionWeight{Ticker: p.Ticker, Weight: p.Weight}
	}

	d := in.Decomposition
	payload := Payload{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Positions: positions,
		Decomposition: DecompositionPayload{
			MonthlyVariance:     d.MonthlyVariance,
			AnnualVariance:      d.AnnualVariance,
			AnnualVolatility:    d.AnnualVolatility,
			RiskContributions:   copyFloatMap(d.RiskContributions),
			FactorBetas:         copyMetricMap(d.FactorBetas),
			IndustryGroups:      copyIndustryMap(d.IndustryGroups),
			Herfindahl:          d.Herfindahl,
			MaxPositionWeight:   d.MaxPositionWeight,
			MaxCorrelation:      d.Correlations.MaxOffDiagonal(),
			NumericallyAdjusted: d.NumericallyAdjusted,
			Observations:        d.Observations,
		},
		Score:           in.Score,
		Compliance:      append([]compliance.Result(nil), in.Compliance...),
		Limits:          domain.RiskLimitSet{Limits: append([]domain.RiskLimit(nil), in.Limits.Limits...)},
		LimitsSuggested: in.LimitsSuggested,
	}
	return &RiskResult{payload: payload}
}

// ID returns the analysis identifier.
func (r *RiskResult) ID() string { return r.payload.ID }

// Payload returns a deep copy of the machine payload so callers cannot
// mutate the result.
func (r *RiskResult) Payload() Payload {
	return r.payload.clone()
}

// EncodeArtifact returns the compact binary artifact of the result, suitable
// for verbatim storage by a persistence collaborator.
func (r *RiskResult) EncodeArtifact() ([]byte, error) {
	return msgpack.Marshal(r.payload)
}

// DecodeArtifact decodes a payload previously produced by EncodeArtifact.
func DecodeArtifact(data []byte) (Payload, error) {
	var p Payload
	err := msgpack.Unmarshal(data, &p)
	return p, err
}

func (p Payload) clone() Payload {
	out := p
	out.Positions = append([]PositionWeight(nil), p.Positions...)
	out.Decomposition.RiskContributions = copyFloatMap(p.Decomposition.RiskContributions)
	out.Decomposition.FactorBetas = copyMetricMap(p.Decomposition.FactorBetas)
	out.Decomposition.IndustryGroups = copyIndustryMap(p.Decomposition.IndustryGroups)
	out.Compliance = append([]compliance.Result(nil), p.Compliance...)
	out.Limits = domain.RiskLimitSet{Limits: append([]domain.RiskLimit(nil), p.Limits.Limits...)}
	return out
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyMetricMap(m map[domain.FactorName]domain.Metric) map[domain.FactorName]domain.Metric {
	out := make(map[domain.FactorName]domain.Metric, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyIndustryMap(m map[string]decomposition.IndustryExposure) map[string]decomposition.IndustryExposure {
	out := make(map[string]decomposition.IndustryExposure, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
