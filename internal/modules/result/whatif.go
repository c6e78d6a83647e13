package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantfolio/riskengine/internal/domain"
)

// Deltas are scenario-minus-baseline differences for every paired numeric
// field. A field missing on either side yields a null delta, never a silent
// zero.
type Deltas struct {
	AnnualVolatility  domain.Metric                       `json:"annual_volatility" msgpack:"annual_volatility"`
	Herfindahl        domain.Metric                       `json:"herfindahl" msgpack:"herfindahl"`
	MaxPositionWeight domain.Metric                       `json:"max_position_weight" msgpack:"max_position_weight"`
	MaxCorrelation    domain.Metric                       `json:"max_correlation" msgpack:"max_correlation"`
	CompositeScore    domain.Metric                       `json:"composite_score" msgpack:"composite_score"`
	FactorBetas       map[domain.FactorName]domain.Metric `json:"factor_betas" msgpack:"factor_betas"`
}

// WhatIfPayload is the machine rendering of a what-if comparison. Baseline
// and scenario carry complete, fully paired analyses.
type WhatIfPayload struct {
	ID        string    `json:"id" msgpack:"id"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at"`
	Baseline  Payload   `json:"baseline" msgpack:"baseline"`
	Scenario  Payload   `json:"scenario" msgpack:"scenario"`
	Deltas    Deltas    `json:"deltas" msgpack:"deltas"`
}

// WhatIfResult is the canonical immutable what-if result.
type WhatIfResult struct {
	payload WhatIfPayload
}

// BuildWhatIf pairs a baseline and a scenario result. Both sides must come
// from the same pipeline; deltas are computed field by field from their
// payloads so the comparison can never drift from what each side reports.
func BuildWhatIf(baseline, scenario *RiskResult) *WhatIfResult {
	bp := baseline.Payload()
	sp := scenario.Payload()

	factorDeltas := make(map[domain.FactorName]domain.Metric, len(bp.Decomposition.FactorBetas))
	for _, factor := range domain.AllFactors() {
		b, bok := bp.Decomposition.FactorBetas[factor]
		s, sok := sp.Decomposition.FactorBetas[factor]
		if !bok && !sok {
			continue
		}
		if !bok {
			b = domain.None()
		}
		if !sok {
			s = domain.None()
		}
		factorDeltas[factor] = s.Sub(b)
	}

	payload := WhatIfPayload{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Baseline:  bp,
		Scenario:  sp,
		Deltas: Deltas{
			AnnualVolatility:  domain.Some(sp.Decomposition.AnnualVolatility).Sub(domain.Some(bp.Decomposition.AnnualVolatility)),
			Herfindahl:        domain.Some(sp.Decomposition.Herfindahl).Sub(domain.Some(bp.Decomposition.Herfindahl)),
			MaxPositionWeight: domain.Some(sp.Decomposition.MaxPositionWeight).Sub(domain.Some(bp.Decomposition.MaxPositionWeight)),
			MaxCorrelation:    sp.Decomposition.MaxCorrelation.Sub(bp.Decomposition.MaxCorrelation),
			CompositeScore:    sp.Score.Composite.Sub(bp.Score.Composite),
			FactorBetas:       factorDeltas,
		},
	}
	return &WhatIfResult{payload: payload}
}

// ID returns the comparison identifier.
func (r *WhatIfResult) ID() string { return r.payload.ID }

// Payload returns a deep copy of the machine payload.
func (r *WhatIfResult) Payload() WhatIfPayload {
	out := r.payload
	out.Baseline = r.payload.Baseline.clone()
	out.Scenario = r.payload.Scenario.clone()
	out.Deltas.FactorBetas = copyMetricMap(r.payload.Deltas.FactorBetas)
	return out
}

// EncodeArtifact returns the compact binary artifact of the comparison.
func (r *WhatIfResult) EncodeArtifact() ([]byte, error) {
	return msgpack.Marshal(r.payload)
}

// RenderReport renders the before/after comparison. Only payload fields are
// read; the baseline and scenario sections reuse the standard report
// renderer.
func (r *WhatIfResult) RenderReport() string {
	var b strings.Builder
	p := r.payload

	fmt.Fprintf(&b, "WHAT-IF ANALYSIS %s\n", p.ID)
	fmt.Fprintf(&b, "generated: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05 UTC"))

	b.WriteString("\n== Deltas (scenario - baseline) ==\n")
	fmt.Fprintf(&b, "  annual_volatility=%s\n", metric(p.Deltas.AnnualVolatility))
	fmt.Fprintf(&b, "  herfindahl=%s\n", metric(p.Deltas.Herfindahl))
	fmt.Fprintf(&b, "  max_position_weight=%s\n", metric(p.Deltas.MaxPositionWeight))
	fmt.Fprintf(&b, "  max_correlation=%s\n", metric(p.Deltas.MaxCorrelation))
	fmt.Fprintf(&b, "  composite_score=%s\n", metric(p.Deltas.CompositeScore))
	for _, factor := range domain.AllFactors() {
		if d, ok := p.Deltas.FactorBetas[factor]; ok {
			fmt.Fprintf(&b, "  beta_%s=%s\n", factor, metric(d))
		}
	}

	b.WriteString("\n---- BASELINE ----\n")
	b.WriteString(renderPayloadReport(p.Baseline))
	b.WriteString("\n---- SCENARIO ----\n")
	b.WriteString(renderPayloadReport(p.Scenario))

	return b.String()
}
