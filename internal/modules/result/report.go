package result

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/quantfolio/riskengine/internal/domain"
)

// RenderReport renders the human-readable report. It reads only from the
// result's payload: every number printed here is the same number the machine
// payload exposes, formatted at full precision so the two renderings never
// diverge.
func (r *RiskResult) RenderReport() string {
	return renderPayloadReport(r.payload)
}

func renderPayloadReport(p Payload) string {
	var b strings.Builder

	fmt.Fprintf(&b, "PORTFOLIO RISK ANALYSIS %s\n", p.ID)
	fmt.Fprintf(&b, "generated: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	if p.Decomposition.NumericallyAdjusted {
		b.WriteString("note: covariance matrix was numerically adjusted (negative eigenvalues clipped)\n")
	}

	b.WriteString("\n== Positions ==\n")
	for _, pos := range p.Positions {
		fmt.Fprintf(&b, "  %-8s weight=%s contribution=%s\n",
			pos.Ticker, num(pos.Weight), num(p.Decomposition.RiskContributions[pos.Ticker]))
	}

	b.WriteString("\n== Risk Decomposition ==\n")
	fmt.Fprintf(&b, "  annual_volatility=%s\n", num(p.Decomposition.AnnualVolatility))
	fmt.Fprintf(&b, "  annual_variance=%s\n", num(p.Decomposition.AnnualVariance))
	fmt.Fprintf(&b, "  monthly_variance=%s\n", num(p.Decomposition.MonthlyVariance))
	fmt.Fprintf(&b, "  herfindahl=%s\n", num(p.Decomposition.Herfindahl))
	fmt.Fprintf(&b, "  max_position_weight=%s\n", num(p.Decomposition.MaxPositionWeight))
	fmt.Fprintf(&b, "  max_correlation=%s\n", metric(p.Decomposition.MaxCorrelation))
	fmt.Fprintf(&b, "  observations=%d\n", p.Decomposition.Observations)

	b.WriteString("\n== Factor Betas ==\n")
	for _, factor := range domain.AllFactors() {
		beta, ok := p.Decomposition.FactorBetas[factor]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  %-13s %s\n", factor, metric(beta))
	}

	if len(p.Decomposition.IndustryGroups) > 0 {
		b.WriteString("\n== Industry Groups ==\n")
		for _, name := range sortedKeys(p.Decomposition.IndustryGroups) {
			g := p.Decomposition.IndustryGroups[name]
			fmt.Fprintf(&b, "  %-16s weight=%s beta=%s variance_share=%s\n",
				name, num(g.Weight), metric(g.Beta), num(g.VarianceShare))
		}
	}

	b.WriteString("\n== Risk Score ==\n")
	fmt.Fprintf(&b, "  composite=%s\n", metric(p.Score.Composite))
	fmt.Fprintf(&b, "  volatility=%s concentration=%s factor_exposure=%s correlation=%s\n",
		metric(p.Score.Components.Volatility),
		metric(p.Score.Components.Concentration),
		metric(p.Score.Components.FactorExposure),
		metric(p.Score.Components.Correlation))

	b.WriteString("\n== Compliance ==\n")
	if p.LimitsSuggested {
		b.WriteString("  (limits suggested from measured values)\n")
	}
	for _, c := range p.Compliance {
		status := "PASS"
		if !c.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  [%s] %-28s measured=%s threshold=%s margin=%s\n",
			status, c.Name, num(c.Measured), num(c.Threshold), num(c.Margin))
	}

	return b.String()
}

// num formats a float at full round-trip precision so report values parse
// back bit-identical to the payload values.
func num(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// metric formats an optional metric; "n/a" when not applicable.
func metric(m domain.Metric) string {
	if !m.Valid {
		return "n/a"
	}
	return num(m.Value)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
