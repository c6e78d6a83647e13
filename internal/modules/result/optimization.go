package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantfolio/riskengine/internal/domain"
)

// OptimizationStatus is the terminal state of an optimization run.
// Infeasibility and timeout are expected business outcomes, not errors.
type OptimizationStatus string

const (
	StatusConverged  OptimizationStatus = "converged"
	StatusInfeasible OptimizationStatus = "infeasible"
	StatusTimeout    OptimizationStatus = "timeout"
)

// OptimizationPayload is the machine rendering of an optimization run.
type OptimizationPayload struct {
	ID               string             `json:"id" msgpack:"id"`
	CreatedAt        time.Time          `json:"created_at" msgpack:"created_at"`
	Objective        string             `json:"objective" msgpack:"objective"`
	Status           OptimizationStatus `json:"status" msgpack:"status"`
	ObjectiveValue   domain.Metric      `json:"objective_value" msgpack:"objective_value"`
	AnnualVolatility domain.Metric      `json:"annual_volatility" msgpack:"annual_volatility"`
	ExpectedReturn   domain.Metric      `json:"expected_return" msgpack:"expected_return"`
	Weights          map[string]float64 `json:"weights" msgpack:"weights"`
	Satisfied        []string           `json:"satisfied_constraints" msgpack:"satisfied_constraints"`
	Violated         []string           `json:"violated_constraints" msgpack:"violated_constraints"`
	Iterations       int                `json:"iterations" msgpack:"iterations"`
	RuntimeSeconds   float64            `json:"runtime_seconds" msgpack:"runtime_seconds"`
	RelaxedTolerance bool               `json:"relaxed_tolerance" msgpack:"relaxed_tolerance"`
}

// OptimizationResult is the canonical immutable optimization result.
type OptimizationResult struct {
	payload OptimizationPayload
}

// OptimizationInputs are the solver outputs BuildOptimization assembles.
type OptimizationInputs struct {
	Objective        string
	Status           OptimizationStatus
	ObjectiveValue   domain.Metric
	AnnualVolatility domain.Metric
	ExpectedReturn   domain.Metric
	Weights          map[string]float64
	Satisfied        []string
	Violated         []string
	Iterations       int
	Runtime          time.Duration
	RelaxedTolerance bool
}

// BuildOptimization is the single construction path for an
// OptimizationResult.
func BuildOptimization(in OptimizationInputs) *OptimizationResult {
	return &OptimizationResult{payload: OptimizationPayload{
		ID:               uuid.NewString(),
		CreatedAt:        time.Now().UTC(),
		Objective:        in.Objective,
		Status:           in.Status,
		ObjectiveValue:   in.ObjectiveValue,
		AnnualVolatility: in.AnnualVolatility,
		ExpectedReturn:   in.ExpectedReturn,
		Weights:          copyFloatMap(in.Weights),
		Satisfied:        append([]string(nil), in.Satisfied...),
		Violated:         append([]string(nil), in.Violated...),
		Iterations:       in.Iterations,
		RuntimeSeconds:   in.Runtime.Seconds(),
		RelaxedTolerance: in.RelaxedTolerance,
	}}
}

// ID returns the run identifier.
func (r *OptimizationResult) ID() string { return r.payload.ID }

// Status returns the terminal state of the run.
func (r *OptimizationResult) Status() OptimizationStatus { return r.payload.Status }

// Payload returns a deep copy of the machine payload.
func (r *OptimizationResult) Payload() OptimizationPayload {
	out := r.payload
	out.Weights = copyFloatMap(r.payload.Weights)
	out.Satisfied = append([]string(nil), r.payload.Satisfied...)
	out.Violated = append([]string(nil), r.payload.Violated...)
	return out
}

// EncodeArtifact returns the compact binary artifact of the run.
func (r *OptimizationResult) EncodeArtifact() ([]byte, error) {
	return msgpack.Marshal(r.payload)
}

// RenderReport renders the optimization summary from payload fields only.
func (r *OptimizationResult) RenderReport() string {
	var b strings.Builder
	p := r.payload

	fmt.Fprintf(&b, "PORTFOLIO OPTIMIZATION %s\n", p.ID)
	fmt.Fprintf(&b, "generated: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&b, "objective: %s\n", p.Objective)
	fmt.Fprintf(&b, "status: %s\n", p.Status)
	fmt.Fprintf(&b, "objective_value=%s annual_volatility=%s expected_return=%s\n",
		metric(p.ObjectiveValue), metric(p.AnnualVolatility), metric(p.ExpectedReturn))
	fmt.Fprintf(&b, "iterations=%d runtime_seconds=%s relaxed_tolerance=%t\n",
		p.Iterations, num(p.RuntimeSeconds), p.RelaxedTolerance)

	if len(p.Weights) > 0 {
		b.WriteString("\n== Solved Weights ==\n")
		for _, ticker := range sortedKeys(p.Weights) {
			fmt.Fprintf(&b, "  %-8s %s\n", ticker, num(p.Weights[ticker]))
		}
	}

	b.WriteString("\n== Constraints ==\n")
	for _, name := range p.Satisfied {
		fmt.Fprintf(&b, "  [SATISFIED] %s\n", name)
	}
	for _, name := range p.Violated {
		fmt.Fprintf(&b, "  [VIOLATED]  %s\n", name)
	}

	return b.String()
}
