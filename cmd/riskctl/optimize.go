package main

import (
	"github.com/spf13/cobra"

	"github.com/quantfolio/riskengine/internal/engine"
)

func newOptimizeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Solve a constrained weight-allocation problem",
		Long: `Reads an optimization request (positions, return series, risk limits,
objective) from the input JSON and prints the solved weights. Infeasibility
and solver cutoffs are reported as terminal statuses, not errors.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req engine.OptimizeRequest
			if err := opts.decodeInput(&req); err != nil {
				return err
			}

			eng, _ := opts.newEngine()
			res, err := eng.Optimize(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.emit(cmd, res.Payload(), res.RenderReport(), res.EncodeArtifact)
		},
	}
}
