package main

import (
	"github.com/spf13/cobra"

	"github.com/quantfolio/riskengine/internal/engine"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Run a full factor-risk decomposition over a portfolio",
		Long: `Reads an analysis request (positions, return series, optional risk
limits) from the input JSON and prints the canonical result. When no limits
are supplied, suggested limits derived from the measured values are checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req engine.AnalysisRequest
			if err := opts.decodeInput(&req); err != nil {
				return err
			}

			eng, _ := opts.newEngine()
			res, err := eng.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.emit(cmd, res.Payload(), res.RenderReport(), res.EncodeArtifact)
		},
	}
}
