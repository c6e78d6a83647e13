package main

import (
	"github.com/spf13/cobra"

	"github.com/quantfolio/riskengine/internal/engine"
)

func newWhatIfCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whatif",
		Short: "Compare a portfolio against a hypothetical weight delta",
		Long: `Reads an analysis request plus a sparse weight delta from the input
JSON, runs baseline and scenario through the identical pipeline, and prints
the paired results with field-by-field deltas.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req engine.WhatIfRequest
			if err := opts.decodeInput(&req); err != nil {
				return err
			}

			eng, _ := opts.newEngine()
			res, err := eng.WhatIf(cmd.Context(), req)
			if err != nil {
				return err
			}
			return opts.emit(cmd, res.Payload(), res.RenderReport(), res.EncodeArtifact)
		},
	}
}
