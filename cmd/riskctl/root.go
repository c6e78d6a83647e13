package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quantfolio/riskengine/internal/engine"
	"github.com/quantfolio/riskengine/pkg/logger"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	logLevel  string
	inputPath string
	report    bool
	artifact  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Factor-risk decomposition and optimization for equity portfolios",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.inputPath, "input", "i", "-", "input JSON file (- for stdin)")
	root.PersistentFlags().BoolVar(&opts.report, "report", false, "print the human-readable report instead of JSON")
	root.PersistentFlags().StringVar(&opts.artifact, "artifact", "", "also write the binary result artifact to this path")

	root.AddCommand(
		newAnalyzeCmd(opts),
		newWhatIfCmd(opts),
		newOptimizeCmd(opts),
	)

	return root
}

// newEngine builds a local engine with default tunables.
func (o *rootOptions) newEngine() (*engine.Engine, zerolog.Logger) {
	log := logger.New(logger.Config{Level: o.logLevel, Pretty: true})
	return engine.New(engine.Config{}, log), log
}

// decodeInput reads and unmarshals the input file into dst.
func (o *rootOptions) decodeInput(dst interface{}) error {
	var r io.Reader = os.Stdin
	if o.inputPath != "-" && o.inputPath != "" {
		f, err := os.Open(o.inputPath)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(dst); err != nil {
		return fmt.Errorf("failed to parse input JSON: %w", err)
	}
	return nil
}

// emit writes the result in the selected formats.
func (o *rootOptions) emit(cmd *cobra.Command, payload interface{}, report string, artifact func() ([]byte, error)) error {
	if o.artifact != "" {
		data, err := artifact()
		if err != nil {
			return fmt.Errorf("failed to encode artifact: %w", err)
		}
		if err := os.WriteFile(o.artifact, data, 0644); err != nil {
			return fmt.Errorf("failed to write artifact: %w", err)
		}
	}

	if o.report {
		cmd.Print(report)
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
