package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagelocalizer/internal/metrics"
)

type localizeOptions struct {
	input       string
	output      string
	manifest    string
	metricsFile string
}

// newLocalizeCmd creates the 'localize' subcommand.
func newLocalizeCmd() *cobra.Command {
	opts := &localizeOptions{}
	cmd := &cobra.Command{
		Use:   "localize",
		Short: "Localizes a scraped page in place or to a new file",
		Long: `Rewrites source-domain references to local copies, downloads the assets
they point at into the output page's directory, strips the original site's
runtime and tracking, and injects the configured fragments. Running it
again on its own output changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLocalize(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "index.html", "page to localize")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "where to write the page (default: overwrite --input)")
	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "write a JSON run report to this path")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "write Prometheus metrics in text format to this path")
	return cmd
}

func runLocalize(cmd *cobra.Command, opts *localizeOptions) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	if opts.input == "" {
		return errors.New("--input is required")
	}
	output := opts.output
	if output == "" {
		output = opts.input
	}

	recorder := metrics.New()
	p, err := buildPipeline(a.cfg, filepath.Dir(output), recorder, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("localizing page", zap.String("input", opts.input), zap.String("output", output))
	report, runErr := p.ProcessFile(cmd.Context(), opts.input, output)
	if runErr != nil {
		runErr = fmt.Errorf("localize %s: %w", opts.input, runErr)
	}
	return finishRun(cmd.OutOrStdout(), report, runErr, opts.manifest, opts.metricsFile, recorder)
}
