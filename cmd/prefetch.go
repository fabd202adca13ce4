package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagelocalizer/internal/metrics"
)

type prefetchOptions struct {
	from     string
	dir      string
	manifest string
}

// newPrefetchCmd creates the 'prefetch' subcommand.
func newPrefetchCmd() *cobra.Command {
	opts := &prefetchOptions{}
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Downloads the source-domain fonts referenced by an older page copy",
		Long: `Scans a page (typically an older scrape) for url(...) font references on
the source domain and downloads them into the fonts directory without
touching the page itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrefetch(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.from, "from", "", "page to scan for font references")
	cmd.Flags().StringVar(&opts.dir, "out-dir", ".", "directory the fonts directory lives under")
	cmd.Flags().StringVar(&opts.manifest, "manifest", "", "write a JSON run report to this path")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func runPrefetch(cmd *cobra.Command, opts *prefetchOptions) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	// #nosec G304 -- the operator names the page to scan.
	text, err := os.ReadFile(opts.from)
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.from, err)
	}

	recorder := metrics.New()
	p, err := buildPipeline(a.cfg, opts.dir, recorder, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info("prefetching fonts", zap.String("from", opts.from), zap.String("dir", opts.dir))
	report, runErr := p.Prefetch(cmd.Context(), string(text))
	report.Input = opts.from
	if runErr != nil {
		runErr = fmt.Errorf("prefetch from %s: %w", opts.from, runErr)
	}
	return finishRun(cmd.OutOrStdout(), report, runErr, opts.manifest, "", recorder)
}
