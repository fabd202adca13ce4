package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pagelocalizer/internal/metrics"
	"github.com/JakeFAU/pagelocalizer/internal/preview"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves a localized page for a browser check",
		Long: `Starts an HTTP server over the output directory so the localized page and
its assets can be opened in a browser. /healthz and /metrics are also
exposed. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("dir", ".", "directory to serve")
	cmd.Flags().Int("port", 8080, "port to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	server, err := preview.NewServer(a.cfg.Serve.Dir, metrics.New(), a.logger.Named("preview"))
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", a.cfg.Serve.Port)
	if err := server.ListenAndServe(cmd.Context(), addr, shutdownTimeout); err != nil {
		return err
	}
	return nil
}
