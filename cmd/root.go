// Package cmd defines and implements the CLI commands for the pagelocalizer
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagelocalizer/internal/config"
	"github.com/JakeFAU/pagelocalizer/internal/logging"
)

// appKeyType is the key for storing the app in the context.
type appKeyType string

const appKey appKeyType = "app"

// app holds what every subcommand needs once flags are parsed.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

// flagKeys maps CLI flags onto config keys. A flag only overrides the config
// when it is set on the command line.
var flagKeys = map[string]string{
	"dev-logs":  "logging.development",
	"log-level": "logging.level",
	"dir":       "serve.dir",
	"port":      "serve.port",
}

// defaultConfigPath is read when --config is not given and the file exists.
const defaultConfigPath = "configs/localizer.yaml"

func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if info, err := os.Stat(defaultConfigPath); err == nil && !info.IsDir() {
		return defaultConfigPath
	}
	return ""
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "pagelocalizer",
		Short: "Turns a scraped landing page into a self-contained copy.",
		Long: `pagelocalizer rewrites a scraped marketing page so it no longer depends on
the site it was copied from: source-domain images and fonts are downloaded
next to the page, icon fonts are pointed at a public CDN, the original
runtime's scripts and tracking are stripped, and the new owner's tracking
snippet and disclaimer are injected.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bindings := make([]config.FlagBinding, 0, len(flagKeys))
			for name, key := range flagKeys {
				bindings = append(bindings, config.FlagBinding{Key: key, Flag: cmd.Flags().Lookup(name)})
			}
			cfg, err := config.Load(resolveConfigPath(cfgFile), bindings...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, &app{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, err := appFrom(cmd.Context()); err == nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); defaults to "+defaultConfigPath+" when present")
	cmd.PersistentFlags().Bool("dev-logs", true, "human-readable development logs")
	cmd.PersistentFlags().String("log-level", "", "minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newLocalizeCmd())
	cmd.AddCommand(newPrefetchCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func appFrom(ctx context.Context) (*app, error) {
	if ctx == nil {
		return nil, errors.New("command context is not set")
	}
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application is not initialized")
	}
	return a, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pagelocalizer: %v\n", err)
		os.Exit(1)
	}
}
