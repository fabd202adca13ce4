package cmd

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagelocalizer/internal/assets"
	"github.com/JakeFAU/pagelocalizer/internal/clock/system"
	"github.com/JakeFAU/pagelocalizer/internal/config"
	collyfetcher "github.com/JakeFAU/pagelocalizer/internal/fetcher/colly"
	"github.com/JakeFAU/pagelocalizer/internal/hash/sha256"
	"github.com/JakeFAU/pagelocalizer/internal/id/uuid"
	"github.com/JakeFAU/pagelocalizer/internal/inject"
	"github.com/JakeFAU/pagelocalizer/internal/layout"
	"github.com/JakeFAU/pagelocalizer/internal/metrics"
	"github.com/JakeFAU/pagelocalizer/internal/pipeline"
	"github.com/JakeFAU/pagelocalizer/internal/ratelimit"
	"github.com/JakeFAU/pagelocalizer/internal/rewrite"
	"github.com/JakeFAU/pagelocalizer/internal/sanitize"
	"github.com/JakeFAU/pagelocalizer/internal/storage/local"
)

// buildPipeline wires a pipeline whose assets land under dir.
func buildPipeline(cfg config.Config, dir string, recorder *metrics.Recorder, logger *zap.Logger) (*pipeline.Pipeline, error) {
	store, err := local.New(local.Config{BaseDir: dir})
	if err != nil {
		return nil, fmt.Errorf("open asset store: %w", err)
	}
	downloader := collyfetcher.New(cfg.DownloaderConfig())
	hasher := sha256.New()
	retry := cfg.RetryPolicy()
	limiter := ratelimit.New(cfg.RateLimitConfig(), recorder)
	assetLogger := logger.Named("assets")

	fragments, err := inject.DefaultFragments(cfg.Tracking)
	if err != nil {
		return nil, fmt.Errorf("build fragments: %w", err)
	}
	if !hasFragment(fragments, inject.TrackingID) {
		return nil, errors.New("tracking.pixel_id is required: the tracking snippet would not be injected")
	}

	p, err := pipeline.New(pipeline.Deps{
		Rewriter:  rewrite.New(cfg.RewriteConfig()),
		Sanitizer: sanitize.New(cfg.SanitizeConfig(), inject.MarkerSelector, logger.Named("sanitize")),
		Adjuster:  layout.New(cfg.Layout, logger.Named("layout")),
		Injector:  inject.New(fragments, logger.Named("inject")),
		NewFetcher: func() *assets.Fetcher {
			return assets.NewFetcher(cfg.FetcherConfig(), downloader, store, retry, hasher, recorder, assetLogger).
				WithLimiter(limiter)
		},
		Clock:    system.New(),
		IDs:      uuid.New(),
		Observer: recorder,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return p, nil
}

func hasFragment(fragments []inject.Fragment, id string) bool {
	for _, f := range fragments {
		if f.ID == id {
			return true
		}
	}
	return false
}

// finishRun writes the optional manifest and metrics file, then prints a
// one-line summary. runErr is returned wrapped when set.
func finishRun(w io.Writer, report pipeline.Report, runErr error, manifest, metricsFile string, recorder *metrics.Recorder) error {
	if manifest != "" {
		if err := pipeline.WriteReport(manifest, report); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	if metricsFile != "" {
		if err := recorder.WriteTextfile(metricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	if runErr != nil {
		return runErr
	}

	summary := report.AssetSummary()
	_, err := fmt.Fprintf(w, "run %s: %d fetched, %d failed, %d not needed\n",
		report.RunID,
		summary[assets.StatusFetched],
		summary[assets.StatusFailed],
		summary[assets.StatusNotNeeded],
	)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	for _, rec := range report.FailedAssets() {
		if _, err := fmt.Fprintf(w, "  failed %s (%s): %s\n", rec.Filename, rec.SourceURL, rec.Error); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	return nil
}
