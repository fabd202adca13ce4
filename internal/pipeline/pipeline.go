// Package pipeline drives one localization run: parse, rewrite and fetch,
// sanitize, adjust layout, inject, then serialize exactly once.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagelocalizer/internal/assets"
	"github.com/JakeFAU/pagelocalizer/internal/inject"
	"github.com/JakeFAU/pagelocalizer/internal/layout"
	"github.com/JakeFAU/pagelocalizer/internal/rewrite"
	"github.com/JakeFAU/pagelocalizer/internal/sanitize"
	"github.com/JakeFAU/pagelocalizer/internal/storage/local"
)

// ErrNoDocument is returned when the input holds no markup at all.
var ErrNoDocument = errors.New("input contains no document")

// Clock supplies report timestamps.
type Clock interface {
	Now() time.Time
}

// IDGenerator supplies run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Observer receives per-run counts. metrics.Recorder implements it.
type Observer interface {
	ObserveRewrite(rule string, n int)
	ObserveRemoval(rule string, n int)
	ObserveInjection(fragment string)
	ObservePatch(rule string, n int)
	ObserveRun(status string)
}

// FetcherFactory returns a fresh Fetcher for each run, so asset records
// never leak between runs.
type FetcherFactory func() *assets.Fetcher

// Deps are the collaborators of a Pipeline. Adjuster, Observer, Clock and
// IDs are optional.
type Deps struct {
	Rewriter   *rewrite.Rewriter
	Sanitizer  *sanitize.Sanitizer
	Adjuster   *layout.Adjuster
	Injector   *inject.Injector
	NewFetcher FetcherFactory
	Clock      Clock
	IDs        IDGenerator
	Observer   Observer
	Logger     *zap.Logger
}

// Pipeline runs the localization stages over one document at a time.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and returns a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Rewriter == nil:
		return nil, errors.New("pipeline: rewriter is required")
	case deps.Sanitizer == nil:
		return nil, errors.New("pipeline: sanitizer is required")
	case deps.Injector == nil:
		return nil, errors.New("pipeline: injector is required")
	case deps.NewFetcher == nil:
		return nil, errors.New("pipeline: fetcher factory is required")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, logger: deps.Logger.Named("pipeline")}, nil
}

// Process reads one document from r, localizes it and writes the result to
// w. Asset download failures are recorded in the report and do not fail the
// run; store errors, cancellation and parse errors do.
func (p *Pipeline) Process(ctx context.Context, r io.Reader, w io.Writer) (Report, error) {
	report, logger, err := p.begin()
	if err != nil {
		return report, err
	}

	out, err := p.run(ctx, r, &report, logger)
	if err != nil {
		p.finish(&report, logger, err)
		return report, err
	}
	if _, err := io.WriteString(w, out); err != nil {
		err = fmt.Errorf("write document: %w", err)
		p.finish(&report, logger, err)
		return report, err
	}
	p.finish(&report, logger, nil)
	return report, nil
}

// ProcessFile localizes the document at in and writes it to out, which may
// be the same path. The output is written to a temporary file and renamed
// into place, so a failed run never leaves a truncated page behind.
func (p *Pipeline) ProcessFile(ctx context.Context, in, out string) (Report, error) {
	// #nosec G304 -- the operator names the input page.
	src, err := os.Open(in)
	if err != nil {
		return Report{}, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	var buf bytes.Buffer
	report, err := p.Process(ctx, src, &buf)
	report.Input = in
	report.Output = out
	if err != nil {
		return report, err
	}

	store, err := local.New(local.Config{BaseDir: filepath.Dir(out)})
	if err != nil {
		return report, fmt.Errorf("open output directory: %w", err)
	}
	if _, err := store.PutObject(ctx, filepath.Base(out), "text/html; charset=utf-8", &buf); err != nil {
		return report, fmt.Errorf("write output: %w", err)
	}
	return report, nil
}

// Prefetch downloads every source-domain font referenced by url(...) in
// text without rewriting anything. It is used to warm the font directory
// from an older copy of the page.
func (p *Pipeline) Prefetch(ctx context.Context, text string) (Report, error) {
	report, logger, err := p.begin()
	if err != nil {
		return report, err
	}
	fetcher := p.deps.NewFetcher()
	err = ensureAll(ctx, fetcher, p.deps.Rewriter.Scan(text), nil)
	report.Assets = fetcher.Records()
	p.finish(&report, logger, err)
	return report, err
}

func (p *Pipeline) begin() (Report, *zap.Logger, error) {
	report := newReport(p.deps.Clock.Now())
	if p.deps.IDs != nil {
		id, err := p.deps.IDs.NewID()
		if err != nil {
			return report, p.logger, fmt.Errorf("new run id: %w", err)
		}
		report.RunID = id
	}
	logger := p.logger
	if report.RunID != "" {
		logger = logger.With(zap.String("run_id", report.RunID))
	}
	return report, logger, nil
}

func (p *Pipeline) run(ctx context.Context, r io.Reader, report *Report, logger *zap.Logger) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", ErrNoDocument
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}

	plan := planRewrites(doc, p.deps.Rewriter, inject.MarkerSelector)
	fetcher := p.deps.NewFetcher()
	err = ensureAll(ctx, fetcher, plan.fetches, plan.redirects)
	report.Assets = fetcher.Records()
	if err != nil {
		return "", err
	}
	plan.apply()
	report.Rewrites = plan.counts
	logger.Info("references rewritten",
		zap.Int("attributes", len(plan.attrs)),
		zap.Int("text_blocks", len(plan.texts)),
		zap.Int("assets", len(report.Assets)),
	)

	removals := p.deps.Sanitizer.Plan(doc)
	removed := p.deps.Sanitizer.Apply(removals)
	report.Removals = removals.Counts()
	logger.Info("document sanitized", zap.Int("removed", removed))

	if p.deps.Adjuster != nil {
		patches := p.deps.Adjuster.Plan(doc)
		changed := p.deps.Adjuster.Apply(patches)
		for _, patch := range patches.Patches {
			report.Patches[patch.Rule]++
		}
		logger.Info("layout adjusted", zap.Int("changed", changed))
	}

	injected, err := p.deps.Injector.Inject(doc)
	if err != nil {
		return "", fmt.Errorf("inject fragments: %w", err)
	}
	report.Injected = injected.Injected
	report.SkippedFragments = injected.Skipped

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return out, nil
}

func (p *Pipeline) finish(report *Report, logger *zap.Logger, err error) {
	report.FinishedAt = p.deps.Clock.Now()
	status := "success"
	if err != nil {
		status = "error"
		report.Error = err.Error()
	}
	if obs := p.deps.Observer; obs != nil {
		for _, rule := range sortedKeys(report.Rewrites) {
			obs.ObserveRewrite(rule, report.Rewrites[rule])
		}
		for _, rule := range sortedKeys(report.Removals) {
			obs.ObserveRemoval(rule, report.Removals[rule])
		}
		for _, rule := range sortedKeys(report.Patches) {
			obs.ObservePatch(rule, report.Patches[rule])
		}
		for _, id := range report.Injected {
			obs.ObserveInjection(id)
		}
		obs.ObserveRun(status)
	}

	summary := report.AssetSummary()
	fields := []zap.Field{
		zap.String("status", status),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("assets_fetched", summary[assets.StatusFetched]),
		zap.Int("assets_failed", summary[assets.StatusFailed]),
		zap.Int("assets_not_needed", summary[assets.StatusNotNeeded]),
	}
	if err != nil {
		logger.Error("run failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("run complete", fields...)
}

// ensureAll makes sure every fetch target exists and notes redirected
// assets. It stops at the first store error or cancellation.
func ensureAll(ctx context.Context, fetcher *assets.Fetcher, fetches, redirects []rewrite.Fetch) error {
	for _, r := range redirects {
		fetcher.NoteNotNeeded(r.URL, r.Filename)
	}
	for _, f := range fetches {
		if _, err := fetcher.EnsureLocal(ctx, f.URL, f.Target); err != nil {
			return fmt.Errorf("ensure %s: %w", f.Target, err)
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
