package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config controls how downloads are issued.
type Config struct {
	UserAgent string
	Accept    string
	// Timeout bounds each individual attempt.
	Timeout time.Duration
}

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	defaultAccept  = "*/*"
	defaultTimeout = 30 * time.Second
)

// Fetcher ensures assets exist in the store. It is meant for the single
// goroutine driving one pipeline run and is not safe for concurrent use.
type Fetcher struct {
	cfg        Config
	downloader Downloader
	store      Store
	retry      RetryPolicy
	hasher     Hasher
	observer   Observer
	limiter    Limiter
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	records map[string]*Record
	order   []string
}

// NewFetcher wires a Fetcher. retry, hasher, observer and logger may be nil.
func NewFetcher(
	cfg Config,
	downloader Downloader,
	store Store,
	retry RetryPolicy,
	hasher Hasher,
	observer Observer,
	logger *zap.Logger,
) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Accept == "" {
		cfg.Accept = defaultAccept
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:        cfg,
		downloader: downloader,
		store:      store,
		retry:      retry,
		hasher:     hasher,
		observer:   observer,
		logger:     logger,
		sleep:      sleepContext,
		records:    make(map[string]*Record),
	}
}

// WithLimiter makes every download attempt wait on l first.
func (f *Fetcher) WithLimiter(l Limiter) *Fetcher {
	f.limiter = l
	return f
}

// EnsureLocal makes sure target exists in the store, downloading url if it
// does not. Each target is handled at most once per Fetcher; later calls
// return the first result. Download failures are logged and reported as
// ResultFailed with a nil error. The error is non-nil only when the store
// cannot be read or written, or ctx is done.
func (f *Fetcher) EnsureLocal(ctx context.Context, url, target string) (Result, error) {
	key := path.Clean(strings.TrimPrefix(target, "./"))
	if rec, ok := f.records[key]; ok {
		if stripQuery(rec.SourceURL) != stripQuery(url) {
			f.logger.Warn("filename collision, keeping first source",
				zap.String("filename", rec.Filename),
				zap.String("kept_url", rec.SourceURL),
				zap.String("ignored_url", url),
			)
		}
		return rec.Result, nil
	}

	rec := &Record{
		Filename:  path.Base(key),
		LocalPath: key,
		SourceURL: url,
		Status:    StatusPending,
	}
	f.records[key] = rec
	f.order = append(f.order, key)

	exists, err := f.store.Exists(ctx, key)
	if err != nil {
		rec.Status = StatusFailed
		rec.Result = ResultFailed
		rec.Error = err.Error()
		return ResultFailed, fmt.Errorf("check asset %s: %w", key, err)
	}
	if exists {
		rec.Status = StatusFetched
		rec.Result = ResultSkippedExists
		f.observe(ResultSkippedExists, 0, 0)
		f.logger.Debug("asset already present", zap.String("filename", rec.Filename))
		return ResultSkippedExists, nil
	}

	f.logger.Info("downloading asset", zap.String("filename", rec.Filename), zap.String("url", url))
	start := time.Now()
	resp, attempts, err := f.download(ctx, url)
	rec.Attempts = attempts
	if err != nil {
		rec.Status = StatusFailed
		rec.Result = ResultFailed
		rec.Error = err.Error()
		f.observe(ResultFailed, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ResultFailed, fmt.Errorf("fetch %s: %w", url, ctxErr)
		}
		f.logger.Warn("asset fetch failed",
			zap.String("filename", rec.Filename),
			zap.String("url", url),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return ResultFailed, nil
	}

	if _, err := f.store.PutObject(ctx, key, contentType(resp, key), bytes.NewReader(resp.Body)); err != nil {
		rec.Status = StatusFailed
		rec.Result = ResultFailed
		rec.Error = err.Error()
		return ResultFailed, fmt.Errorf("store asset %s: %w", key, err)
	}

	rec.Status = StatusFetched
	rec.Result = ResultFetched
	rec.Bytes = int64(len(resp.Body))
	if f.hasher != nil {
		if digest, err := f.hasher.Hash(resp.Body); err == nil {
			rec.Digest = digest
		}
	}
	f.observe(ResultFetched, len(resp.Body), time.Since(start))
	return ResultFetched, nil
}

// NoteNotNeeded records an asset that was redirected elsewhere (for example a
// CDN) and therefore never touches the store.
func (f *Fetcher) NoteNotNeeded(url, filename string) {
	key := "not-needed/" + filename
	if _, ok := f.records[key]; ok {
		return
	}
	f.records[key] = &Record{Filename: filename, SourceURL: url, Status: StatusNotNeeded}
	f.order = append(f.order, key)
}

// Records returns a copy of every record in discovery order.
func (f *Fetcher) Records() []Record {
	out := make([]Record, 0, len(f.order))
	for _, key := range f.order {
		out = append(out, *f.records[key])
	}
	return out
}

func (f *Fetcher) download(ctx context.Context, url string) (Response, int, error) {
	headers := http.Header{}
	headers.Set("User-Agent", f.cfg.UserAgent)
	headers.Set("Accept", f.cfg.Accept)

	for attempt := 1; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				return Response{}, attempt, err
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
		resp, err := f.downloader.Download(attemptCtx, Request{URL: url, Headers: headers.Clone()})
		cancel()
		if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			err = &StatusError{URL: url, Code: resp.StatusCode}
		}
		if err == nil && len(resp.Body) == 0 {
			err = errors.New("empty response body")
		}
		if err == nil {
			return resp, attempt, nil
		}
		if ctx.Err() != nil {
			return Response{}, attempt, err
		}
		if !f.retry.ShouldRetry(err, attempt) {
			return Response{}, attempt, err
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Debug("retrying asset download",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := f.sleep(ctx, wait); err != nil {
			return Response{}, attempt, err
		}
	}
}

func (f *Fetcher) observe(result Result, n int, d time.Duration) {
	if f.observer != nil {
		f.observer.ObserveAssetFetch(result, n, d)
	}
}

func contentType(resp Response, key string) string {
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		return ct
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
