// Package assets makes sure every font and image a rewritten page points at
// exists in the local asset directories, downloading each one at most once
// per run.
package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Status is the lifecycle state of an asset within one run.
type Status string

// Asset statuses.
const (
	StatusNotNeeded Status = "not-needed"
	StatusPending   Status = "pending"
	StatusFetched   Status = "fetched"
	StatusFailed    Status = "failed"
)

// Result is what EnsureLocal did for a call.
type Result string

// EnsureLocal results.
const (
	ResultFetched       Result = "fetched"
	ResultSkippedExists Result = "skipped-exists"
	ResultFailed        Result = "failed"
)

// Record tracks one asset, keyed by its local path.
type Record struct {
	Filename  string `json:"filename"`
	LocalPath string `json:"local_path,omitempty"`
	SourceURL string `json:"source_url"`
	Status    Status `json:"status"`
	Result    Result `json:"result,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Digest    string `json:"digest,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Request is a single download attempt.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the raw result of a download attempt.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Downloader retrieves a URL. Implementations report non-2xx responses
// either as a *StatusError or as a Response carrying the status code.
type Downloader interface {
	Download(ctx context.Context, req Request) (Response, error)
}

// Store is the local asset directory.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes content digests for fetched assets.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// RetryPolicy decides whether and when a failed download is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Limiter throttles download attempts per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Observer receives one call per EnsureLocal outcome.
type Observer interface {
	ObserveAssetFetch(result Result, bytes int, duration time.Duration)
}

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}
