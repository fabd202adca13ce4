package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/pagelocalizer/internal/assets"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", Timeout: time.Second, MaxBodyBytes: 1024})
	collector := f.buildCollector(assets.Request{URL: "https://example.com"}, time.Unix(0, 0), &assets.Response{}, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed")
	}
	if collector.MaxBodySize != 1024 {
		t.Fatalf("expected body cap 1024, got %d", collector.MaxBodySize)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := assets.Request{
		URL:     "https://example.com/font.woff2",
		Headers: http.Header{"User-Agent": {"page-agent"}, "Accept": {"*/*"}},
	}
	var result assets.Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{"User-Agent": {"colly"}}}
	hooks.onRequest(collyReq)
	if got := collyReq.Headers.Values("User-Agent"); len(got) != 1 || got[0] != "page-agent" {
		t.Fatalf("expected user agent replaced, got %v", got)
	}
	if collyReq.Headers.Get("Accept") != "*/*" {
		t.Fatalf("expected accept header, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"font/woff2"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com/font.woff2"),
		},
	})
	if result.StatusCode != http.StatusOK || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Headers.Get("Content-Type") != "font/woff2" {
		t.Fatalf("expected headers copied, got %+v", result.Headers)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound}, errors.New("Not Found"))
	var statusErr *assets.StatusError
	if !errors.As(fetchErr, &statusErr) || statusErr.Code != http.StatusNotFound {
		t.Fatalf("expected status error, got %v", fetchErr)
	}
}

func TestDownloadAgainstServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wp-content/uploads/a.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("PNG:" + r.Header.Get("User-Agent")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second})
	req := assets.Request{URL: srv.URL + "/wp-content/uploads/a.png", Headers: http.Header{"User-Agent": {"agent-x"}}}

	for i := 0; i < 2; i++ {
		resp, err := f.Download(context.Background(), req)
		if err != nil {
			t.Fatalf("download %d: %v", i, err)
		}
		if resp.StatusCode != http.StatusOK || string(resp.Body) != "PNG:agent-x" {
			t.Fatalf("download %d: unexpected response %d %q", i, resp.StatusCode, resp.Body)
		}
	}

	resp, err := f.Download(context.Background(), assets.Request{URL: srv.URL + "/missing.png"})
	if err != nil {
		var statusErr *assets.StatusError
		if !errors.As(err, &statusErr) || statusErr.Code != http.StatusNotFound {
			t.Fatalf("expected not found, got %v", err)
		}
	} else if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
}

func TestDownloadSendsReferer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") != "https://colagenotipo2pro.com.br/" {
			http.Error(w, "hotlinking denied", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("GIF"))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second, Referer: "https://colagenotipo2pro.com.br/"})
	resp, err := f.Download(context.Background(), assets.Request{URL: srv.URL + "/up/a.gif"})
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if string(resp.Body) != "GIF" {
		t.Fatalf("unexpected body %q", resp.Body)
	}
}

func TestDownloadRejectsTruncatedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, 4096))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 5 * time.Second, MaxBodyBytes: 1024})
	_, err := f.Download(context.Background(), assets.Request{URL: srv.URL + "/big.png"})
	var statusErr *assets.StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 status error, got %v", err)
	}
}

func TestDownloadCanceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{Timeout: 5 * time.Second}).Download(ctx, assets.Request{URL: srv.URL + "/slow.woff"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
