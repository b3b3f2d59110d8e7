// Package fetch performs network retrieval for site plugins: content-type
// negotiation, response validation, retry on transient failure, a
// TTL-bounded response cache and best-effort cover image download.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/plahtine/janus/internal/config"
)

// ErrorKind classifies download failures so callers can pick a retry
// policy.
type ErrorKind string

const (
	// KindNetwork covers transport errors, timeouts and 5xx responses;
	// the only kind worth retrying.
	KindNetwork ErrorKind = "network"
	// KindInvalidContent covers non-retryable bad responses (4xx other
	// than 429, undecodable payloads).
	KindInvalidContent ErrorKind = "invalid_content"
	// KindQuota covers 429 responses.
	KindQuota ErrorKind = "quota"
	// KindCensored covers 451 responses: the resource exists but is
	// legally unavailable, so neither retrying nor caching helps.
	KindCensored ErrorKind = "censored"
)

// DownloadError is the typed failure of a download attempt.
type DownloadError struct {
	URL        string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	msg := string(e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("download failed: %s: %v, url: %s", msg, e.Err, e.URL)
	}
	return fmt.Sprintf("download failed: %s, url: %s", msg, e.URL)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *DownloadError) Retryable() bool { return e.Kind == KindNetwork }

// Request describes one fetch. AcceptLanguage participates in the cache
// key because localized responses differ per locale.
type Request struct {
	URL            string
	Headers        map[string]string
	AcceptLanguage string
	Timeout        time.Duration
	// RenderJS asks for a JavaScript-rendered page; only honored by the
	// rendering downloader, ignored elsewhere.
	RenderJS     bool
	WaitSelector string
}

// CacheKey is the request signature the caching downloader keys on.
func (r Request) CacheKey() string {
	if r.AcceptLanguage == "" {
		return r.URL
	}
	return r.URL + "|" + r.AcceptLanguage
}

// Response is a completed download with lazy content accessors.
type Response struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// brokenContentTypes maps malformed content-type values some sources
// report to their correct form.
var brokenContentTypes = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
	"text/json":   "application/json",
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	if fixed, ok := brokenContentTypes[ct]; ok {
		return fixed
	}
	return ct
}

// NormalizedContentType returns the media type with known-broken values
// repaired and parameters stripped.
func (r *Response) NormalizedContentType() string {
	return normalizeContentType(r.ContentType)
}

// Bytes returns the raw body.
func (r *Response) Bytes() []byte { return r.Body }

// JSON decodes the body into target.
func (r *Response) JSON(target any) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return &DownloadError{URL: r.URL, Kind: KindInvalidContent, Err: fmt.Errorf("decode json: %w", err)}
	}
	return nil
}

// HTML parses the body as an HTML document.
func (r *Response) HTML() (*html.Node, error) {
	node, err := html.Parse(bytes.NewReader(r.Body))
	if err != nil {
		return nil, &DownloadError{URL: r.URL, Kind: KindInvalidContent, Err: fmt.Errorf("parse html: %w", err)}
	}
	return node, nil
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Downloader retrieves external resources. Implementations wrap each
// other: Retry(Cached(Basic)) is the production stack.
type Downloader interface {
	Download(ctx context.Context, req Request) (*Response, error)
}

// HTTPDoer is the subset of http.Client the basic downloader needs.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Basic performs a single HTTP GET and validates the response.
type Basic struct {
	Client    HTTPDoer
	UserAgent string
}

// NewBasic returns a Basic downloader with the configured timeout and
// user agent.
func NewBasic() *Basic {
	return &Basic{
		Client:    &http.Client{Timeout: config.DownloadTimeout()},
		UserAgent: config.UserAgent(),
	}
}

// Download fetches req.URL once. Non-2xx statuses become DownloadErrors:
// 429 is a quota error, 5xx a network(retryable) error, other statuses
// invalid content.
func (b *Basic) Download(ctx context.Context, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &DownloadError{URL: req.URL, Kind: KindInvalidContent, Err: err}
	}
	if b.UserAgent != "" {
		httpReq.Header.Set("User-Agent", b.UserAgent)
	}
	if req.AcceptLanguage != "" {
		httpReq.Header.Set("Accept-Language", req.AcceptLanguage)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return nil, &DownloadError{URL: req.URL, Kind: KindNetwork, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownloadError{URL: req.URL, Kind: KindNetwork, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Response{
			URL:         req.URL,
			StatusCode:  resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &DownloadError{URL: req.URL, Kind: KindQuota, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusUnavailableForLegalReasons:
		return nil, &DownloadError{URL: req.URL, Kind: KindCensored, StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return nil, &DownloadError{URL: req.URL, Kind: KindNetwork, StatusCode: resp.StatusCode}
	default:
		return nil, &DownloadError{URL: req.URL, Kind: KindInvalidContent, StatusCode: resp.StatusCode}
	}
}
