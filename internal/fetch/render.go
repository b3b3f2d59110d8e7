package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/plahtine/janus/internal/config"
)

const defaultRenderTimeout = 60 * time.Second

// Rendered downloads pages through a headless browser so that
// JavaScript-populated content (e.g. embedded JSON payloads) is present
// in the returned HTML. It is far more expensive than Basic and should
// only be used when a plain download came back without the expected
// payload.
type Rendered struct {
	UserAgent string
	Timeout   time.Duration
	// ExtraOpts is appended to the default allocator options, mainly for
	// tests and debugging.
	ExtraOpts []chromedp.ExecAllocatorOption
}

// NewRendered returns a rendering downloader with the configured user
// agent.
func NewRendered() *Rendered {
	return &Rendered{
		UserAgent: config.UserAgent(),
		Timeout:   defaultRenderTimeout,
	}
}

func (r *Rendered) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	)
	if r.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.UserAgent))
	}
	return append(opts, r.ExtraOpts...)
}

// Download navigates to req.URL, waits for req.WaitSelector (or body)
// to become visible and returns the rendered document.
func (r *Rendered) Download(ctx context.Context, req Request) (*Response, error) {
	timeout := r.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	selector := req.WaitSelector
	if selector == "" {
		selector = "body"
	}

	actions := []chromedp.Action{}
	if req.AcceptLanguage != "" {
		actions = append(actions, network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": req.AcceptLanguage,
		}))
	}

	var rendered string
	actions = append(actions,
		chromedp.Navigate(req.URL),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.OuterHTML("html", &rendered, chromedp.ByQuery),
	)

	slog.Debug("rendering page", "url", req.URL, "selector", selector)
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, &DownloadError{URL: req.URL, Kind: KindNetwork, Err: err}
	}

	return &Response{
		URL:         req.URL,
		StatusCode:  200,
		ContentType: "text/html",
		Body:        []byte(rendered),
	}, nil
}
