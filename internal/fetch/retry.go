package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/plahtine/janus/internal/config"
)

const maxBackoff = 10 * time.Second

// Retry wraps a Downloader with exponential backoff on retryable
// failures. Quota and invalid-content errors pass through immediately.
type Retry struct {
	Next     Downloader
	Attempts int
	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

// NewRetry wraps next with the configured attempt count.
func NewRetry(next Downloader) *Retry {
	return &Retry{Next: next, Attempts: config.DownloadRetries(), sleep: time.Sleep}
}

func (r *Retry) Download(ctx context.Context, req Request) (*Response, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			slog.Debug("retrying download", "url", req.URL, "attempt", attempt+1, "delay", delay)
			sleep(delay)
		}
		resp, err := r.Next.Download(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// isRetryable reports whether the error is a transient transport or
// server failure.
func isRetryable(err error) bool {
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return dlErr.Retryable()
	}
	return false
}

// backoffDelay doubles per attempt starting at one second, capped at
// maxBackoff.
func backoffDelay(attempt int) time.Duration {
	delay := time.Second << (attempt - 1)
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
