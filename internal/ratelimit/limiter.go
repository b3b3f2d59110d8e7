// Package ratelimit provides named rate limiters for external sources.
// Plugins hitting the same source share one limiter so the per-site
// request budget holds across concurrent resolutions.
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter with a name for logging/debugging.
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// New creates a rate limiter allowing requestsPerSecond, with burst equal
// to the rate.
func New(name string, requestsPerSecond int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		name:    name,
	}
}

// NewWithBurst creates a rate limiter with a custom burst size.
func NewWithBurst(name string, requestsPerSecond, burst int) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		name:    name,
	}
}

// Wait blocks until the limiter allows a request, or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.name, err)
	}
	return nil
}

// Allow reports whether a request can proceed without blocking.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Name returns the limiter's name.
func (l *Limiter) Name() string {
	return l.name
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Limiter{}
)

// For returns the process-wide limiter for source, creating it with
// requestsPerSecond on first use. Later calls ignore the rate argument so
// every caller observes the same budget.
func For(source string, requestsPerSecond int) *Limiter {
	registryMu.Lock()
	defer registryMu.Unlock()
	if l, ok := registry[source]; ok {
		return l
	}
	l := New(source, requestsPerSecond)
	registry[source] = l
	return l
}
