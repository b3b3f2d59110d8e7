package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitAllowsWithinRate(t *testing.T) {
	l := New("test", 100)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx))
	assert.Equal(t, "test", l.Name())
}

func TestWaitReturnsOnCancelledContext(t *testing.T) {
	l := NewWithBurst("slow", 1, 1)
	l.Allow() // drain the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "slow")
}

func TestNilLimiterIsNoop(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
	assert.True(t, l.Allow())
}

func TestForSharesLimiterPerSource(t *testing.T) {
	a := For("musicbrainz.org", 1)
	b := For("musicbrainz.org", 500)
	assert.Same(t, a, b, "same source must share one limiter")

	c := For("openlibrary.org", 1)
	assert.NotSame(t, a, c)
}
