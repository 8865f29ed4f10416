package rate_test

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/robalyx/chatrank/internal/discord/rate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterFirstSlotIsImmediate(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	limiter := rate.New(clock, time.Second, 0)

	require.NoError(t, limiter.Wait(t.Context()))
}

func TestLimiterWaitsForInterval(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	clock := quartz.NewMock(t)
	limiter := rate.New(clock, time.Second, 0)
	require.NoError(t, limiter.Wait(ctx))

	trap := clock.Trap().NewTimer("rate", "wait")
	defer trap.Close()

	done := make(chan error, 1)
	go func() { done <- limiter.Wait(ctx) }()

	call := trap.MustWait(ctx)
	assert.Equal(t, time.Second, call.Duration)
	call.MustRelease(ctx)

	select {
	case err := <-done:
		t.Fatalf("wait returned before the interval elapsed: %v", err)
	default:
	}

	clock.Advance(time.Second).MustWait(ctx)
	require.NoError(t, <-done)
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	limiter := rate.New(clock, time.Second, 0)
	require.NoError(t, limiter.Wait(t.Context()))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	require.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}
