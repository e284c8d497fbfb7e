package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowEvictsOldRequests(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sw := NewSlidingWindow(2, time.Second)
	sw.now = func() time.Time { return now }

	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())
	assert.Equal(t, 0, sw.Remaining())

	now = now.Add(1001 * time.Millisecond)
	assert.Equal(t, 2, sw.Remaining())
	assert.True(t, sw.Allow())
}

func TestSlidingWindowWaitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.NoError(t, sw.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sw.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerFallbackAndOverride(t *testing.T) {
	m := NewGateManager()
	assert.Equal(t, 10, m.Limiter(EndpointSpotOrderPost).Remaining())
	assert.Equal(t, 200, m.Limiter("spot:unknown").Remaining())

	m.Set(EndpointSpotOrderPost, NewSlidingWindow(1, time.Hour))
	require.NoError(t, m.Wait(context.Background(), EndpointSpotOrderPost))
	assert.False(t, m.Limiter(EndpointSpotOrderPost).Allow())

	var nilManager *Manager
	assert.NoError(t, nilManager.Wait(context.Background(), EndpointSpotOrderPost))
}
