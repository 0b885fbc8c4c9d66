// SPDX-License-Identifier: MIT

package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterRejectsAfterLimit(t *testing.T) {
	limiter := New("test", 3, time.Minute)

	for i := 0; i < 3; i++ {
		decision := limiter.Check("1.2.3.4")
		require.True(t, decision.Allowed, "attempt %d", i)
		assert.Equal(t, 3, decision.Metadata.Limit)
		assert.Equal(t, 2-i, decision.Metadata.Remaining)
	}

	decision := limiter.Check("1.2.3.4")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Metadata.Remaining)
	assert.GreaterOrEqual(t, decision.Metadata.ResetEpoch, time.Now().Unix())
}

func TestLimiterIsPerKey(t *testing.T) {
	limiter := New("test", 1, time.Minute)
	require.True(t, limiter.Check("a").Allowed)
	assert.False(t, limiter.Check("a").Allowed)
	assert.True(t, limiter.Check("b").Allowed)
}

func TestLimiterWindowSlides(t *testing.T) {
	limiter := New("test", 1, 20*time.Millisecond)
	require.True(t, limiter.Check("a").Allowed)
	require.False(t, limiter.Check("a").Allowed)

	time.Sleep(40 * time.Millisecond)
	assert.True(t, limiter.Check("a").Allowed)
}

func TestEmptyBucketsEvicted(t *testing.T) {
	limiter := New("test", 5, 10*time.Millisecond)
	limiter.Check("ephemeral")
	time.Sleep(25 * time.Millisecond)

	// Any check triggers the sweep of stale buckets.
	limiter.Check("other")
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	_, found := limiter.buckets["ephemeral"]
	assert.False(t, found)
}
