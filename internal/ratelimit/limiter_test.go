package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAllow_BurstThenThrottle(t *testing.T) {
	l := NewLimiter(1, 3, zap.NewNop())

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow(1), "burst attempt %d", i)
	}
	assert.False(t, l.Allow(1), "burst exhausted")

	// another user has an independent bucket
	assert.True(t, l.Allow(2))
}

func TestPrune(t *testing.T) {
	l := NewLimiter(1, 1, zap.NewNop())
	l.Allow(1)
	l.Allow(2)

	l.Prune(time.Hour)
	assert.Len(t, l.buckets, 2)

	l.Prune(0)
	assert.Empty(t, l.buckets)
}
