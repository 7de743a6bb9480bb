package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownServicePassesThrough(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Wait(context.Background(), "anything"))
	assert.True(t, r.Allow("anything"))
}

func TestBurstThenThrottle(t *testing.T) {
	r := NewRegistry(map[string]Limit{
		ServiceChat: {RPS: 1, Burst: 2},
	})

	assert.True(t, r.Allow(ServiceChat))
	assert.True(t, r.Allow(ServiceChat))
	assert.False(t, r.Allow(ServiceChat))
}

func TestWaitHonorsContext(t *testing.T) {
	r := NewRegistry(map[string]Limit{
		ServiceEmbedding: {RPS: 0.001, Burst: 1},
	})
	require.NoError(t, r.Wait(context.Background(), ServiceEmbedding))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Wait(ctx, ServiceEmbedding)
	require.Error(t, err)
}

func TestZeroRPSDisables(t *testing.T) {
	r := NewRegistry(map[string]Limit{
		ServiceVLM: {RPS: 0},
	})
	assert.True(t, r.Allow(ServiceVLM))
}

func TestSetReplacesLimit(t *testing.T) {
	r := NewRegistry(nil)
	r.Set(ServicePartition, Limit{RPS: 1, Burst: 1})
	assert.True(t, r.Allow(ServicePartition))
	assert.False(t, r.Allow(ServicePartition))

	r.Set(ServicePartition, Limit{RPS: 0})
	assert.True(t, r.Allow(ServicePartition))
}

func TestDefaultLimitsCoverServices(t *testing.T) {
	limits := DefaultLimits()
	for _, s := range []string{ServicePartition, ServiceVLM, ServiceEmbedding, ServiceChat} {
		_, ok := limits[s]
		assert.True(t, ok, s)
	}
}
