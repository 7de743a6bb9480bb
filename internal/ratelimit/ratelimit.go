// Package ratelimit provides per-service token buckets shared by every
// concurrent pipeline so upstream services see a bounded request rate
// regardless of worker count.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limit configures one service's bucket.
type Limit struct {
	// RPS is the sustained requests per second. Zero or negative
	// disables limiting for the service.
	RPS float64 `yaml:"rps" json:"rps"`
	// Burst is the bucket size. Defaults to 1 when unset.
	Burst int `yaml:"burst" json:"burst"`
}

// Registry holds one limiter per service name. Unknown services pass
// through unlimited.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRegistry builds a registry from per-service limits.
func NewRegistry(limits map[string]Limit) *Registry {
	r := &Registry{limiters: make(map[string]*rate.Limiter, len(limits))}
	for service, l := range limits {
		if l.RPS <= 0 {
			continue
		}
		burst := l.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiters[service] = rate.NewLimiter(rate.Limit(l.RPS), burst)
	}
	return r
}

// Wait blocks until the service's bucket grants a token or the context
// is done.
func (r *Registry) Wait(ctx context.Context, service string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[service]
	r.mu.RUnlock()
	if !ok {
		return ctx.Err()
	}
	return limiter.Wait(ctx)
}

// Allow reports whether a token is available right now without blocking.
func (r *Registry) Allow(service string) bool {
	r.mu.RLock()
	limiter, ok := r.limiters[service]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// Set installs or replaces a service's limit at runtime.
func (r *Registry) Set(service string, l Limit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l.RPS <= 0 {
		delete(r.limiters, service)
		return
	}
	burst := l.Burst
	if burst < 1 {
		burst = 1
	}
	r.limiters[service] = rate.NewLimiter(rate.Limit(l.RPS), burst)
}

// Service names used across the pipelines.
const (
	ServicePartition = "partition"
	ServiceVLM       = "vlm"
	ServiceEmbedding = "embedding"
	ServiceChat      = "chat"
)

// DefaultLimits returns conservative buckets for the four upstream
// services.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		ServicePartition: {RPS: 0.5, Burst: 1},
		ServiceVLM:       {RPS: 2, Burst: 4},
		ServiceEmbedding: {RPS: 5, Burst: 10},
		ServiceChat:      {RPS: 2, Burst: 4},
	}
}
