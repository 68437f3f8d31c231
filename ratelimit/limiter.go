// Package ratelimit throttles deliveries per webhook config.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// Defaults for New.
const (
	DefaultSize = 4096
	DefaultIdle = 10 * time.Minute
)

// Limiter keeps one token bucket per key. Buckets for keys that stay idle
// longer than the configured TTL are evicted and start full again.
type Limiter struct {
	mu      sync.Mutex
	buckets *expirable.LRU[string, *bucket]
}

type bucket struct {
	perSecond int
	lim       *rate.Limiter
}

// New creates a limiter tracking up to size keys.
func New(size int, idle time.Duration) *Limiter {
	if size <= 0 {
		size = DefaultSize
	}
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Limiter{
		buckets: expirable.NewLRU[string, *bucket](size, nil, idle),
	}
}

// Allow reports whether key may proceed now. perSecond <= 0 means unlimited.
func (l *Limiter) Allow(key string, perSecond int) bool {
	if perSecond <= 0 {
		return true
	}
	return l.get(key, perSecond).Allow()
}

// Wait blocks until key may proceed or ctx is done. perSecond <= 0 returns
// immediately.
func (l *Limiter) Wait(ctx context.Context, key string, perSecond int) error {
	if perSecond <= 0 {
		return nil
	}
	return l.get(key, perSecond).Wait(ctx)
}

// Reset drops the bucket for key.
func (l *Limiter) Reset(key string) {
	l.buckets.Remove(key)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.buckets.Len()
}

func (l *Limiter) get(key string, perSecond int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets.Get(key); ok && b.perSecond == perSecond {
		return b.lim
	}
	b := &bucket{
		perSecond: perSecond,
		lim:       rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
	l.buckets.Add(key, b)
	return b.lim
}
