// Package ratelimit provides per-user token-bucket rate limiting for human
// stroke messages.
package ratelimit

import (
	"sync"
	"time"
)

// maxKeys bounds the bucket map so abandoned users cannot grow it forever.
const maxKeys = 10000

// Bucket implements token-bucket limiting with a per-minute refill rate.
// The burst size equals the per-minute allowance, so a client may submit a
// full minute's quota at once but no more.
type Bucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	perSecond  float64
	lastRefill time.Time
}

// NewBucket creates a bucket allowing perMinute events per minute.
func NewBucket(perMinute int) *Bucket {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &Bucket{
		tokens:     float64(perMinute),
		maxTokens:  float64(perMinute),
		perSecond:  float64(perMinute) / 60.0,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(time.Now())
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// refill adds tokens based on elapsed time. Caller holds the lock.
func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now
	b.tokens += elapsed * b.perSecond
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// Limiter manages per-user buckets.
type Limiter struct {
	mu        sync.RWMutex
	buckets   map[string]*Bucket
	perMinute int
}

// NewLimiter creates a limiter allowing perMinute events per minute per key.
// A non-positive perMinute disables limiting.
func NewLimiter(perMinute int) *Limiter {
	return &Limiter{
		buckets:   make(map[string]*Bucket),
		perMinute: perMinute,
	}
}

// Allow checks whether an event for the given key should be admitted.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.perMinute <= 0 {
		return true
	}
	return l.bucket(key).Allow()
}

// Reset clears the bucket for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) bucket(key string) *Bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= maxKeys {
		l.prune()
	}
	b = NewBucket(l.perMinute)
	l.buckets[key] = b
	return b
}

// prune drops buckets that are nearly full, i.e. keys idle long enough to
// have refilled. Caller holds the write lock.
func (l *Limiter) prune() {
	for key, b := range l.buckets {
		b.mu.Lock()
		b.refill(time.Now())
		idle := b.tokens >= b.maxTokens*0.9
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
		}
	}
}
