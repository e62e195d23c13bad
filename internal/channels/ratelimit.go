package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked per-sender limiters so an
	// attacker rotating source keys cannot grow the map without bound.
	maxTrackedKeys = 4096

	// webhookRate is the sustained per-key request rate.
	webhookRate = rate.Limit(0.5) // 30 per minute

	// webhookBurst is the instantaneous per-key burst allowance.
	webhookBurst = 10

	// limiterIdleTTL is how long an untouched limiter survives before a
	// prune sweep may evict it.
	limiterIdleTTL = 2 * time.Minute
)

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// WebhookRateLimiter applies a per-sender token bucket to inbound webhook
// traffic. Safe for concurrent use.
type WebhookRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
}

// NewWebhookRateLimiter creates a bounded webhook rate limiter.
func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{limiters: make(map[string]*keyedLimiter)}
}

// Allow reports whether the key may proceed, consuming one token.
// Idle limiters are pruned once the tracked-key cap is reached; if every
// tracked key is still active, arbitrary entries are evicted so the map
// never exceeds maxTrackedKeys.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	entry, ok := r.limiters[key]
	if !ok {
		if len(r.limiters) >= maxTrackedKeys {
			r.pruneLocked(now)
		}
		entry = &keyedLimiter{limiter: rate.NewLimiter(webhookRate, webhookBurst)}
		r.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (r *WebhookRateLimiter) pruneLocked(now time.Time) {
	for k, e := range r.limiters {
		if now.Sub(e.lastSeen) >= limiterIdleTTL {
			delete(r.limiters, k)
		}
	}
	for len(r.limiters) >= maxTrackedKeys {
		for k := range r.limiters {
			delete(r.limiters, k)
			break
		}
	}
}
