package channels

import (
	"fmt"
	"testing"
)

func TestWebhookRateLimiterAllowsBurstThenThrottles(t *testing.T) {
	r := NewWebhookRateLimiter()

	for i := 0; i < webhookBurst; i++ {
		if !r.Allow("sender-1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if r.Allow("sender-1") {
		t.Fatal("request beyond burst should be throttled")
	}
}

func TestWebhookRateLimiterIsolatesKeys(t *testing.T) {
	r := NewWebhookRateLimiter()

	for i := 0; i < webhookBurst; i++ {
		r.Allow("noisy")
	}
	if r.Allow("noisy") {
		t.Fatal("noisy sender should be throttled")
	}
	if !r.Allow("quiet") {
		t.Fatal("an unrelated sender must not be affected")
	}
}

func TestWebhookRateLimiterBoundsTrackedKeys(t *testing.T) {
	r := NewWebhookRateLimiter()

	for i := 0; i < maxTrackedKeys+100; i++ {
		r.Allow(fmt.Sprintf("key-%d", i))
	}
	if len(r.limiters) > maxTrackedKeys {
		t.Fatalf("tracked keys %d exceeds cap %d", len(r.limiters), maxTrackedKeys)
	}
}
