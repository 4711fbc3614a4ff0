package room

import (
	"testing"
	"time"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	limiter := NewRateLimiter(100)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return clock }

	for i := 0; i < 100; i++ {
		if !limiter.Allow("c1") {
			t.Fatalf("op %d should be within the limit", i+1)
		}
	}
	if limiter.Allow("c1") {
		t.Fatal("101st op in the same second must be rejected")
	}

	// A rejected op does not consume the window of another client.
	if !limiter.Allow("c2") {
		t.Fatal("limit must be per client")
	}

	// The next window admits again.
	clock = clock.Add(time.Second)
	if !limiter.Allow("c1") {
		t.Fatal("new window should reset the counter")
	}
}
