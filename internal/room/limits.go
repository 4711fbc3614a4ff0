package room

import (
	"sync"
	"time"
)

// Limits 방별 입력 한도
type Limits struct {
	MaxOpPayloadBytes     int
	MaxOpsPerSecPerClient int
	MaxObjectsPerBoard    int
	MaxBatchSize          int
}

func DefaultLimits() Limits {
	return Limits{
		MaxOpPayloadBytes:     1 << 20,
		MaxOpsPerSecPerClient: 100,
		MaxObjectsPerBoard:    500,
		MaxBatchSize:          50,
	}
}

type rateWindow struct {
	start time.Time
	count int
}

// RateLimiter counts ops per client in fixed one-second windows. It is not a
// sliding window: the counter resets when a new window starts.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	windows map[string]*rateWindow
	now     func() time.Time
}

func NewRateLimiter(limit int) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		windows: make(map[string]*rateWindow),
		now:     time.Now,
	}
}

// Allow reports whether clientID may submit one more op in the current
// window and, if so, counts it. The caller drops rejected ops one at a time,
// never a whole batch.
func (l *RateLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[clientID]
	if !ok || now.Sub(w.start) >= time.Second {
		w = &rateWindow{start: now}
		l.windows[clientID] = w
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// Forget drops the window for a departed client.
func (l *RateLimiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, clientID)
}
