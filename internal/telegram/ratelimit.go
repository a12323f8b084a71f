package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneEvery = 256
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserLimiter keeps one token bucket per Telegram user so duplicate
// deliveries and button mashing are dropped before they reach the store.
type UserLimiter struct {
	mu       sync.Mutex
	limiters map[int64]*limiterEntry
	limit    rate.Limit
	burst    int
	calls    int
	now      func() time.Time
}

// NewUserLimiter allows perMinute events per user with the given burst. A
// non-positive perMinute disables limiting.
func NewUserLimiter(perMinute, burst int) *UserLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}

	return &UserLimiter{
		limiters: make(map[int64]*limiterEntry),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether userID may proceed now.
func (l *UserLimiter) Allow(userID int64) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	l.calls++
	if l.calls%limiterPruneEvery == 0 {
		l.prune(now)
	}

	entry, ok := l.limiters[userID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = entry
	}
	entry.lastSeen = now

	return entry.limiter.AllowN(now, 1)
}

// prune drops buckets idle long enough to have refilled completely.
func (l *UserLimiter) prune(now time.Time) {
	for userID, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.limiters, userID)
		}
	}
}

func (l *UserLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
