package ws

import (
	"sync"

	"github.com/dkeye/relayhub/internal/app"
	"golang.org/x/time/rate"
)

// SignalRateLimiter bounds control messages per session. Binary frames are
// never limited here.
type SignalRateLimiter struct {
	mu       sync.Mutex
	limiters map[app.SessionID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewSignalRateLimiter allows perSecond messages with the given burst.
// perSecond <= 0 disables limiting.
func NewSignalRateLimiter(perSecond float64, burst int) *SignalRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &SignalRateLimiter{
		limiters: make(map[app.SessionID]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (rl *SignalRateLimiter) Allow(sid app.SessionID) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	l, ok := rl.limiters[sid]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[sid] = l
	}
	rl.mu.Unlock()
	return l.Allow()
}

// Forget drops the state of a finished session.
func (rl *SignalRateLimiter) Forget(sid app.SessionID) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.limiters, sid)
	rl.mu.Unlock()
}

func (rl *SignalRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
