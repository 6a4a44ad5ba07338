package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneAbove is the table size at which idle client limiters are dropped.
const pruneAbove = 1024

// ClientLimiter rate limits requests per client address.
type ClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewClientLimiter allows perMinute requests per client with the given
// burst. perMinute <= 0 returns nil, which allows everything.
func NewClientLimiter(perMinute float64, burst int) *ClientLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perMinute / time.Minute.Seconds()),
		burst:    burst,
	}
}

func (cl *ClientLimiter) Allow(client string) bool {
	if cl == nil {
		return true
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	l, ok := cl.limiters[client]
	if !ok {
		if len(cl.limiters) >= pruneAbove {
			cl.prune()
		}
		l = rate.NewLimiter(cl.limit, cl.burst)
		cl.limiters[client] = l
	}
	return l.Allow()
}

// prune forgets clients whose bucket has refilled; they start fresh anyway.
func (cl *ClientLimiter) prune() {
	for k, l := range cl.limiters {
		if l.Tokens() >= float64(cl.burst) {
			delete(cl.limiters, k)
		}
	}
}

func (cl *ClientLimiter) size() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.limiters)
}
