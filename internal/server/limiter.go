package server

import (
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// sourceLimiter throttles webhook deliveries per carrier source. A nil
// limiter allows everything. Sources form a closed set, so limiters are
// never evicted.
type sourceLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newSourceLimiter(rps float64, burst int) *sourceLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &sourceLimiter{rps: rate.Limit(rps), burst: burst, limiters: map[string]*rate.Limiter{}}
}

func (l *sourceLimiter) allow(source string) bool {
	if l == nil {
		return true
	}
	key := strings.ToLower(strings.TrimSpace(source))
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
