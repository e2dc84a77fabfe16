package httpapi

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	PerMinute int
	Burst     int
}

// RateLimiter caps request volume per client IP. This is a coarse abuse
// guard in front of the whole API; the submission cooldown is separate.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	stop     chan struct{}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	perMinute := cfg.PerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	l := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Close stops the janitor goroutine.
func (l *RateLimiter) Close() {
	close(l.stop)
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter.Allow()
}

func (l *RateLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-3 * time.Minute)
			for ip, v := range l.visitors {
				if v.lastSeen.Before(cutoff) {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}
