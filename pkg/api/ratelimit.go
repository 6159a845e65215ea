package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorTTL      = 10 * time.Minute
	visitorSweepGap = 10 * time.Minute
)

// IPRateLimiter provides per-IP rate limiting middleware.
type IPRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a limiter allowing requestsPerMinute per client IP,
// with a burst of the same size. Stale entries are swept until ctx is done.
func NewIPRateLimiter(ctx context.Context, requestsPerMinute int) *IPRateLimiter {
	l := &IPRateLimiter{
		visitors: make(map[string]*visitor, 64),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
	}

	go l.sweep(ctx)

	return l
}

func (l *IPRateLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[ip] = v
	}

	v.lastSeen = time.Now()

	return v.limiter
}

// Middleware enforces the limit keyed on RemoteAddr, which chi's RealIP
// middleware rewrites from proxy headers.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.limiter(r.RemoteAddr)

		if !lim.Allow() {
			wait := lim.Reserve()
			retry := int(math.Ceil(wait.Delay().Seconds()))
			wait.Cancel()

			if retry < 1 {
				retry = 1
			}

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.WriteHeader(http.StatusTooManyRequests)
			//nolint:errcheck // Response writing errors are not recoverable
			w.Write([]byte(`{"error":"rate limit exceeded"}`))

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (l *IPRateLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(visitorSweepGap)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(time.Now().Add(-visitorTTL))
		}
	}
}

// evict removes visitors not seen since cutoff.
func (l *IPRateLimiter) evict(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, ip)
		}
	}
}
