// Package middleware provides HTTP middleware for rate limiting based on client IP addresses.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTimeout is how long a client may go unseen before its bucket is
// dropped. An idle bucket is full again anyway, so eviction does not grant
// extra requests.
const idleTimeout = 5 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter rate limits requests per client IP. Buckets for clients which
// have gone idle are swept out so the map does not grow with every IP ever
// seen.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*client

	rate  rate.Limit
	burst int

	lastSweep time.Time
}

// New creates a new IPLimiter allowing r requests per second with the given
// burst per client IP.
func New(r rate.Limit, b int) *IPLimiter {
	return &IPLimiter{
		clients:   make(map[string]*client),
		rate:      r,
		burst:     b,
		lastSweep: time.Now(),
	}
}

// allow reports whether the client identified by ip may proceed at the given
// time, creating its bucket on first sight.
func (l *IPLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= idleTimeout {
		l.sweep(now)
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now

	return c.limiter.Allow()
}

// sweep drops clients not seen since the idle timeout. Callers must hold mu.
func (l *IPLimiter) sweep(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) >= idleTimeout {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}

// RateLimitMiddleware is an HTTP middleware that applies rate limiting based on the client's IP address.
// It checks the rate limit for the IP address and allows or denies the request accordingly.
func (l *IPLimiter) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Unable to determine IP", http.StatusBadRequest)
			return
		}
		if !l.allow(ip, time.Now()) {
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
