package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleEvict is how long an IP bucket may sit unused before the next
// Allow call is permitted to drop it.
const idleEvict = 15 * time.Minute

// LoginLimiter throttles login attempts per client IP with a token
// bucket per address. Buckets for idle addresses are evicted lazily, so
// the limiter needs no background goroutine.
type LoginLimiter struct {
	mu      sync.Mutex
	perIP   map[string]*ipBucket
	limit   rate.Limit
	burst   int
	maxSize int
}

type ipBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLoginLimiter allows perMinute sustained attempts per IP with the
// given burst. Non-positive arguments fall back to 10 and 5.
func NewLoginLimiter(perMinute, burst int) *LoginLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 5
	}
	return &LoginLimiter{
		perIP:   make(map[string]*ipBucket),
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		maxSize: 4096,
	}
}

// Allow reports whether another login attempt from ip is permitted.
func (l *LoginLimiter) Allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.perIP) >= l.maxSize {
		l.evictIdle(now)
	}
	b, ok := l.perIP[ip]
	if !ok {
		b = &ipBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.perIP[ip] = b
	}
	b.lastSeen = now
	return b.lim.Allow()
}

// evictIdle drops buckets that have not been touched within idleEvict.
// Callers must hold mu.
func (l *LoginLimiter) evictIdle(now time.Time) {
	for ip, b := range l.perIP {
		if now.Sub(b.lastSeen) > idleEvict {
			delete(l.perIP, ip)
		}
	}
}

// ClientIP extracts the real client address, looking through common
// proxy headers before falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
