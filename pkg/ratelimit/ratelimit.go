// Package ratelimit provides global and per-client token bucket limits for
// the HTTP server.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"roundicon/pkg/logger"
)

const (
	cleanupInterval = time.Minute
	idleTimeout     = 3 * time.Minute
)

type tokenBucket struct {
	mu       sync.Mutex
	rate     float64 // tokens per second
	capacity float64
	tokens   float64
	last     time.Time
}

func newTokenBucket(rate, burst int) *tokenBucket {
	if burst <= 0 {
		burst = max(rate, 1)
	}
	return &tokenBucket{
		rate:     float64(rate),
		capacity: float64(burst),
		tokens:   float64(burst),
		last:     time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens = min(b.capacity, b.tokens+now.Sub(b.last).Seconds()*b.rate)
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

type client struct {
	bucket   *tokenBucket
	lastSeen time.Time
}

// Limiter applies a global rate and a per-IP rate. A zero rate disables
// that limit.
type Limiter struct {
	global *tokenBucket

	ipRate, ipBurst int
	mu              sync.Mutex
	clients         map[string]*client

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter returns nil when both rates are zero, so callers can skip
// limiting entirely.
func NewLimiter(globalRate, globalBurst, ipRate, ipBurst int) *Limiter {
	if globalRate <= 0 && ipRate <= 0 {
		return nil
	}

	l := &Limiter{
		ipRate:  ipRate,
		ipBurst: ipBurst,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
	if globalRate > 0 {
		l.global = newTokenBucket(globalRate, globalBurst)
	}
	go l.cleanup()
	return l
}

// Allow reports whether a request from ip may proceed.
func (l *Limiter) Allow(ip string) bool {
	if l.ipRate > 0 && !l.clientBucket(ip).allow() {
		return false
	}
	if l.global != nil && !l.global.allow() {
		return false
	}
	return true
}

func (l *Limiter) clientBucket(ip string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[ip]
	if !ok {
		c = &client{bucket: newTokenBucket(l.ipRate, l.ipBurst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	return c.bucket
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if now.Sub(c.lastSeen) > idleTimeout {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop ends the background cleanup. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Middleware rejects requests over the limit with 429. A nil limiter passes
// everything through.
func Middleware(l *Limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.Allow(ip) {
			logger.Debug("Rate limited %s %s", ip, r.URL.Path)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
