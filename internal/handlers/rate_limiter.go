package handlers

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/artisan-market/api/internal/platform/httpx"
)

// clientLimiter keeps one token bucket per client address. Each bucket holds limit tokens
// and refills fully over window. It protects public lookups such as coupon previews from
// code enumeration.
type clientLimiter struct {
	limit  int
	every  rate.Limit
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastPrune time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit int, window time.Duration, clock func() time.Time) *clientLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &clientLimiter{
		limit:   limit,
		every:   rate.Every(window / time.Duration(limit)),
		window:  window,
		clock:   clock,
		clients: make(map[string]*clientBucket),
	}
}

// allow takes a token for key and returns how long the client must wait when none is left.
func (l *clientLimiter) allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.clients[key]
	if !ok {
		l.pruneLocked(now)
		bucket = &clientBucket{limiter: rate.NewLimiter(l.every, l.limit)}
		l.clients[key] = bucket
	}
	bucket.lastSeen = now

	reservation := bucket.limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// pruneLocked drops buckets idle for a whole window; they would be full again anyway.
func (l *clientLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	l.lastPrune = now
	for key, bucket := range l.clients {
		if now.Sub(bucket.lastSeen) >= l.window {
			delete(l.clients, key)
		}
	}
}

// middleware rejects requests over the limit with 429 and a Retry-After header.
func (l *clientLimiter) middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := l.allow(clientKey(r))
		if !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests).WithRetryAfter(wait))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
