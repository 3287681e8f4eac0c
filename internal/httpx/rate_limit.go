package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter answers whether a keyed caller may proceed within a fixed
// window. Implementations must be safe for concurrent use.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// memoryRateLimiter is the single-process fallback used when no Redis
// limiter is configured. Stale windows are pruned inline during Allow,
// so there is no background goroutine to stop.
type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*rateWindow
	lastPrune time.Time
}

type rateWindow struct {
	count int
	until time.Time
}

const memoryPruneEvery = 5 * time.Minute

func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{
		windows:   make(map[string]*rateWindow),
		lastPrune: time.Now(),
	}
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.maybePrune(now)

	w := rl.windows[key]
	if w == nil || now.After(w.until) {
		w = &rateWindow{until: now.Add(window)}
		rl.windows[key] = w
	}
	if w.count < limit {
		w.count++
		return rateDecision{allowed: true, count: w.count, windowEnd: w.until}
	}
	return rateDecision{allowed: false, count: w.count, windowEnd: w.until}
}

func (rl *memoryRateLimiter) maybePrune(now time.Time) {
	if now.Sub(rl.lastPrune) < memoryPruneEvery {
		return
	}
	rl.lastPrune = now
	for key, w := range rl.windows {
		if now.After(w.until) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {}

func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	if limit <= 0 {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if r.limiter == nil {
			next(w, req)
			return
		}
		key := keyFn(req)
		if key == "" {
			key = rateLimitKeyIP(req)
		}
		decision := r.limiter.Allow(key, limit, window)
		applyRateHeaders(w.Header(), limit, decision)
		if decision.allowed {
			next(w, req)
			return
		}
		label := route
		if label == "" {
			label = req.URL.Path
		}
		recordRateLimitHit(label, rateMetricKey(key))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
}

func applyRateHeaders(h http.Header, limit int, decision rateDecision) {
	remaining := max(limit-decision.count, 0)
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// rateLimitKeySession buckets by session so one client cannot starve
// another behind the same proxy.
func rateLimitKeySession(req *http.Request) string {
	if id := strings.TrimSpace(req.Header.Get(sessionHeader)); id != "" {
		return "session:" + id
	}
	return ""
}

func rateLimitKeyIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

// rateMetricKey collapses a bucket key to its kind so metric labels stay
// bounded.
func rateMetricKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if kind, _, ok := strings.Cut(key, ":"); ok && kind != "" {
		return kind
	}
	return key
}
