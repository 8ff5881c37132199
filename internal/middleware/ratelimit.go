package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/paiban/carecover/pkg/errors"
)

// limiterEntry 调用方的令牌桶
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按调用方限流，未识别身份时按客户端IP
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	if burst < requestsPerSecond {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	rl.evictLocked(now)
	return e.limiter.AllowN(now, 1)
}

// evictLocked 清理长时间未出现的调用方
func (rl *RateLimiter) evictLocked(now time.Time) {
	if len(rl.limiters) < 1024 {
		return
	}
	for k, e := range rl.limiters {
		if now.Sub(e.lastSeen) > rl.idle {
			delete(rl.limiters, k)
		}
	}
}

// Middleware 限流中间件，需放在 Caller 之后
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientIP(r)
		if c, ok := CallerFrom(r.Context()); ok {
			key = "caller:" + c.ID
		}
		if !rl.Allow(key) {
			w.Header().Set("Retry-After", "1")
			writeError(w, apperrors.New(apperrors.CodeRateLimited, "请求过于频繁，请稍后重试"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
