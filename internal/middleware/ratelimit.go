package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rustygpt/rustygpt/internal/auth"
	apierrors "github.com/rustygpt/rustygpt/internal/errors"
	"github.com/rustygpt/rustygpt/internal/metrics"
)

// RateLimiter keeps independent token buckets for read and write traffic,
// keyed per authenticated user (falling back to client IP before auth).
type RateLimiter struct {
	mu     sync.Mutex
	read   map[string]*limiterEntry
	write  map[string]*limiterEntry
	readL  rate.Limit
	readB  int
	writeL rate.Limit
	writeB int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(readRPS float64, readBurst int, writeRPS float64, writeBurst int) *RateLimiter {
	rl := &RateLimiter{
		read:   make(map[string]*limiterEntry),
		write:  make(map[string]*limiterEntry),
		readL:  rate.Limit(readRPS),
		readB:  readBurst,
		writeL: rate.Limit(writeRPS),
		writeB: writeBurst,
	}
	go rl.evictLoop()
	return rl
}

// Handler classifies by method: safe methods draw from the read bucket,
// everything else from the write bucket.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)
		bucket := "write"
		var lim *rate.Limiter
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			bucket = "read"
			lim = rl.get(rl.read, key, rl.readL, rl.readB)
		default:
			lim = rl.get(rl.write, key, rl.writeL, rl.writeB)
		}

		if !lim.Allow() {
			metrics.RateLimited.WithLabelValues(bucket).Inc()
			apierrors.AbortWithRateLimit(c, bucket)
			return
		}
		c.Next()
	}
}

func clientKey(c *gin.Context) string {
	// Session cookie identifies the principal well enough for limiting and
	// avoids a DB hit in the middleware chain.
	if cookie, err := c.Cookie(auth.SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	return c.ClientIP()
}

func (rl *RateLimiter) get(m map[string]*limiterEntry, key string, l rate.Limit, burst int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e, ok := m[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l, burst)}
		m[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		rl.mu.Lock()
		for _, m := range []map[string]*limiterEntry{rl.read, rl.write} {
			for k, e := range m {
				if e.lastSeen.Before(cutoff) {
					delete(m, k)
				}
			}
		}
		rl.mu.Unlock()
	}
}
