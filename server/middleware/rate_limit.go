package middleware

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter keeps a token bucket per client IP and rate profile.
type RateLimiter struct {
	clients    map[string]*clientLimiter
	mutex      sync.Mutex
	cleanup    *time.Ticker
	stopCh     chan struct{}
	stopOnce   sync.Once
	logger     *zap.Logger
	defaultRPS int
	burst      int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(defaultRPS, burst int, logger *zap.Logger) *RateLimiter {
	rl := &RateLimiter{
		clients:    make(map[string]*clientLimiter),
		defaultRPS: defaultRPS,
		burst:      burst,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}

	rl.cleanup = time.NewTicker(5 * time.Minute)
	go rl.cleanupExpiredClients()

	return rl
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return rl.RateLimitWithConfig(rl.defaultRPS, rl.burst)
}

// RateLimitWithConfig applies a separate budget, for routes backed by
// slower or metered services.
func (rl *RateLimiter) RateLimitWithConfig(rps, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		limiter := rl.limiterFor(clientIP, rps, burst)

		if !limiter.Allow() {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client_ip", clientIP),
				zap.String("path", c.Request.URL.Path),
				zap.Int("rps", rps))

			retryAfter := int(math.Ceil(1 / float64(rps)))
			c.Header("Retry-After", fmt.Sprint(retryAfter))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) limiterFor(clientIP string, rps, burst int) *rate.Limiter {
	key := fmt.Sprintf("%s|%d|%d", clientIP, rps, burst)

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	entry, exists := rl.clients[key]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
		rl.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *RateLimiter) cleanupExpiredClients() {
	for {
		select {
		case <-rl.cleanup.C:
			rl.mutex.Lock()
			now := time.Now()
			for key, entry := range rl.clients {
				if now.Sub(entry.lastSeen) > 10*time.Minute {
					delete(rl.clients, key)
				}
			}
			rl.mutex.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) GetGlobalStats() map[string]interface{} {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return map[string]interface{}{
		"active_clients": len(rl.clients),
		"default_rps":    rl.defaultRPS,
		"burst_capacity": rl.burst,
	}
}

func (rl *RateLimiter) Shutdown() {
	rl.stopOnce.Do(func() {
		rl.cleanup.Stop()
		close(rl.stopCh)
	})
}
