package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func (cl *clientLimiters) get(clientIP string, r rate.Limit, burst int) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	limiter, exists := cl.limiters[clientIP]
	if !exists {
		limiter = rate.NewLimiter(r, burst)
		cl.limiters[clientIP] = limiter
	}
	return limiter
}

func RateLimit(requestsPerMinute int, burst int) gin.HandlerFunc {
	clients := &clientLimiters{limiters: make(map[string]*rate.Limiter)}
	limit := rate.Every(time.Minute / time.Duration(requestsPerMinute))

	return func(c *gin.Context) {
		limiter := clients.get(c.ClientIP(), limit, burst)

		if !limiter.Allow() {
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerMinute))
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func AuthRateLimit() gin.HandlerFunc {
	return RateLimit(5, 10) // 5 requests per minute with burst of 10
}

func APIRateLimit() gin.HandlerFunc {
	return RateLimit(100, 200) // 100 requests per minute with burst of 200
}
