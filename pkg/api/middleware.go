package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kilnproject/kiln/pkg/log"
	"github.com/kilnproject/kiln/pkg/metrics"
	"golang.org/x/time/rate"
)

// requestLogger logs one line per request with method, path, status
// and duration
func requestLogger() gin.HandlerFunc {
	logger := log.WithComponent("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	}
}

// requestMetrics records Prometheus counters for every request
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := metrics.NewTimer()
		c.Next()

		metrics.APIRequestsTotal.WithLabelValues(
			c.Request.Method,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, c.Request.Method)
	}
}

// sourceLimiter hands out one token-bucket limiter per source address
type sourceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// newSourceLimiter allows perMinute requests per minute per source
func newSourceLimiter(perMinute int) *sourceLimiter {
	return &sourceLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

func (s *sourceLimiter) limiter(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[source]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = l
	}
	return l
}

// Middleware rejects requests over the per-source budget with 429
func (s *sourceLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter(c.ClientIP()).Allow() {
			metrics.RateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
