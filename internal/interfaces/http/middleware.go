package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/approval-engine/internal/metrics"
)

const (
	ctxActorKey  = "actor_id"
	ctxClientKey = "client_id"
	ctxClaimsKey = "claims"
)

// loggingMiddleware logs each request and counts it by route template
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}
		if actor := c.GetString(ctxActorKey); actor != "" {
			fields = append(fields, zap.String("actor_id", actor))
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("HTTP request", fields...)
			return
		}
		s.logger.Info("HTTP request", fields...)
	}
}

// authMiddleware resolves the actor from the bearer token
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Error: err.Error()})
			return
		}
		claims, err := s.auth.Validate(raw)
		if err != nil {
			s.logger.Warn("Rejected bearer token",
				zap.String("client_ip", c.ClientIP()),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Success: false, Error: "invalid token"})
			return
		}
		c.Set(ctxActorKey, claims.Subject)
		c.Set(ctxClientKey, claims.ClientID)
		c.Set(ctxClaimsKey, claims)
		c.Next()
	}
}

// actorLimiter hands out one token bucket per actor
type actorLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	buckets map[string]*bucket
	sweptAt time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newActorLimiter(qps float64, burst int) *actorLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &actorLimiter{
		limit:   rate.Limit(qps),
		burst:   burst,
		ttl:     10 * time.Minute,
		buckets: make(map[string]*bucket),
		sweptAt: time.Now(),
	}
}

func (l *actorLimiter) allow(actor string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweptAt) > l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.sweptAt = now
	}

	b, ok := l.buckets[actor]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[actor] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// rateLimitMiddleware throttles action submission per authenticated actor
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		actor := c.GetString(ctxActorKey)
		if !s.limiter.allow(actor, time.Now()) {
			s.logger.Warn("Rate limit exceeded", zap.String("actor_id", actor))
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Response{Success: false, Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
