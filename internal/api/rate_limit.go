package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/imagehandler/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RateLimiter interface {
	Take(ctx context.Context, subject string, cost int64) (ratelimit.Decision, error)
}

// rateLimit throttles per client IP and route, charging transforms and
// exports more than pass-through reads. Limiter failures let the request
// through.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil {
			c.Next()
			return
		}

		route := routeLabel(c)
		subject := ratelimit.Subject(c.ClientIP(), route)

		cost := s.costs.Cost(c.Param("edits"), s.exports != nil && exportRequested(c))
		decision, err := s.rateLimiter.Take(c.Request.Context(), subject, cost)
		if err != nil {
			s.logger.Warn("rate limiter check failed", zap.String("subject", subject), zap.Int64("cost", cost), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			c.Next()
			return
		}

		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(route).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
			Status:  http.StatusTooManyRequests,
			Code:    "TooManyRequests",
			Message: "rate limit exceeded",
		})
	}
}
