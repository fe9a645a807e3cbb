package server

import (
	"strconv"

	"github.com/agentforge/creditledger/internal/ratelimit"
	"github.com/gin-gonic/gin"
)

// RateLimit admits or rejects the request against the route class's window.
// Keys are per client IP per class, so hammering checkout does not starve
// the same client's reads. Every decision carries the X-RateLimit-* headers.
func (s *Server) RateLimit(class ratelimit.Class) gin.HandlerFunc {
	limit := ratelimit.ForClass(class)
	return func(c *gin.Context) {
		key := c.ClientIP() + "|" + string(class)
		decision := s.limiter.Allow(c.Request.Context(), key, limit)

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int64(decision.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
