package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/osvaldoandrade/taskhub/internal/metrics"
	"github.com/osvaldoandrade/taskhub/internal/ratelimit"
	"github.com/osvaldoandrade/taskhub/pkg/config"
)

func RateLimitCreateTask(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitAgent(lim, "tasks.create", "create_task", cfg.RateLimit.CreateTask)
}

func RateLimitClaimTask(lim ratelimit.Limiter, cfg *config.Config) gin.HandlerFunc {
	return rateLimitAgent(lim, "tasks.claim", "claim_task", cfg.RateLimit.ClaimTask)
}

func rateLimitAgent(lim ratelimit.Limiter, scope string, operation string, bcfg config.RateBucket) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		// Keyed per agent after AgentAuthMiddleware; unauthenticated requests
		// are rejected by auth, not throttled here.
		agent, ok := AgentFromContext(c)
		if !ok {
			c.Next()
			return
		}

		dec, err := lim.Allow(c.Request.Context(), scope, agent.ID, bucket)
		if err != nil {
			// Fail open to avoid turning Redis hiccups into outages.
			slog.Default().Warn("rate limit check failed", "scope", scope, "op", operation, "err", err)
			c.Next()
			return
		}
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(scope, operation).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"scope":             scope,
			"operation":         operation,
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}
