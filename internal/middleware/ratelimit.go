package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/metrics"
	"geoinsight/api/internal/ratelimit"
)

// Admission enforces the tiered request windows. Identified callers are
// limited per user; unauthenticated traffic falls back to API key prefix or
// client IP. The minute window is surfaced in X-RateLimit-* headers.
func Admission(limiter *ratelimit.Limiter, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		identifier, tier := admissionIdentity(c)
		res := limiter.Allow(c.Request.Context(), identifier, tier)

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			metrics.RateLimitDenials.WithLabelValues(res.Scope).Inc()
			c.Header("Retry-After", strconv.Itoa(res.RetryAfterS))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error_kind":    "RATE_LIMITED",
				"message":       fmt.Sprintf("rate limit exceeded for %s window", res.Scope),
				"retry_after_s": res.RetryAfterS,
			})
			return
		}

		c.Next()
	}
}

// admissionIdentity picks the limiter identifier: authenticated user first,
// then API key prefix, then client IP.
func admissionIdentity(c *gin.Context) (identifier, tier string) {
	tier = getTier(c)

	if userID, exists := c.Get("user_id"); exists {
		return fmt.Sprintf("user:%v", userID), tier
	}
	if apiKey := c.GetHeader("X-API-Key"); len(apiKey) >= 8 {
		return "key:" + apiKey[:8], tier
	}
	return "ip:" + c.ClientIP(), tier
}

func getTier(c *gin.Context) string {
	if raw, exists := c.Get("tier"); exists {
		if tier, ok := raw.(string); ok && tier != "" {
			return tier
		}
	}
	return ""
}

// endpointLabel normalises the route for usage counters, keeping path
// parameters symbolic so /devices/1 and /devices/2 share one counter.
func endpointLabel(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return strings.ToUpper(c.Request.Method) + " " + path
}
