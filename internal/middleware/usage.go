package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/metrics"
)

// Usage records per-endpoint request counters after the handler runs. The
// counters feed the account usage view; recording is best effort and never
// fails the request.
func Usage(c *cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Next()

		metrics.HTTPRequests.WithLabelValues(ctx.Request.Method, strconv.Itoa(ctx.Writer.Status())).Inc()

		if c == nil {
			return
		}
		raw, exists := ctx.Get("user_id")
		if !exists {
			return
		}
		userID, ok := raw.(uint)
		if !ok || userID == 0 {
			return
		}

		day := time.Now().UTC().Format("20060102")
		key := cache.UsageKey(userID, day)
		if err := c.HashIncrBy(ctx.Request.Context(), key, endpointLabel(ctx), 1); err != nil {
			return
		}
		c.Expire(ctx.Request.Context(), key, cache.TTLUsage)
	}
}
