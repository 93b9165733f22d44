package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/ratelimit"
)

// AccountHandler serves per-account views: usage counters and the recent
// event log.
type AccountHandler struct {
	cache *cache.Cache
	tiers *ratelimit.Tiers
}

// NewAccountHandler creates the account handler.
func NewAccountHandler(c *cache.Cache, tiers *ratelimit.Tiers) *AccountHandler {
	return &AccountHandler{cache: c, tiers: tiers}
}

// Usage returns today's usage counters and the caller's tier limits
// @Summary Account usage
// @Description Today's per-endpoint request counters plus tier limits
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /account/usage [get]
func (h *AccountHandler) Usage(c *gin.Context) {
	userID := getUserIDFromContext(c)
	tier := getTierFromContext(c)
	day := time.Now().UTC().Format("20060102")

	counters := map[string]int64{}
	if h.cache != nil {
		raw, err := h.cache.HashGetAll(c.Request.Context(), cache.UsageKey(userID, day))
		if err != nil {
			respondError(c, apperr.Wrap(apperr.KindDegraded, err, "usage counters unavailable"))
			return
		}
		for endpoint, count := range raw {
			if n, err := strconv.ParseInt(count, 10, 64); err == nil {
				counters[endpoint] = n
			}
		}
	}

	limits := h.tiers.Limits(tier)
	c.JSON(http.StatusOK, gin.H{
		"date":  day,
		"tier":  tier,
		"usage": counters,
		"limits": gin.H{
			"per_minute":          limits.PerMinute,
			"per_hour":            limits.PerHour,
			"per_day":             limits.PerDay,
			"max_devices":         limits.MaxDevices,
			"max_geofences":       limits.MaxGeofences,
			"max_route_waypoints": limits.MaxRouteWaypoints,
		},
	})
}

// RecentEvents returns the caller's recent transition events
// @Summary Recent events
// @Description Latest geofence transition events for the account, newest first
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max events" default(50)
// @Success 200 {object} map[string]interface{}
// @Router /events/recent [get]
func (h *AccountHandler) RecentEvents(c *gin.Context) {
	userID := getUserIDFromContext(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	events := []model.GeofenceEvent{}
	if h.cache != nil {
		raw, err := h.cache.ListRange(c.Request.Context(), cache.RecentEventsKey(userID), 0, int64(limit-1))
		if err != nil {
			respondError(c, apperr.Wrap(apperr.KindDegraded, err, "event log unavailable"))
			return
		}
		for _, item := range raw {
			var event model.GeofenceEvent
			if err := json.Unmarshal([]byte(item), &event); err == nil {
				events = append(events, event)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "count": len(events)})
}
