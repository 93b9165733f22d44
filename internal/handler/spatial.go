package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/service"
)

// SpatialHandler serves spatial utility lookups.
type SpatialHandler struct {
	spatial *service.SpatialService
}

// NewSpatialHandler creates the spatial handler.
func NewSpatialHandler(spatial *service.SpatialService) *SpatialHandler {
	return &SpatialHandler{spatial: spatial}
}

// RouteDistances returns distances from an origin to each waypoint
// @Summary Route distances
// @Description Geodesic distance in meters from the origin to every waypoint, in input order
// @Tags Spatial
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body model.RouteDistancesRequest true "Origin and waypoints"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 402 {object} map[string]interface{}
// @Router /routes/distances [post]
func (h *SpatialHandler) RouteDistances(c *gin.Context) {
	var req model.RouteDistancesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	waypoints := make([]geo.Point, 0, len(req.Waypoints))
	for _, w := range req.Waypoints {
		waypoints = append(waypoints, w.Point())
	}

	distances, err := h.spatial.RouteDistances(c.Request.Context(), getTierFromContext(c), req.Origin.Point(), waypoints)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"distances_m": distances,
		"count":       len(distances),
	})
}
