package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/service"
)

// GeofenceHandler serves the geofence surface.
type GeofenceHandler struct {
	geofences *service.GeofenceService
}

// NewGeofenceHandler creates the geofence handler.
func NewGeofenceHandler(geofences *service.GeofenceService) *GeofenceHandler {
	return &GeofenceHandler{geofences: geofences}
}

// Create creates a geofence
// @Summary Create geofence
// @Description Create a polygon or circle geofence; circles are stored as polygons
// @Tags Geofences
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param geofence body model.CreateGeofenceRequest true "Geofence data"
// @Success 201 {object} model.Geofence
// @Failure 400 {object} map[string]interface{}
// @Failure 402 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /geofences [post]
func (h *GeofenceHandler) Create(c *gin.Context) {
	var req model.CreateGeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	geofence, err := h.geofences.Create(c.Request.Context(), getUserIDFromContext(c), getTierFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, geofence)
}

// List returns the caller's geofences
// @Summary List geofences
// @Description Paginated geofence list, optionally active only
// @Tags Geofences
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Param active_only query bool false "Only active geofences"
// @Success 200 {object} map[string]interface{}
// @Router /geofences [get]
func (h *GeofenceHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active_only", "false"))

	geofences, total, err := h.geofences.List(c.Request.Context(), getUserIDFromContext(c), activeOnly, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  geofences,
		"total": total,
		"page":  page,
	})
}

// Get returns a single geofence
// @Summary Get geofence
// @Tags Geofences
// @Produce json
// @Security BearerAuth
// @Param id path int true "Geofence ID"
// @Success 200 {object} model.Geofence
// @Failure 404 {object} map[string]interface{}
// @Router /geofences/{id} [get]
func (h *GeofenceHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	geofence, err := h.geofences.Get(c.Request.Context(), getUserIDFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, geofence)
}

// Update applies a partial geofence update
// @Summary Update geofence
// @Description Update fields of a geofence; new geometry is re-normalised
// @Tags Geofences
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Geofence ID"
// @Param geofence body model.UpdateGeofenceRequest true "Fields to update"
// @Success 200 {object} model.Geofence
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /geofences/{id} [put]
func (h *GeofenceHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.UpdateGeofenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	geofence, err := h.geofences.Update(c.Request.Context(), getUserIDFromContext(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, geofence)
}

// Delete removes a geofence
// @Summary Delete geofence
// @Description Delete a geofence, its index entry and webhook subscription
// @Tags Geofences
// @Security BearerAuth
// @Param id path int true "Geofence ID"
// @Success 204
// @Failure 404 {object} map[string]interface{}
// @Router /geofences/{id} [delete]
func (h *GeofenceHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.geofences.Delete(c.Request.Context(), getUserIDFromContext(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Check partitions the caller's geofences around a point
// @Summary Check point
// @Description Which of the caller's active geofences contain the point
// @Tags Geofences
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param point body model.CheckPointRequest true "Point to check"
// @Success 200 {object} model.GeofenceCheckResult
// @Failure 400 {object} map[string]interface{}
// @Router /geofences/check [post]
func (h *GeofenceHandler) Check(c *gin.Context) {
	var req model.CheckPointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	result, err := h.geofences.Check(c.Request.Context(), getUserIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Containing lists geofences containing a point
// @Summary Geofences containing point
// @Tags Geofences
// @Produce json
// @Security BearerAuth
// @Param latitude query number true "Latitude"
// @Param longitude query number true "Longitude"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /geofences/containing/point [get]
func (h *GeofenceHandler) Containing(c *gin.Context) {
	p, err := queryPoint(c)
	if err != nil {
		respondError(c, err)
		return
	}

	refs, err := h.geofences.Containing(c.Request.Context(), getUserIDFromContext(c), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refs, "count": len(refs)})
}

// Nearby lists geofences near a point
// @Summary Geofences near point
// @Tags Geofences
// @Produce json
// @Security BearerAuth
// @Param latitude query number true "Latitude"
// @Param longitude query number true "Longitude"
// @Param distance_meters query number true "Search distance in meters"
// @Param limit query int false "Max results" default(50)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /geofences/nearby/point [get]
func (h *GeofenceHandler) Nearby(c *gin.Context) {
	p, err := queryPoint(c)
	if err != nil {
		respondError(c, err)
		return
	}
	distance, err := strconv.ParseFloat(c.Query("distance_meters"), 64)
	if err != nil {
		respondError(c, apperr.InvalidInput("distance_meters is required"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	refs, err := h.geofences.Near(c.Request.Context(), getUserIDFromContext(c), p, distance, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refs, "count": len(refs)})
}

// queryPoint reads latitude/longitude query parameters.
func queryPoint(c *gin.Context) (geo.Point, error) {
	lat, err1 := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, err2 := strconv.ParseFloat(c.Query("longitude"), 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, apperr.InvalidInput("latitude and longitude are required")
	}
	return geo.Point{Lat: lat, Lon: lon}, nil
}
