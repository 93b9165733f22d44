package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/ingest"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/service"
)

// DeviceHandler serves the device surface: lifecycle, location ingestion,
// trajectories and reports.
type DeviceHandler struct {
	devices  *service.DeviceService
	reports  *service.ReportService
	pipeline *ingest.Pipeline
}

// NewDeviceHandler creates the device handler.
func NewDeviceHandler(devices *service.DeviceService, reports *service.ReportService, pipeline *ingest.Pipeline) *DeviceHandler {
	return &DeviceHandler{devices: devices, reports: reports, pipeline: pipeline}
}

// Create creates a new device
// @Summary Create device
// @Description Register a device under the calling account
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param device body model.CreateDeviceRequest true "Device data"
// @Success 201 {object} model.Device
// @Failure 400 {object} map[string]interface{}
// @Failure 402 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /devices [post]
func (h *DeviceHandler) Create(c *gin.Context) {
	var req model.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	device, err := h.devices.Create(c.Request.Context(), getUserIDFromContext(c), getTierFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, device)
}

// List returns the caller's devices
// @Summary List devices
// @Description Get a paginated list of the caller's devices
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Page size" default(20)
// @Success 200 {object} map[string]interface{}
// @Router /devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	devices, total, err := h.devices.List(c.Request.Context(), getUserIDFromContext(c), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  devices,
		"total": total,
		"page":  page,
	})
}

// Get returns a single device
// @Summary Get device
// @Description Get one device with its last known location
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path int true "Device ID"
// @Success 200 {object} model.Device
// @Failure 404 {object} map[string]interface{}
// @Router /devices/{id} [get]
func (h *DeviceHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	device, err := h.devices.Get(c.Request.Context(), getUserIDFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// Delete removes a device
// @Summary Delete device
// @Description Delete a device with its trajectories and points
// @Tags Devices
// @Security BearerAuth
// @Param id path int true "Device ID"
// @Success 204
// @Failure 404 {object} map[string]interface{}
// @Router /devices/{id} [delete]
func (h *DeviceHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.devices.Delete(c.Request.Context(), getUserIDFromContext(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateLocation ingests one location update
// @Summary Update device location
// @Description Run one location update through the ingestion pipeline
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Device ID"
// @Param location body model.LocationUpdateRequest true "Location update"
// @Success 200 {object} model.Device
// @Failure 400 {object} map[string]interface{}
// @Failure 422 {object} map[string]interface{}
// @Router /devices/{id}/location [put]
func (h *DeviceHandler) UpdateLocation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req model.LocationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	device, err := h.pipeline.UpdateLocation(c.Request.Context(), getUserIDFromContext(c), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, device)
}

// BulkLocations ingests a batch of location updates
// @Summary Bulk location upload
// @Description Apply up to 1000 location updates, grouped per device
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param locations body model.BulkLocationRequest true "Location batch"
// @Success 200 {object} model.BulkResult
// @Failure 400 {object} map[string]interface{}
// @Router /devices/locations/bulk [post]
func (h *DeviceHandler) BulkLocations(c *gin.Context) {
	var req model.BulkLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	result, err := h.pipeline.BulkUpdate(c.Request.Context(), getUserIDFromContext(c), req.Locations)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Location returns the latest known location
// @Summary Get device location
// @Description Latest location from the hot cache, store fallback
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path int true "Device ID"
// @Success 200 {object} model.DeviceLocation
// @Failure 404 {object} map[string]interface{}
// @Router /devices/{id}/location [get]
func (h *DeviceHandler) Location(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	loc, err := h.devices.LastLocation(c.Request.Context(), getUserIDFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}

// Stats returns motion statistics
// @Summary Device statistics
// @Description Aggregated motion statistics over the last N days
// @Tags Devices
// @Produce json
// @Security BearerAuth
// @Param id path int true "Device ID"
// @Param days query int false "Window in days" default(7)
// @Success 200 {object} model.DeviceStats
// @Failure 400 {object} map[string]interface{}
// @Router /devices/{id}/stats [get]
func (h *DeviceHandler) Stats(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))

	stats, err := h.devices.Stats(c.Request.Context(), getUserIDFromContext(c), id, days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Nearby finds devices around a point
// @Summary Nearby devices
// @Description Devices within a radius of a point, closest first
// @Tags Devices
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param query body model.NearbyRequest true "Search parameters"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /devices/nearby [post]
func (h *DeviceHandler) Nearby(c *gin.Context) {
	var req model.NearbyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	devices, err := h.devices.Nearby(c.Request.Context(), getUserIDFromContext(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": devices, "count": len(devices)})
}

// Trajectories lists a device's trajectories
// @Summary List trajectories
// @Description Trajectories of a device, newest first
// @Tags Trajectories
// @Produce json
// @Security BearerAuth
// @Param id path int true "Device ID"
// @Param start_time query string false "RFC3339 window start"
// @Param end_time query string false "RFC3339 window end"
// @Param limit query int false "Max trajectories" default(50)
// @Success 200 {object} map[string]interface{}
// @Router /devices/{id}/trajectory [get]
func (h *DeviceHandler) Trajectories(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	start, end, err := parseWindow(c)
	if err != nil {
		respondError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	trajectories, err := h.devices.Trajectories(c.Request.Context(), getUserIDFromContext(c), id, start, end, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trajectories, "count": len(trajectories)})
}

// TrajectoryPoints returns one trajectory's points
// @Summary Trajectory points
// @Description Ordered points of one trajectory for replay
// @Tags Trajectories
// @Produce json
// @Security BearerAuth
// @Param id path int true "Trajectory ID"
// @Param limit query int false "Max points" default(1000)
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /trajectories/{id}/points [get]
func (h *DeviceHandler) TrajectoryPoints(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))

	trajectory, points, err := h.devices.TrajectoryPoints(c.Request.Context(), getUserIDFromContext(c), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trajectory": trajectory, "points": points})
}

// Export streams a trajectory report workbook
// @Summary Export trajectories
// @Description Download a device's trajectories as an xlsx workbook
// @Tags Trajectories
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param id path int true "Device ID"
// @Param start_time query string false "RFC3339 window start"
// @Param end_time query string false "RFC3339 window end"
// @Success 200 {file} binary
// @Router /devices/{id}/trajectory/export [get]
func (h *DeviceHandler) Export(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	start, end, err := parseWindow(c)
	if err != nil {
		respondError(c, err)
		return
	}

	buf, filename, err := h.reports.TrajectoryWorkbook(c.Request.Context(), getUserIDFromContext(c), id, start, end)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// parseWindow reads the optional start_time/end_time query parameters.
func parseWindow(c *gin.Context) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if raw := c.Query("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, apperr.InvalidInput("start_time must be RFC3339")
		}
		start = &t
	}
	if raw := c.Query("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, nil, apperr.InvalidInput("end_time must be RFC3339")
		}
		end = &t
	}
	return start, end, nil
}
