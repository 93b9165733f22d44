package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/service"
	"geoinsight/api/internal/webhook"
)

// WebhookHandler serves webhook subscriptions and the delivery log.
type WebhookHandler struct {
	geofences  *service.GeofenceService
	subs       *webhook.Subscriptions
	dispatcher *webhook.Dispatcher
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(geofences *service.GeofenceService, subs *webhook.Subscriptions, dispatcher *webhook.Dispatcher) *WebhookHandler {
	return &WebhookHandler{geofences: geofences, subs: subs, dispatcher: dispatcher}
}

// Register stores the webhook subscription for a geofence
// @Summary Register webhook
// @Description Subscribe a URL to a geofence's enter/exit events
// @Tags Webhooks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Geofence ID"
// @Param webhook body model.WebhookRegisterRequest true "Subscription"
// @Success 201 {object} model.WebhookSubscription
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /geofences/{id}/webhook [post]
func (h *WebhookHandler) Register(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID := getUserIDFromContext(c)

	// The geofence must exist and be owned by the caller.
	if _, err := h.geofences.Get(c.Request.Context(), userID, id); err != nil {
		respondError(c, err)
		return
	}

	var req model.WebhookRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.InvalidInput(err.Error()))
		return
	}

	sub, err := h.subs.Register(c.Request.Context(), userID, id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// Get returns the subscription for a geofence
// @Summary Get webhook
// @Tags Webhooks
// @Produce json
// @Security BearerAuth
// @Param id path int true "Geofence ID"
// @Success 200 {object} model.WebhookSubscription
// @Failure 404 {object} map[string]interface{}
// @Router /geofences/{id}/webhook [get]
func (h *WebhookHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	sub, err := h.subs.Get(c.Request.Context(), getUserIDFromContext(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Remove deletes the subscription for a geofence
// @Summary Remove webhook
// @Tags Webhooks
// @Security BearerAuth
// @Param id path int true "Geofence ID"
// @Success 204
// @Router /geofences/{id}/webhook [delete]
func (h *WebhookHandler) Remove(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.subs.Remove(c.Request.Context(), getUserIDFromContext(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Deliveries returns the delivery log for a URL
// @Summary Webhook deliveries
// @Description Recent delivery attempts to a URL from the day-keyed log
// @Tags Webhooks
// @Produce json
// @Security BearerAuth
// @Param url query string true "Webhook URL"
// @Param date query string false "Day (YYYY-MM-DD), default today"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /webhooks/deliveries [get]
func (h *WebhookHandler) Deliveries(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		respondError(c, apperr.InvalidInput("url is required"))
		return
	}

	day := time.Now().UTC()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			respondError(c, apperr.InvalidInput("date must be YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	attempts, err := h.dispatcher.Deliveries(c.Request.Context(), url, day)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindDegraded, err, "delivery log unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": attempts, "count": len(attempts)})
}
