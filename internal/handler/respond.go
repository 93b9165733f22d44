package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/model"
)

// respondError maps the service error vocabulary onto HTTP statuses and
// writes the error envelope. Unclassified errors become 500 without
// leaking internals.
func respondError(c *gin.Context, err error) {
	e := apperr.AsError(err)
	if e == nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error_kind": string(apperr.KindStoreFatal),
			"message":    "internal error",
		})
		return
	}

	status := statusOf(e.Kind)
	body := gin.H{
		"error_kind": string(e.Kind),
		"message":    e.Message,
	}
	if len(e.Details) > 0 {
		body["details"] = e.Details
	}
	if e.Kind == apperr.KindRateLimited {
		body["retry_after_s"] = e.RetryAfterS
		c.Header("Retry-After", strconv.Itoa(e.RetryAfterS))
	}
	c.JSON(status, body)
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindOutOfOrder:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindStoreConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindStoreTransient, apperr.KindDegraded:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// getUserIDFromContext reads the user id the auth middleware resolved.
func getUserIDFromContext(c *gin.Context) uint {
	if v, exists := c.Get("user_id"); exists {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// getTierFromContext reads the tier the auth middleware resolved.
func getTierFromContext(c *gin.Context) string {
	if v, exists := c.Get("tier"); exists {
		if tier, ok := v.(string); ok && tier != "" {
			return tier
		}
	}
	return model.TierFree
}

// pathID parses a numeric path parameter; on failure it writes a 400 and
// returns false.
func pathID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		respondError(c, apperr.InvalidInputf("invalid %s", name))
		return 0, false
	}
	return uint(id), true
}
