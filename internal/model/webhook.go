package model

import "time"

// WebhookSubscription configures event delivery for one (user, geofence)
// pair. Subscriptions live in the cache under webhook:{user}:{geofence}
// with a 30 day TTL; they are not persisted to the store.
type WebhookSubscription struct {
	UserID     uint              `json:"user_id"`
	GeofenceID uint              `json:"geofence_id"`
	URL        string            `json:"url"`
	Events     []string          `json:"events"`
	Headers    map[string]string `json:"headers,omitempty"`
	Secret     string            `json:"secret,omitempty"`
	Active     bool              `json:"active"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Wants reports whether the subscription should receive the event type.
func (s *WebhookSubscription) Wants(eventType string) bool {
	if !s.Active {
		return false
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// WebhookPayload is the JSON body POSTed to subscription URLs.
type WebhookPayload struct {
	EventType  string      `json:"event_type"`
	DeviceID   uint        `json:"device_id"`
	GeofenceID uint        `json:"geofence_id"`
	Location   Coordinates `json:"location"`
	Timestamp  time.Time   `json:"timestamp"`
	Metadata   JSONMap     `json:"metadata,omitempty"`
}

// DeliveryAttempt is one entry of the day-keyed delivery log
// (webhook_delivery:{YYYYMMDD}:{url}, trimmed to 7 days).
type DeliveryAttempt struct {
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WebhookRegisterRequest is the body of POST /geofences/{id}/webhook.
type WebhookRegisterRequest struct {
	URL     string            `json:"url" binding:"required,max=500"`
	Events  []string          `json:"events" binding:"required,min=1"`
	Headers map[string]string `json:"headers"`
	Secret  string            `json:"secret" binding:"omitempty,max=255"`
	Active  *bool             `json:"active"`
}
