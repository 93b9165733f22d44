package cache

import (
	"fmt"
	"time"
)

// Pub/sub channels.
const (
	// ChannelGeofenceEvents carries every membership transition.
	ChannelGeofenceEvents = "geofence_events"
	// ChannelGeofenceIndex carries geofence mutation notices so every
	// process can refresh its in-memory index.
	ChannelGeofenceIndex = "geofence_index"
)

// TTLs for the core key space.
const (
	TTLDeviceLocation = time.Hour
	TTLDeviceState    = 24 * time.Hour
	TTLWebhook        = 30 * 24 * time.Hour
	TTLDeliveryLog    = 7 * 24 * time.Hour
	TTLUser           = 60 * time.Second
	TTLRecentEvents   = 24 * time.Hour
	TTLUsage          = 30 * 24 * time.Hour
)

// DeviceLocationKey is the hot cache of a device's latest location.
func DeviceLocationKey(deviceID uint) string {
	return fmt.Sprintf("device:%d:location", deviceID)
}

// DeviceStateKey mirrors a device's membership set for warm restart.
func DeviceStateKey(deviceID uint) string {
	return fmt.Sprintf("device_state:%d", deviceID)
}

// WebhookKey stores the webhook subscription for (user, geofence).
func WebhookKey(userID, geofenceID uint) string {
	return fmt.Sprintf("webhook:%d:%d", userID, geofenceID)
}

// DeliveryLogKey is the day-keyed webhook delivery log for a URL.
func DeliveryLogKey(day, url string) string {
	return fmt.Sprintf("webhook_delivery:%s:%s", day, url)
}

// RateLimitKey is one sliding window for one identifier.
func RateLimitKey(identifier, window string) string {
	return fmt.Sprintf("rate_limit:%s:%s", identifier, window)
}

// UserKey caches a user row to bound tier staleness.
func UserKey(userID uint) string {
	return fmt.Sprintf("user:%d", userID)
}

// UserByAPIKeyKey caches the api-key to user resolution.
func UserByAPIKeyKey(apiKey string) string {
	return fmt.Sprintf("user:by_api_key:%s", apiKey)
}

// RecentEventsKey is the per-user list of recent transition events.
func RecentEventsKey(userID uint) string {
	return fmt.Sprintf("geofence_events:recent:%d", userID)
}

// UsageKey is the per-user daily endpoint usage hash.
func UsageKey(userID uint, day string) string {
	return fmt.Sprintf("analytics:usage:%d:%s", userID, day)
}

// DeviceEventsChannel carries transitions for a single device.
func DeviceEventsChannel(deviceID uint) string {
	return fmt.Sprintf("device:%d:events", deviceID)
}

// GeofenceEventsChannel carries transitions for a single geofence.
func GeofenceEventsChannel(geofenceID uint) string {
	return fmt.Sprintf("geofence:%d:events", geofenceID)
}
