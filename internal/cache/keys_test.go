package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "device:42:location", DeviceLocationKey(42))
	assert.Equal(t, "device_state:42", DeviceStateKey(42))
	assert.Equal(t, "webhook:7:42", WebhookKey(7, 42))
	assert.Equal(t, "webhook_delivery:20250716:https://example.com/hook",
		DeliveryLogKey("20250716", "https://example.com/hook"))
	assert.Equal(t, "rate_limit:user:7:minute", RateLimitKey("user:7", "minute"))
	assert.Equal(t, "user:7", UserKey(7))
	assert.Equal(t, "geofence_events:recent:7", RecentEventsKey(7))
	assert.Equal(t, "analytics:usage:7:20250716", UsageKey(7, "20250716"))
}

func TestEventChannels(t *testing.T) {
	assert.Equal(t, "geofence_events", ChannelGeofenceEvents)
	assert.Equal(t, "device:42:events", DeviceEventsChannel(42))
	assert.Equal(t, "geofence:9:events", GeofenceEventsChannel(9))
}
