package model

import "time"

// Transition event types.
const (
	EventEnter = "enter"
	EventExit  = "exit"
)

// GeofenceEvent is the payload published for every membership transition.
// It fans out on the redis channels (geofence_events, device:{id}:events,
// geofence:{id}:events), the NATS subjects, and in-process subscribers.
type GeofenceEvent struct {
	EventID    string      `json:"event_id"`
	EventType  string      `json:"event_type"`
	DeviceID   uint        `json:"device_id"`
	GeofenceID uint        `json:"geofence_id"`
	UserID     uint        `json:"user_id"`
	Point      Coordinates `json:"point"`
	Timestamp  time.Time   `json:"ts"`
	Metadata   JSONMap     `json:"metadata,omitempty"`
}
