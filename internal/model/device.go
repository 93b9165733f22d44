package model

import (
	"time"

	"gorm.io/gorm"

	"geoinsight/api/internal/geo"
)

// Coordinates is a WGS84 pair as it appears in JSON bodies.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point converts to the spatial primitive type.
func (c Coordinates) Point() geo.Point {
	return geo.Point{Lat: c.Latitude, Lon: c.Longitude}
}

// Device represents a tracked asset that reports location telemetry
type Device struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	UserID           uint           `json:"user_id" gorm:"index;not null"`
	Name             string         `json:"name" gorm:"size:100;not null"`
	DeviceIdentifier *string        `json:"device_identifier,omitempty" gorm:"uniqueIndex;size:64"`
	Description      string         `json:"description,omitempty"`
	Latitude         *float64       `json:"latitude,omitempty"`
	Longitude        *float64       `json:"longitude,omitempty"`
	LastSeen         *time.Time     `json:"last_seen,omitempty" gorm:"index"`
	Metadata         JSONMap        `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}

// LastPoint returns the device's last known location, if any.
func (d *Device) LastPoint() (geo.Point, bool) {
	if d.Latitude == nil || d.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *d.Latitude, Lon: *d.Longitude}, true
}

// DeviceWithDistance is a device row annotated with its distance from a
// query point, for nearby searches.
type DeviceWithDistance struct {
	Device
	DistanceM float64 `json:"distance_m" gorm:"column:distance_m"`
}

// DeviceLocation is the hot cache mirror of a device's latest location
// (stored in Redis under device:{id}:location).
type DeviceLocation struct {
	DeviceID  uint      `json:"device_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStats aggregates motion statistics over a query window.
type DeviceStats struct {
	DeviceID        uint    `json:"device_id"`
	PeriodDays      int     `json:"period_days"`
	TotalPoints     int64   `json:"total_points"`
	TotalDistanceM  float64 `json:"total_distance_m"`
	AvgSpeedMS      float64 `json:"avg_speed_ms"`
	MaxSpeedMS      float64 `json:"max_speed_ms"`
	TrajectoryCount int64   `json:"trajectory_count"`
	ActiveDays      int64   `json:"active_days"`
}

// CreateDeviceRequest is the body of POST /devices.
type CreateDeviceRequest struct {
	Name             string  `json:"name" binding:"required,max=100"`
	DeviceIdentifier string  `json:"device_identifier" binding:"omitempty,max=64"`
	Description      string  `json:"description"`
	Metadata         JSONMap `json:"metadata"`
}

// LocationUpdateRequest is the body of PUT /devices/{id}/location. Range
// validation happens in the ingestion pipeline so that non-HTTP producers
// get identical semantics.
type LocationUpdateRequest struct {
	Latitude  *float64   `json:"latitude" binding:"required"`
	Longitude *float64   `json:"longitude" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
	Speed     *float64   `json:"speed"`
	Heading   *float64   `json:"heading"`
	Accuracy  *float64   `json:"accuracy"`
	Altitude  *float64   `json:"altitude"`
	Metadata  JSONMap    `json:"metadata"`
}

// BulkLocationItem is one entry of a bulk location upload. The location
// fields are embedded so the item body matches the single-update body.
type BulkLocationItem struct {
	DeviceID uint `json:"device_id" binding:"required"`
	LocationUpdateRequest
}

// BulkLocationRequest is the body of POST /devices/locations/bulk.
type BulkLocationRequest struct {
	Locations []BulkLocationItem `json:"locations" binding:"required,min=1,dive"`
}

// BulkItemFailure reports one failed item of a bulk upload.
type BulkItemFailure struct {
	DeviceID  uint   `json:"device_id"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// BulkResult is the per-item accounting returned by the bulk endpoint.
type BulkResult struct {
	Successful []uint            `json:"successful"`
	Failed     []BulkItemFailure `json:"failed"`
	Total      int               `json:"total"`
}

// NearbyRequest is the body of POST /devices/nearby.
type NearbyRequest struct {
	Latitude     *float64 `json:"latitude" binding:"required"`
	Longitude    *float64 `json:"longitude" binding:"required"`
	RadiusMeters float64  `json:"radius_meters" binding:"required,gt=0"`
	Limit        int      `json:"limit"`
}

// RouteDistancesRequest is the body of POST /routes/distances.
type RouteDistancesRequest struct {
	Origin    *Coordinates  `json:"origin" binding:"required"`
	Waypoints []Coordinates `json:"waypoints" binding:"required,min=1"`
}
