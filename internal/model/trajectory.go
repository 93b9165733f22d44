package model

import (
	"time"

	"geoinsight/api/internal/geo"
)

// Trajectory is a contiguous segment of a device's movement, bounded by
// the ingestion gap threshold. Aggregates are maintained incrementally on
// every appended point.
type Trajectory struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	DeviceID       uint      `json:"device_id" gorm:"index;not null"`
	StartTime      time.Time `json:"start_time" gorm:"index;not null"`
	EndTime        time.Time `json:"end_time" gorm:"index;not null"`
	PointCount     int       `json:"point_count" gorm:"not null;default:0"`
	TotalDistanceM float64   `json:"total_distance_m" gorm:"not null;default:0"`
	AvgSpeedMS     float64   `json:"avg_speed_ms" gorm:"not null;default:0"`
	MaxSpeedMS     float64   `json:"max_speed_ms" gorm:"not null;default:0"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TrajectoryPoint is one telemetry sample inside a trajectory. DeviceID is
// denormalised for the (device_id, timestamp) composite index.
type TrajectoryPoint struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	TrajectoryID uint      `json:"trajectory_id" gorm:"index;not null"`
	DeviceID     uint      `json:"device_id" gorm:"index:idx_trajectory_points_device_ts;not null"`
	Latitude     float64   `json:"latitude" gorm:"not null"`
	Longitude    float64   `json:"longitude" gorm:"not null"`
	Timestamp    time.Time `json:"timestamp" gorm:"index:idx_trajectory_points_device_ts;not null"`
	Speed        *float64  `json:"speed,omitempty"`
	Heading      *float64  `json:"heading,omitempty"`
	AccuracyM    *float64  `json:"accuracy_m,omitempty"`
	AltitudeM    *float64  `json:"altitude_m,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Point returns the sample's location.
func (p *TrajectoryPoint) Point() geo.Point {
	return geo.Point{Lat: p.Latitude, Lon: p.Longitude}
}
