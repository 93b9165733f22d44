package model

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/geo"
)

// Geometry input types accepted on geofence create/update. Circles are
// normalised to polygons before storage, so reads always return polygons.
const (
	GeometryTypePolygon = "Polygon"
	GeometryTypeCircle  = "Circle"
)

// Geofence is a user-owned polygon in WGS84. Geometry holds a GeoJSON
// Polygon object; the store also maintains a PostGIS shape column for
// spatial predicates.
type Geofence struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	UserID      uint           `json:"user_id" gorm:"not null;uniqueIndex:idx_geofences_user_name"`
	Name        string         `json:"name" gorm:"size:100;not null;uniqueIndex:idx_geofences_user_name"`
	Description string         `json:"description,omitempty"`
	Geometry    JSONMap        `json:"geometry" gorm:"type:jsonb;not null"`
	Tags        pq.StringArray `json:"tags,omitempty" gorm:"type:text[]"`
	Active      bool           `json:"active" gorm:"default:true;index"`
	Metadata    JSONMap        `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// SetPolygon stores the ring as a GeoJSON Polygon object.
func (g *Geofence) SetPolygon(ring geo.Polygon) {
	coords := make([]interface{}, 0, len(ring))
	for _, p := range ring {
		coords = append(coords, []interface{}{p.Lon, p.Lat})
	}
	g.Geometry = JSONMap{
		"type":        GeometryTypePolygon,
		"coordinates": []interface{}{coords},
	}
}

// Polygon parses the stored GeoJSON geometry back into a ring. It accepts
// both freshly-set and JSONB round-tripped representations.
func (g *Geofence) Polygon() (geo.Polygon, error) {
	if g.Geometry == nil {
		return nil, apperr.InvalidInput("geofence has no geometry")
	}
	rings, ok := g.Geometry["coordinates"].([]interface{})
	if !ok || len(rings) == 0 {
		return nil, apperr.InvalidInput("geofence geometry has no coordinate rings")
	}
	outer, ok := rings[0].([]interface{})
	if !ok {
		return nil, apperr.InvalidInput("geofence geometry outer ring is malformed")
	}

	ring := make(geo.Polygon, 0, len(outer))
	for _, raw := range outer {
		pair, ok := raw.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, apperr.InvalidInput("geofence geometry vertex is malformed")
		}
		lon, ok1 := toFloat(pair[0])
		lat, ok2 := toFloat(pair[1])
		if !ok1 || !ok2 {
			return nil, apperr.InvalidInput("geofence geometry vertex is not numeric")
		}
		ring = append(ring, geo.Point{Lat: lat, Lon: lon})
	}
	return ring, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// GeometryInput is the geometry object accepted on create/update. For
// Polygon, Coordinates carries GeoJSON rings (only the outer ring is
// used). For Circle, Center and RadiusMeters describe the shape.
type GeometryInput struct {
	Type         string        `json:"type" binding:"required"`
	Coordinates  [][][]float64 `json:"coordinates,omitempty"`
	Center       *Coordinates  `json:"center,omitempty"`
	RadiusMeters float64       `json:"radius_meters,omitempty"`
}

// CreateGeofenceRequest is the body of POST /geofences.
type CreateGeofenceRequest struct {
	Name        string         `json:"name" binding:"required,max=100"`
	Description string         `json:"description"`
	Geometry    *GeometryInput `json:"geometry" binding:"required"`
	Tags        []string       `json:"tags"`
	Active      *bool          `json:"active"`
	Metadata    JSONMap        `json:"metadata"`
}

// UpdateGeofenceRequest is the body of PUT /geofences/{id}. Zero-valued
// fields are left unchanged.
type UpdateGeofenceRequest struct {
	Name        string         `json:"name" binding:"omitempty,max=100"`
	Description *string        `json:"description"`
	Geometry    *GeometryInput `json:"geometry"`
	Tags        []string       `json:"tags"`
	Active      *bool          `json:"active"`
	Metadata    JSONMap        `json:"metadata"`
}

// CheckPointRequest is the body of POST /geofences/check.
type CheckPointRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// GeofenceRef names a geofence in check/containing responses.
type GeofenceRef struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// GeofenceCheckResult partitions the caller's active geofences around a
// point.
type GeofenceCheckResult struct {
	Inside       []GeofenceRef `json:"inside"`
	Outside      []GeofenceRef `json:"outside"`
	TotalChecked int           `json:"total_checked"`
}
