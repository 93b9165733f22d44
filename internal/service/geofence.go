package service

import (
	"context"
	"log"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/index"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/ratelimit"
	"geoinsight/api/internal/store"
	"geoinsight/api/internal/webhook"
)

// GeofenceService owns the geofence lifecycle. Every mutation updates the
// local index and publishes an invalidation so other processes stay
// coherent.
type GeofenceService struct {
	store          *store.Store
	cache          *cache.Cache
	index          *index.Index
	webhooks       *webhook.Subscriptions
	tiers          *ratelimit.Tiers
	circleVertices int
}

// NewGeofenceService creates the geofence service. circleVertices is the
// polygon vertex count used when normalising circle input.
func NewGeofenceService(st *store.Store, c *cache.Cache, ix *index.Index, subs *webhook.Subscriptions, tiers *ratelimit.Tiers, circleVertices int) *GeofenceService {
	return &GeofenceService{
		store:          st,
		cache:          c,
		index:          ix,
		webhooks:       subs,
		tiers:          tiers,
		circleVertices: circleVertices,
	}
}

// Create stores a geofence, enforcing the tier's geofence cap. Circle
// input is normalised to a polygon before storage.
func (s *GeofenceService) Create(ctx context.Context, userID uint, tier string, req *model.CreateGeofenceRequest) (*model.Geofence, error) {
	ring, circle, err := s.parseGeometry(req.Geometry)
	if err != nil {
		return nil, err
	}

	limits := s.tiers.Limits(tier)
	count, err := s.store.CountGeofences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count >= int64(limits.MaxGeofences) {
		return nil, apperr.QuotaExceeded("geofences", limits.MaxGeofences)
	}

	geofence := &model.Geofence{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Active:      true,
		Metadata:    req.Metadata,
	}
	if req.Active != nil {
		geofence.Active = *req.Active
	}
	geofence.SetPolygon(ring)
	if circle {
		if geofence.Metadata == nil {
			geofence.Metadata = model.JSONMap{}
		}
		geofence.Metadata["circle_approximated"] = true
	}

	if err := s.store.CreateGeofence(ctx, geofence); err != nil {
		return nil, err
	}

	s.index.Upsert(userID, geofence)
	s.publishInvalidation(ctx, userID, geofence.ID, "upsert")
	return geofence, nil
}

// Update applies a partial update. A new geometry is re-normalised; an
// Active flip adds or removes the index entry.
func (s *GeofenceService) Update(ctx context.Context, userID, geofenceID uint, req *model.UpdateGeofenceRequest) (*model.Geofence, error) {
	geofence, err := s.store.GeofenceByID(ctx, userID, geofenceID)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		geofence.Name = req.Name
	}
	if req.Description != nil {
		geofence.Description = *req.Description
	}
	if req.Tags != nil {
		geofence.Tags = req.Tags
	}
	if req.Active != nil {
		geofence.Active = *req.Active
	}
	if req.Metadata != nil {
		geofence.Metadata = req.Metadata
	}
	if req.Geometry != nil {
		ring, circle, err := s.parseGeometry(req.Geometry)
		if err != nil {
			return nil, err
		}
		geofence.SetPolygon(ring)
		if circle {
			if geofence.Metadata == nil {
				geofence.Metadata = model.JSONMap{}
			}
			geofence.Metadata["circle_approximated"] = true
		}
	}

	if err := s.store.SaveGeofence(ctx, geofence); err != nil {
		return nil, err
	}

	s.index.Upsert(userID, geofence)
	s.publishInvalidation(ctx, userID, geofenceID, "upsert")
	return geofence, nil
}

// List returns one page of the caller's geofences.
func (s *GeofenceService) List(ctx context.Context, userID uint, activeOnly bool, page, pageSize int) ([]model.Geofence, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.store.ListGeofences(ctx, userID, activeOnly, page, pageSize)
}

// Get returns one owned geofence.
func (s *GeofenceService) Get(ctx context.Context, userID, geofenceID uint) (*model.Geofence, error) {
	return s.store.GeofenceByID(ctx, userID, geofenceID)
}

// Delete removes the geofence, its index entry and its webhook
// subscription.
func (s *GeofenceService) Delete(ctx context.Context, userID, geofenceID uint) error {
	if err := s.store.DeleteGeofence(ctx, userID, geofenceID); err != nil {
		return err
	}

	s.index.Remove(userID, geofenceID)
	if err := s.webhooks.Remove(ctx, userID, geofenceID); err != nil {
		log.Printf("[Geofence] Webhook cleanup failed for geofence %d: %v", geofenceID, err)
	}
	s.publishInvalidation(ctx, userID, geofenceID, "delete")
	return nil
}

// Check partitions the caller's active geofences around a point.
func (s *GeofenceService) Check(ctx context.Context, userID uint, req *model.CheckPointRequest) (*model.GeofenceCheckResult, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return nil, apperr.InvalidInput("latitude and longitude are required")
	}
	p := geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
	if err := geo.ValidatePoint(p.Lat, p.Lon); err != nil {
		return nil, err
	}

	geofences, err := s.store.ActiveGeofences(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &model.GeofenceCheckResult{
		Inside:       []model.GeofenceRef{},
		Outside:      []model.GeofenceRef{},
		TotalChecked: len(geofences),
	}
	for i := range geofences {
		g := &geofences[i]
		ref := model.GeofenceRef{ID: g.ID, Name: g.Name}
		ring, err := g.Polygon()
		if err != nil {
			log.Printf("[Geofence] Skipping geofence %d with bad geometry: %v", g.ID, err)
			result.TotalChecked--
			continue
		}
		if ring.Contains(p) {
			result.Inside = append(result.Inside, ref)
		} else {
			result.Outside = append(result.Outside, ref)
		}
	}
	return result, nil
}

// Containing answers which active geofences contain a point, through the
// in-memory index.
func (s *GeofenceService) Containing(ctx context.Context, userID uint, p geo.Point) ([]model.GeofenceRef, error) {
	if err := geo.ValidatePoint(p.Lat, p.Lon); err != nil {
		return nil, err
	}
	return s.index.Containing(ctx, userID, p)
}

// Near lists active geofences within a distance of a point.
func (s *GeofenceService) Near(ctx context.Context, userID uint, p geo.Point, distanceM float64, limit int) ([]model.GeofenceRef, error) {
	if err := geo.ValidatePoint(p.Lat, p.Lon); err != nil {
		return nil, err
	}
	if distanceM <= 0 {
		return nil, apperr.InvalidInput("distance_meters must be positive")
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	geofences, err := s.store.GeofencesNear(ctx, userID, p, distanceM, limit)
	if err != nil {
		return nil, err
	}
	// Store ordering is nearest first; keep it.
	refs := make([]model.GeofenceRef, 0, len(geofences))
	for _, g := range geofences {
		refs = append(refs, model.GeofenceRef{ID: g.ID, Name: g.Name})
	}
	return refs, nil
}

// parseGeometry turns geometry input into a validated ring. The second
// return reports whether the input was a circle.
func (s *GeofenceService) parseGeometry(input *model.GeometryInput) (geo.Polygon, bool, error) {
	if input == nil {
		return nil, false, apperr.InvalidInput("geometry is required")
	}

	switch input.Type {
	case model.GeometryTypePolygon:
		if len(input.Coordinates) == 0 {
			return nil, false, apperr.InvalidInput("polygon geometry needs coordinates")
		}
		outer := input.Coordinates[0]
		ring := make(geo.Polygon, 0, len(outer))
		for _, pair := range outer {
			if len(pair) != 2 {
				return nil, false, apperr.InvalidInput("polygon vertex must be [lon, lat]")
			}
			ring = append(ring, geo.Point{Lat: pair[1], Lon: pair[0]})
		}
		if err := ring.Validate(); err != nil {
			return nil, false, err
		}
		return ring, false, nil

	case model.GeometryTypeCircle:
		if input.Center == nil {
			return nil, false, apperr.InvalidInput("circle geometry needs a center")
		}
		ring, err := geo.CircleToPolygon(input.Center.Point(), input.RadiusMeters, s.circleVertices)
		if err != nil {
			return nil, false, err
		}
		return ring, true, nil

	default:
		return nil, false, apperr.InvalidInputf("unsupported geometry type %q", input.Type)
	}
}

func (s *GeofenceService) publishInvalidation(ctx context.Context, userID, geofenceID uint, action string) {
	if s.cache == nil {
		return
	}
	msg := index.InvalidationMessage{UserID: userID, GeofenceID: geofenceID, Action: action}
	if err := s.cache.Publish(ctx, cache.ChannelGeofenceIndex, msg); err != nil {
		log.Printf("[Geofence] Invalidation publish failed: %v", err)
	}
}
