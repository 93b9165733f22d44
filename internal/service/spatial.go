package service

import (
	"context"
	"log"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/ratelimit"
)

// DistanceStore is the store surface the spatial service needs. Satisfied
// by *store.Store.
type DistanceStore interface {
	BulkDistances(ctx context.Context, origin geo.Point, points []geo.Point) ([]float64, error)
}

// SpatialService serves point-to-many distance lookups for route-planning
// collaborators.
type SpatialService struct {
	store DistanceStore
	tiers *ratelimit.Tiers
}

// NewSpatialService creates the spatial service.
func NewSpatialService(st DistanceStore, tiers *ratelimit.Tiers) *SpatialService {
	return &SpatialService{store: st, tiers: tiers}
}

// RouteDistances returns the distance from origin to each waypoint, in
// input order. Waypoint count is capped per tier. Distances come from the
// store; on store failure the local haversine answers instead.
func (s *SpatialService) RouteDistances(ctx context.Context, tier string, origin geo.Point, waypoints []geo.Point) ([]float64, error) {
	if err := geo.ValidatePoint(origin.Lat, origin.Lon); err != nil {
		return nil, err
	}
	if len(waypoints) == 0 {
		return nil, apperr.InvalidInput("waypoints must not be empty")
	}
	limits := s.tiers.Limits(tier)
	if len(waypoints) > limits.MaxRouteWaypoints {
		return nil, apperr.QuotaExceeded("route_waypoints", limits.MaxRouteWaypoints)
	}
	for _, w := range waypoints {
		if err := geo.ValidatePoint(w.Lat, w.Lon); err != nil {
			return nil, err
		}
	}

	distances, err := s.store.BulkDistances(ctx, origin, waypoints)
	if err == nil {
		return distances, nil
	}
	log.Printf("[Spatial] Store distance failed, using local fallback: %v", err)

	distances = make([]float64, len(waypoints))
	for i, w := range waypoints {
		distances[i] = geo.Haversine(origin, w)
	}
	return distances, nil
}
