package service

import (
	"context"
	"log"
	"time"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/ratelimit"
	"geoinsight/api/internal/store"
	"geoinsight/api/internal/tracker"
)

// Query bounds for the device surface.
const (
	maxStatsDays     = 90
	defaultStatsDays = 7

	maxNearbyRadiusM = 50000
	maxNearbyLimit   = 200
	defNearbyLimit   = 20

	maxTrajectoryLimit = 500
	defTrajectoryLimit = 50
)

// DeviceService owns the device lifecycle and read surfaces. Location
// ingestion goes through the pipeline, not through this service.
type DeviceService struct {
	store   *store.Store
	cache   *cache.Cache
	tracker *tracker.Tracker
	tiers   *ratelimit.Tiers
}

// NewDeviceService creates the device service.
func NewDeviceService(st *store.Store, c *cache.Cache, tr *tracker.Tracker, tiers *ratelimit.Tiers) *DeviceService {
	return &DeviceService{store: st, cache: c, tracker: tr, tiers: tiers}
}

// Create registers a device, enforcing the tier's device cap.
func (s *DeviceService) Create(ctx context.Context, userID uint, tier string, req *model.CreateDeviceRequest) (*model.Device, error) {
	limits := s.tiers.Limits(tier)
	count, err := s.store.CountDevices(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count >= int64(limits.MaxDevices) {
		return nil, apperr.QuotaExceeded("devices", limits.MaxDevices)
	}

	device := &model.Device{
		UserID:      userID,
		Name:        req.Name,
		Description: req.Description,
		Metadata:    req.Metadata,
	}
	if req.DeviceIdentifier != "" {
		id := req.DeviceIdentifier
		device.DeviceIdentifier = &id
	}
	if err := s.store.CreateDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// List returns one page of the caller's devices.
func (s *DeviceService) List(ctx context.Context, userID uint, page, pageSize int) ([]model.Device, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.store.ListDevices(ctx, userID, page, pageSize)
}

// Get returns one owned device.
func (s *DeviceService) Get(ctx context.Context, userID, deviceID uint) (*model.Device, error) {
	return s.store.DeviceByID(ctx, userID, deviceID)
}

// Delete removes the device with its trajectories and points, and clears
// every cached trace of it.
func (s *DeviceService) Delete(ctx context.Context, userID, deviceID uint) error {
	if err := s.store.DeleteDevice(ctx, userID, deviceID); err != nil {
		return err
	}

	s.tracker.Forget(ctx, deviceID)
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cache.DeviceLocationKey(deviceID)); err != nil {
			log.Printf("[Device] Cache cleanup failed for device %d: %v", deviceID, err)
		}
	}
	return nil
}

// Stats aggregates motion statistics over the last N days (default 7,
// max 90).
func (s *DeviceService) Stats(ctx context.Context, userID, deviceID uint, days int) (*model.DeviceStats, error) {
	if days <= 0 {
		days = defaultStatsDays
	}
	if days > maxStatsDays {
		return nil, apperr.InvalidInputf("days must be at most %d", maxStatsDays)
	}

	if _, err := s.store.DeviceByID(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	return s.store.DeviceStats(ctx, deviceID, days, time.Now().UTC())
}

// Nearby finds the caller's devices within a radius of a point, closest
// first.
func (s *DeviceService) Nearby(ctx context.Context, userID uint, req *model.NearbyRequest) ([]model.DeviceWithDistance, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return nil, apperr.InvalidInput("latitude and longitude are required")
	}
	if err := geo.ValidatePoint(*req.Latitude, *req.Longitude); err != nil {
		return nil, err
	}
	if req.RadiusMeters <= 0 || req.RadiusMeters > maxNearbyRadiusM {
		return nil, apperr.InvalidInputf("radius_meters must be in (0, %d]", maxNearbyRadiusM)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defNearbyLimit
	}
	if limit > maxNearbyLimit {
		limit = maxNearbyLimit
	}

	p := geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
	return s.store.NearbyDevices(ctx, userID, p, req.RadiusMeters, limit)
}

// Trajectories lists a device's trajectories, newest first.
func (s *DeviceService) Trajectories(ctx context.Context, userID, deviceID uint, start, end *time.Time, limit int) ([]model.Trajectory, error) {
	if limit <= 0 {
		limit = defTrajectoryLimit
	}
	if limit > maxTrajectoryLimit {
		return nil, apperr.InvalidInputf("limit must be at most %d", maxTrajectoryLimit)
	}
	if start != nil && end != nil && end.Before(*start) {
		return nil, apperr.InvalidInput("end_time precedes start_time")
	}

	if _, err := s.store.DeviceByID(ctx, userID, deviceID); err != nil {
		return nil, err
	}
	return s.store.ListTrajectories(ctx, deviceID, start, end, limit)
}

// TrajectoryPoints returns one trajectory's points in timestamp order.
func (s *DeviceService) TrajectoryPoints(ctx context.Context, userID, trajectoryID uint, limit int) (*model.Trajectory, []model.TrajectoryPoint, error) {
	if limit <= 0 {
		limit = 1000
	}

	trajectory, err := s.store.TrajectoryByID(ctx, userID, trajectoryID)
	if err != nil {
		return nil, nil, err
	}
	points, err := s.store.TrajectoryPoints(ctx, trajectoryID, limit)
	if err != nil {
		return nil, nil, err
	}
	return trajectory, points, nil
}

// LastLocation reads the hot cache mirror of a device's latest location,
// falling back to the store row.
func (s *DeviceService) LastLocation(ctx context.Context, userID, deviceID uint) (*model.DeviceLocation, error) {
	device, err := s.store.DeviceByID(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		var loc model.DeviceLocation
		if err := s.cache.GetJSON(ctx, cache.DeviceLocationKey(deviceID), &loc); err == nil {
			return &loc, nil
		}
	}

	if device.Latitude == nil || device.LastSeen == nil {
		return nil, apperr.NotFound("device has no reported location")
	}
	return &model.DeviceLocation{
		DeviceID:  deviceID,
		Latitude:  *device.Latitude,
		Longitude: *device.Longitude,
		Timestamp: *device.LastSeen,
	}, nil
}
