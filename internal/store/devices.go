package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
)

// CreateDevice inserts a new device row.
func (s *Store) CreateDevice(ctx context.Context, device *model.Device) error {
	err := s.db.WithContext(ctx).Create(device).Error
	if err != nil && apperr.IsKind(mapError(err), apperr.KindStoreConflict) {
		return apperr.Conflict("device identifier already in use")
	}
	return mapError(err)
}

// DeviceByID loads a device, enforcing ownership. A device owned by a
// different user reports NOT_FOUND, never the foreign row.
func (s *Store) DeviceByID(ctx context.Context, userID, deviceID uint) (*model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", deviceID, userID).
		First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("device not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &device, nil
}

// ListDevices returns one page of the user's devices, newest first.
func (s *Store) ListDevices(ctx context.Context, userID uint, page, pageSize int) ([]model.Device, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Device{}).Where("user_id = ?", userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, mapError(err)
	}

	var devices []model.Device
	offset := (page - 1) * pageSize
	if err := q.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&devices).Error; err != nil {
		return nil, 0, mapError(err)
	}
	return devices, total, nil
}

// CountDevices returns the number of devices the user owns, for quota
// checks.
func (s *Store) CountDevices(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("user_id = ?", userID).Count(&count).Error
	return count, mapError(err)
}

// DeleteDevice removes a device and cascades its trajectories and points.
func (s *Store) DeleteDevice(ctx context.Context, userID, deviceID uint) error {
	return s.Transaction(ctx, func(tx *Store) error {
		device, err := tx.DeviceByID(ctx, userID, deviceID)
		if err != nil {
			return err
		}
		if err := tx.db.WithContext(ctx).
			Where("device_id = ?", device.ID).
			Delete(&model.TrajectoryPoint{}).Error; err != nil {
			return mapError(err)
		}
		if err := tx.db.WithContext(ctx).
			Where("device_id = ?", device.ID).
			Delete(&model.Trajectory{}).Error; err != nil {
			return mapError(err)
		}
		return mapError(tx.db.WithContext(ctx).Delete(device).Error)
	})
}

// UpsertDeviceLocation writes the device's last point and last_seen,
// conditional on seen_at advancing the clock. The matching spatial column
// is updated in the same statement batch so nearby queries stay coherent.
func (s *Store) UpsertDeviceLocation(ctx context.Context, deviceID uint, p geo.Point, seenAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("id = ? AND (last_seen IS NULL OR last_seen < ?)", deviceID, seenAt).
		Updates(map[string]interface{}{
			"latitude":  p.Lat,
			"longitude": p.Lon,
			"last_seen": seenAt,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		// Monotonicity already enforced upstream; a concurrent writer
		// advanced the clock first.
		return nil
	}
	err := s.db.WithContext(ctx).Exec(
		`UPDATE devices SET last_location = ST_SetSRID(ST_MakePoint(?, ?), 4326) WHERE id = ?`,
		p.Lon, p.Lat, deviceID,
	).Error
	return mapError(err)
}

// NearbyDevices returns the user's devices within radiusM of the point,
// ordered by distance ascending. Distances are geodesic (geography cast).
func (s *Store) NearbyDevices(ctx context.Context, userID uint, p geo.Point, radiusM float64, limit int) ([]model.DeviceWithDistance, error) {
	var rows []model.DeviceWithDistance
	err := s.db.WithContext(ctx).Raw(`
		SELECT devices.*,
		       ST_Distance(last_location::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) AS distance_m
		FROM devices
		WHERE user_id = ?
		  AND deleted_at IS NULL
		  AND last_location IS NOT NULL
		  AND ST_DWithin(last_location::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		ORDER BY distance_m ASC
		LIMIT ?`,
		p.Lon, p.Lat, userID, p.Lon, p.Lat, radiusM, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}
