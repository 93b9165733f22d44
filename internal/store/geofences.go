package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
)

// CreateGeofence inserts a geofence and writes its spatial shape column.
func (s *Store) CreateGeofence(ctx context.Context, geofence *model.Geofence) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Create(geofence).Error; err != nil {
			if apperr.IsKind(mapError(err), apperr.KindStoreConflict) {
				return apperr.Conflict("geofence name already in use")
			}
			return mapError(err)
		}
		return tx.writeShape(ctx, geofence)
	})
}

// SaveGeofence updates a geofence row and refreshes the shape column.
func (s *Store) SaveGeofence(ctx context.Context, geofence *model.Geofence) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.WithContext(ctx).Save(geofence).Error; err != nil {
			if apperr.IsKind(mapError(err), apperr.KindStoreConflict) {
				return apperr.Conflict("geofence name already in use")
			}
			return mapError(err)
		}
		return tx.writeShape(ctx, geofence)
	})
}

// writeShape mirrors the GeoJSON geometry into the PostGIS shape column
// used by the spatial predicates and the GiST index.
func (s *Store) writeShape(ctx context.Context, geofence *model.Geofence) error {
	ring, err := geofence.Polygon()
	if err != nil {
		return err
	}
	return mapError(s.db.WithContext(ctx).Exec(
		`UPDATE geofences SET shape = ST_GeomFromText(?, 4326) WHERE id = ?`,
		ring.WKT(), geofence.ID,
	).Error)
}

// GeofenceByID loads a geofence, enforcing ownership.
func (s *Store) GeofenceByID(ctx context.Context, userID, geofenceID uint) (*model.Geofence, error) {
	var geofence model.Geofence
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", geofenceID, userID).
		First(&geofence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("geofence not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &geofence, nil
}

// ListGeofences returns one page of the user's geofences.
func (s *Store) ListGeofences(ctx context.Context, userID uint, activeOnly bool, page, pageSize int) ([]model.Geofence, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Geofence{}).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("active = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, mapError(err)
	}

	var geofences []model.Geofence
	offset := (page - 1) * pageSize
	if err := q.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&geofences).Error; err != nil {
		return nil, 0, mapError(err)
	}
	return geofences, total, nil
}

// CountGeofences returns the number of geofences the user owns.
func (s *Store) CountGeofences(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Geofence{}).
		Where("user_id = ?", userID).Count(&count).Error
	return count, mapError(err)
}

// DeleteGeofence soft-deletes a geofence.
func (s *Store) DeleteGeofence(ctx context.Context, userID, geofenceID uint) error {
	geofence, err := s.GeofenceByID(ctx, userID, geofenceID)
	if err != nil {
		return err
	}
	return mapError(s.db.WithContext(ctx).Delete(geofence).Error)
}

// ActiveGeofences returns all of the user's active geofences. The geofence
// index rebuilds from this.
func (s *Store) ActiveGeofences(ctx context.Context, userID uint) ([]model.Geofence, error) {
	var geofences []model.Geofence
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&geofences).Error
	if err != nil {
		return nil, mapError(err)
	}
	return geofences, nil
}

// GeofencesContaining returns the user's active geofences whose shape
// contains the point, boundary inclusive to match the in-memory ray cast.
// Order is undefined.
func (s *Store) GeofencesContaining(ctx context.Context, userID uint, p geo.Point) ([]model.Geofence, error) {
	var geofences []model.Geofence
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ? AND shape IS NOT NULL", userID, true).
		Where("ST_Covers(shape, ST_SetSRID(ST_MakePoint(?, ?), 4326))", p.Lon, p.Lat).
		Find(&geofences).Error
	if err != nil {
		return nil, mapError(err)
	}
	return geofences, nil
}

// GeofencesNear returns the user's active geofences whose shape lies
// within distanceM of the point, nearest first.
func (s *Store) GeofencesNear(ctx context.Context, userID uint, p geo.Point, distanceM float64, limit int) ([]model.Geofence, error) {
	var geofences []model.Geofence
	err := s.db.WithContext(ctx).Raw(`
		SELECT * FROM geofences
		WHERE user_id = ?
		  AND active = TRUE
		  AND deleted_at IS NULL
		  AND shape IS NOT NULL
		  AND ST_DWithin(shape::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography, ?)
		ORDER BY ST_Distance(shape::geography, ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography) ASC
		LIMIT ?`,
		userID, p.Lon, p.Lat, distanceM, p.Lon, p.Lat, limit,
	).Scan(&geofences).Error
	if err != nil {
		return nil, mapError(err)
	}
	return geofences, nil
}
