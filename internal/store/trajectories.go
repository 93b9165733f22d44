package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/model"
)

// OpenTrajectory returns the device trajectory open for extension: the one
// with the greatest end_time at or after since. Returns nil when none is
// open.
func (s *Store) OpenTrajectory(ctx context.Context, deviceID uint, since time.Time) (*model.Trajectory, error) {
	var trajectory model.Trajectory
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND end_time >= ?", deviceID, since).
		Order("end_time DESC").
		First(&trajectory).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &trajectory, nil
}

// CreateTrajectory inserts a new trajectory segment.
func (s *Store) CreateTrajectory(ctx context.Context, trajectory *model.Trajectory) error {
	return mapError(s.db.WithContext(ctx).Create(trajectory).Error)
}

// SaveTrajectory persists updated trajectory aggregates.
func (s *Store) SaveTrajectory(ctx context.Context, trajectory *model.Trajectory) error {
	return mapError(s.db.WithContext(ctx).Save(trajectory).Error)
}

// AppendTrajectoryPoint inserts one telemetry sample and mirrors it into
// the spatial location column.
func (s *Store) AppendTrajectoryPoint(ctx context.Context, point *model.TrajectoryPoint) error {
	if err := s.db.WithContext(ctx).Create(point).Error; err != nil {
		return mapError(err)
	}
	err := s.db.WithContext(ctx).Exec(
		`UPDATE trajectory_points SET location = ST_SetSRID(ST_MakePoint(?, ?), 4326) WHERE id = ?`,
		point.Longitude, point.Latitude, point.ID,
	).Error
	return mapError(err)
}

// LastTrajectoryPoint returns the newest point of a trajectory, or nil for
// an empty segment.
func (s *Store) LastTrajectoryPoint(ctx context.Context, trajectoryID uint) (*model.TrajectoryPoint, error) {
	var point model.TrajectoryPoint
	err := s.db.WithContext(ctx).
		Where("trajectory_id = ?", trajectoryID).
		Order("timestamp DESC").
		First(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &point, nil
}

// ListTrajectories returns a device's trajectories in the window,
// descending by start_time.
func (s *Store) ListTrajectories(ctx context.Context, deviceID uint, start, end *time.Time, limit int) ([]model.Trajectory, error) {
	q := s.db.WithContext(ctx).Where("device_id = ?", deviceID)
	if start != nil {
		q = q.Where("start_time >= ?", *start)
	}
	if end != nil {
		q = q.Where("end_time <= ?", *end)
	}

	var trajectories []model.Trajectory
	if err := q.Order("start_time DESC").Limit(limit).Find(&trajectories).Error; err != nil {
		return nil, mapError(err)
	}
	return trajectories, nil
}

// TrajectoryByID loads one trajectory, enforcing ownership through the
// device row.
func (s *Store) TrajectoryByID(ctx context.Context, userID, trajectoryID uint) (*model.Trajectory, error) {
	var trajectory model.Trajectory
	err := s.db.WithContext(ctx).
		Joins("JOIN devices ON devices.id = trajectories.device_id").
		Where("trajectories.id = ? AND devices.user_id = ?", trajectoryID, userID).
		First(&trajectory).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("trajectory not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &trajectory, nil
}

// TrajectoryPoints returns a trajectory's points ascending by timestamp.
func (s *Store) TrajectoryPoints(ctx context.Context, trajectoryID uint, limit int) ([]model.TrajectoryPoint, error) {
	var points []model.TrajectoryPoint
	err := s.db.WithContext(ctx).
		Where("trajectory_id = ?", trajectoryID).
		Order("timestamp ASC").
		Limit(limit).
		Find(&points).Error
	if err != nil {
		return nil, mapError(err)
	}
	return points, nil
}

type statsRow struct {
	TotalPoints     int64
	TotalDistanceM  float64
	MaxSpeedMS      float64
	TrajectoryCount int64
	ActiveDays      int64
	ActiveSeconds   float64
}

// DeviceStats aggregates motion statistics over trajectories intersecting
// the window [now - days, now].
func (s *Store) DeviceStats(ctx context.Context, deviceID uint, days int, now time.Time) (*model.DeviceStats, error) {
	since := now.AddDate(0, 0, -days)

	var row statsRow
	err := s.db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(point_count), 0)                                        AS total_points,
		       COALESCE(SUM(total_distance_m), 0)                                   AS total_distance_m,
		       COALESCE(MAX(max_speed_ms), 0)                                       AS max_speed_ms,
		       COUNT(*)                                                             AS trajectory_count,
		       COALESCE(SUM(EXTRACT(EPOCH FROM end_time - start_time)), 0)          AS active_seconds
		FROM trajectories
		WHERE device_id = ? AND end_time >= ?`,
		deviceID, since,
	).Scan(&row).Error
	if err != nil {
		return nil, mapError(err)
	}

	var activeDays int64
	err = s.db.WithContext(ctx).Raw(`
		SELECT COUNT(DISTINCT DATE(timestamp))
		FROM trajectory_points
		WHERE device_id = ? AND timestamp >= ?`,
		deviceID, since,
	).Scan(&activeDays).Error
	if err != nil {
		return nil, mapError(err)
	}

	stats := &model.DeviceStats{
		DeviceID:        deviceID,
		PeriodDays:      days,
		TotalPoints:     row.TotalPoints,
		TotalDistanceM:  row.TotalDistanceM,
		MaxSpeedMS:      row.MaxSpeedMS,
		TrajectoryCount: row.TrajectoryCount,
		ActiveDays:      activeDays,
	}
	if row.ActiveSeconds > 0 {
		stats.AvgSpeedMS = row.TotalDistanceM / row.ActiveSeconds
	}
	return stats, nil
}
