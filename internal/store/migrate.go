package store

import (
	"log"

	"gorm.io/gorm"

	"geoinsight/api/internal/model"
)

// spatialDDL holds the statements AutoMigrate cannot express: the PostGIS
// extension, the geometry columns written via raw SQL, and the indexes the
// ingest path depends on.
var spatialDDL = []string{
	`CREATE EXTENSION IF NOT EXISTS postgis`,
	`ALTER TABLE devices ADD COLUMN IF NOT EXISTS last_location geometry(Point,4326)`,
	`ALTER TABLE geofences ADD COLUMN IF NOT EXISTS shape geometry(Polygon,4326)`,
	`ALTER TABLE trajectory_points ADD COLUMN IF NOT EXISTS location geometry(Point,4326)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_last_location ON devices USING GIST (last_location)`,
	`CREATE INDEX IF NOT EXISTS idx_geofences_shape ON geofences USING GIST (shape)`,
	`CREATE INDEX IF NOT EXISTS idx_trajectory_points_location ON trajectory_points USING GIST (location)`,
	// Serves recency-filtered device listings. A partial index bounded to
	// the last 24h is not possible: now() is not immutable in Postgres
	// index predicates, so the plain composite index is used.
	`CREATE INDEX IF NOT EXISTS idx_devices_user_last_seen ON devices (user_id, last_seen)`,
}

// Migrate creates the schema: gorm AutoMigrate for the entity tables, then
// the spatial columns and indexes.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Device{},
		&model.Geofence{},
		&model.Trajectory{},
		&model.TrajectoryPoint{},
	); err != nil {
		return mapError(err)
	}

	for _, stmt := range spatialDDL {
		if err := db.Exec(stmt).Error; err != nil {
			log.Printf("[Store] DDL failed (%s): %v", stmt, err)
			return mapError(err)
		}
	}
	return nil
}
