package store

import (
	"context"

	"github.com/lib/pq"

	"geoinsight/api/internal/geo"
)

// BulkDistances returns the geodesic distance in meters from origin to each
// of points, in input order. The computation runs store-side on the
// geography type in one round trip.
func (s *Store) BulkDistances(ctx context.Context, origin geo.Point, points []geo.Point) ([]float64, error) {
	if len(points) == 0 {
		return []float64{}, nil
	}

	lons := make(pq.Float64Array, len(points))
	lats := make(pq.Float64Array, len(points))
	for i, p := range points {
		lons[i] = p.Lon
		lats[i] = p.Lat
	}

	var distances []float64
	err := s.db.WithContext(ctx).Raw(`
		SELECT ST_Distance(
			ST_SetSRID(ST_MakePoint(t.lon, t.lat), 4326)::geography,
			ST_SetSRID(ST_MakePoint(?, ?), 4326)::geography
		)
		FROM unnest(?::float8[], ?::float8[]) WITH ORDINALITY AS t(lon, lat, ord)
		ORDER BY t.ord`,
		origin.Lon, origin.Lat, lons, lats,
	).Scan(&distances).Error
	if err != nil {
		return nil, mapError(err)
	}
	return distances, nil
}
