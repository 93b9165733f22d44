package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/ratelimit"
)

type fakeDistanceStore struct {
	distances []float64
	err       error
	calls     int
}

func (f *fakeDistanceStore) BulkDistances(_ context.Context, _ geo.Point, points []geo.Point) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.distances != nil {
		return f.distances, nil
	}
	return make([]float64, len(points)), nil
}

func TestRouteDistancesUsesStore(t *testing.T) {
	st := &fakeDistanceStore{distances: []float64{100, 200}}
	s := NewSpatialService(st, ratelimit.NewTiers())

	got, err := s.RouteDistances(context.Background(), model.TierFree,
		geo.Point{Lat: 52.52, Lon: 13.37},
		[]geo.Point{{Lat: 52.53, Lon: 13.37}, {Lat: 52.54, Lon: 13.37}},
	)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 200}, got)
	assert.Equal(t, 1, st.calls)
}

func TestRouteDistancesFallsBackOnStoreFailure(t *testing.T) {
	st := &fakeDistanceStore{err: errors.New("connection refused")}
	s := NewSpatialService(st, ratelimit.NewTiers())

	origin := geo.Point{Lat: 52.52, Lon: 13.37}
	waypoints := []geo.Point{{Lat: 52.53, Lon: 13.37}, {Lat: 52.52, Lon: 13.39}}

	got, err := s.RouteDistances(context.Background(), model.TierFree, origin, waypoints)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InEpsilon(t, geo.Haversine(origin, waypoints[0]), got[0], 1e-9)
	assert.InEpsilon(t, geo.Haversine(origin, waypoints[1]), got[1], 1e-9)
}

func TestRouteDistancesEnforcesWaypointQuota(t *testing.T) {
	st := &fakeDistanceStore{}
	s := NewSpatialService(st, ratelimit.NewTiers())

	// Free tier allows 10 waypoints.
	waypoints := make([]geo.Point, 11)
	for i := range waypoints {
		waypoints[i] = geo.Point{Lat: 52.52, Lon: 13.37 + float64(i)*0.01}
	}

	_, err := s.RouteDistances(context.Background(), model.TierFree, geo.Point{Lat: 52.52, Lon: 13.37}, waypoints)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindQuotaExceeded))
	assert.Zero(t, st.calls)

	// The basic tier accepts the same batch.
	_, err = s.RouteDistances(context.Background(), model.TierBasic, geo.Point{Lat: 52.52, Lon: 13.37}, waypoints)
	require.NoError(t, err)
}

func TestRouteDistancesRejectsBadInput(t *testing.T) {
	s := NewSpatialService(&fakeDistanceStore{}, ratelimit.NewTiers())
	ok := geo.Point{Lat: 52.52, Lon: 13.37}

	_, err := s.RouteDistances(context.Background(), model.TierFree, geo.Point{Lat: 91, Lon: 0}, []geo.Point{ok})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = s.RouteDistances(context.Background(), model.TierFree, ok, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = s.RouteDistances(context.Background(), model.TierFree, ok, []geo.Point{{Lat: 0, Lon: 181}})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}
