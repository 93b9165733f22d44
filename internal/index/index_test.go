package index

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
)

type fakeLoader struct {
	geofences map[uint][]model.Geofence
	loadErr   error
	loads     int
	fallbacks int
}

func (f *fakeLoader) ActiveGeofences(_ context.Context, userID uint) ([]model.Geofence, error) {
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.geofences[userID], nil
}

func (f *fakeLoader) GeofencesContaining(_ context.Context, userID uint, p geo.Point) ([]model.Geofence, error) {
	f.fallbacks++
	var out []model.Geofence
	for i := range f.geofences[userID] {
		g := &f.geofences[userID][i]
		ring, err := g.Polygon()
		if err != nil {
			continue
		}
		if g.Active && ring.Contains(p) {
			out = append(out, *g)
		}
	}
	return out, nil
}

func square(id uint, name string, minLat, minLon, maxLat, maxLon float64) model.Geofence {
	g := model.Geofence{ID: id, Name: name, Active: true}
	g.SetPolygon(geo.Polygon{
		{Lat: minLat, Lon: minLon},
		{Lat: maxLat, Lon: minLon},
		{Lat: maxLat, Lon: maxLon},
		{Lat: minLat, Lon: maxLon},
		{Lat: minLat, Lon: minLon},
	})
	return g
}

func TestContainingRebuildsLazily(t *testing.T) {
	loader := &fakeLoader{geofences: map[uint][]model.Geofence{
		7: {
			square(1, "berlin", 52.5, 13.3, 52.55, 13.45),
			square(2, "hamburg", 53.5, 9.9, 53.6, 10.1),
		},
	}}
	ix := New(loader)

	refs, err := ix.Containing(context.Background(), 7, geo.Point{Lat: 52.525, Lon: 13.375})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, uint(1), refs[0].ID)
	assert.Equal(t, "berlin", refs[0].Name)
	assert.Equal(t, 1, loader.loads)

	// Second query is served from memory.
	_, err = ix.Containing(context.Background(), 7, geo.Point{Lat: 53.55, Lon: 10.0})
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads)
}

func TestContainingOverlap(t *testing.T) {
	loader := &fakeLoader{geofences: map[uint][]model.Geofence{
		7: {
			square(1, "outer", 0, 0, 10, 10),
			square(2, "inner", 4, 4, 6, 6),
			square(3, "elsewhere", 40, 40, 41, 41),
		},
	}}
	ix := New(loader)

	refs, err := ix.Containing(context.Background(), 7, geo.Point{Lat: 5, Lon: 5})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, uint(1), refs[0].ID)
	assert.Equal(t, uint(2), refs[1].ID)
}

func TestBroadphaseDoesNotOverMatch(t *testing.T) {
	// Triangle whose bbox covers the query point but whose ring does not.
	g := model.Geofence{ID: 9, Name: "triangle", Active: true}
	g.SetPolygon(geo.Polygon{
		{Lat: 0, Lon: 0},
		{Lat: 10, Lon: 0},
		{Lat: 0, Lon: 10},
		{Lat: 0, Lon: 0},
	})
	loader := &fakeLoader{geofences: map[uint][]model.Geofence{7: {g}}}
	ix := New(loader)

	refs, err := ix.Containing(context.Background(), 7, geo.Point{Lat: 9, Lon: 9})
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestUpsertAndRemove(t *testing.T) {
	loader := &fakeLoader{geofences: map[uint][]model.Geofence{7: {}}}
	ix := New(loader)
	p := geo.Point{Lat: 5, Lon: 5}

	refs, err := ix.Containing(context.Background(), 7, p)
	require.NoError(t, err)
	assert.Empty(t, refs)

	g := square(4, "new", 0, 0, 10, 10)
	ix.Upsert(7, &g)
	refs, err = ix.Containing(context.Background(), 7, p)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, uint(4), refs[0].ID)

	// Deactivation removes the entry.
	g.Active = false
	ix.Upsert(7, &g)
	refs, err = ix.Containing(context.Background(), 7, p)
	require.NoError(t, err)
	assert.Empty(t, refs)

	g.Active = true
	ix.Upsert(7, &g)
	ix.Remove(7, 4)
	refs, err = ix.Containing(context.Background(), 7, p)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestInvalidateForcesRebuild(t *testing.T) {
	loader := &fakeLoader{geofences: map[uint][]model.Geofence{
		7: {square(1, "berlin", 52.5, 13.3, 52.55, 13.45)},
	}}
	ix := New(loader)
	p := geo.Point{Lat: 52.525, Lon: 13.375}

	_, err := ix.Containing(context.Background(), 7, p)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads)

	ix.Invalidate(7)
	_, err = ix.Containing(context.Background(), 7, p)
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loads)
}

func TestHandleInvalidation(t *testing.T) {
	loader := &fakeLoader{geofences: map[uint][]model.Geofence{
		7: {square(1, "berlin", 52.5, 13.3, 52.55, 13.45)},
	}}
	ix := New(loader)

	_, err := ix.Containing(context.Background(), 7, geo.Point{Lat: 52.525, Lon: 13.375})
	require.NoError(t, err)

	ix.HandleInvalidation([]byte(`{"user_id":7,"geofence_id":1,"action":"updated"}`))
	_, err = ix.Containing(context.Background(), 7, geo.Point{Lat: 52.525, Lon: 13.375})
	require.NoError(t, err)
	assert.Equal(t, 2, loader.loads)

	// Malformed payloads are dropped without effect.
	ix.HandleInvalidation([]byte(`not-json`))
}

func TestFallbackToStorePredicate(t *testing.T) {
	loader := &fakeLoader{
		geofences: map[uint][]model.Geofence{
			7: {square(1, "berlin", 52.5, 13.3, 52.55, 13.45)},
		},
		loadErr: errors.New("store down"),
	}
	ix := New(loader)

	refs, err := ix.Containing(context.Background(), 7, geo.Point{Lat: 52.525, Lon: 13.375})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, uint(1), refs[0].ID)
	assert.Equal(t, 1, loader.fallbacks)
}
