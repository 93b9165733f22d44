package tracker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
)

// fakeIndex reports containment for axis-aligned boxes.
type fakeIndex struct {
	boxes map[uint]geo.BBox
}

func (f *fakeIndex) Containing(_ context.Context, _ uint, p geo.Point) ([]model.GeofenceRef, error) {
	var refs []model.GeofenceRef
	for id, box := range f.boxes {
		if box.Contains(p) {
			refs = append(refs, model.GeofenceRef{ID: id})
		}
	}
	return refs, nil
}

// fakeMirror is an in-memory stand-in for the redis mirror.
type fakeMirror struct {
	data map[string][]byte
}

func newFakeMirror() *fakeMirror { return &fakeMirror{data: map[string][]byte{}} }

func (f *fakeMirror) GetJSON(_ context.Context, key string, v interface{}) error {
	raw, ok := f.data[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, v)
}

func (f *fakeMirror) SetJSON(_ context.Context, key string, v interface{}, _ time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.data[key] = raw
	return nil
}

func (f *fakeMirror) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

var berlinBox = geo.BBox{MinLat: 52.5, MinLon: 13.3, MaxLat: 52.55, MaxLon: 13.45}

func TestEnterThenExit(t *testing.T) {
	tr := New(&fakeIndex{boxes: map[uint]geo.BBox{1: berlinBox}}, newFakeMirror())
	ctx := context.Background()
	ts := time.Now()

	inside := geo.Point{Lat: 52.525, Lon: 13.375}
	diff, err := tr.Evaluate(ctx, 7, 42, inside, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, diff.Entered)
	assert.Empty(t, diff.Exited)
	assert.Equal(t, []uint{1}, diff.Members)
	tr.Commit(ctx, 42, diff, inside, ts)

	outside := geo.Point{Lat: 52.6, Lon: 13.5}
	diff, err = tr.Evaluate(ctx, 7, 42, outside, &inside)
	require.NoError(t, err)
	assert.Empty(t, diff.Entered)
	assert.Equal(t, []uint{1}, diff.Exited)
	assert.Empty(t, diff.Members)
	tr.Commit(ctx, 42, diff, outside, ts)
}

func TestReplaySamePointIsEmptyDiff(t *testing.T) {
	tr := New(&fakeIndex{boxes: map[uint]geo.BBox{1: berlinBox}}, newFakeMirror())
	ctx := context.Background()
	p := geo.Point{Lat: 52.525, Lon: 13.375}

	diff, err := tr.Evaluate(ctx, 7, 42, p, nil)
	require.NoError(t, err)
	tr.Commit(ctx, 42, diff, p, time.Now())

	diff, err = tr.Evaluate(ctx, 7, 42, p, &p)
	require.NoError(t, err)
	assert.Empty(t, diff.Entered)
	assert.Empty(t, diff.Exited)
}

func TestEvaluateWithoutCommitDoesNotMutate(t *testing.T) {
	tr := New(&fakeIndex{boxes: map[uint]geo.BBox{1: berlinBox}}, newFakeMirror())
	ctx := context.Background()
	p := geo.Point{Lat: 52.525, Lon: 13.375}

	// First evaluation is never committed, as if the store transaction
	// failed. The transition must fire again next time.
	diff, err := tr.Evaluate(ctx, 7, 42, p, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, diff.Entered)

	diff, err = tr.Evaluate(ctx, 7, 42, p, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, diff.Entered)
}

func TestWarmRestartFromMirror(t *testing.T) {
	mirror := newFakeMirror()
	ctx := context.Background()
	p := geo.Point{Lat: 52.525, Lon: 13.375}

	tr := New(&fakeIndex{boxes: map[uint]geo.BBox{1: berlinBox}}, mirror)
	diff, err := tr.Evaluate(ctx, 7, 42, p, nil)
	require.NoError(t, err)
	tr.Commit(ctx, 42, diff, p, time.Now())

	// New tracker instance, same mirror: no spurious enter.
	tr2 := New(&fakeIndex{boxes: map[uint]geo.BBox{1: berlinBox}}, mirror)
	diff, err = tr2.Evaluate(ctx, 7, 42, p, &p)
	require.NoError(t, err)
	assert.Empty(t, diff.Entered)
	assert.Empty(t, diff.Exited)
}

func TestColdStartReconstructsFromLastPoint(t *testing.T) {
	// No mirror at all: the previous point rebuilds the membership set so
	// a stationary device does not re-enter.
	tr := New(&fakeIndex{boxes: map[uint]geo.BBox{1: berlinBox}}, nil)
	ctx := context.Background()
	p := geo.Point{Lat: 52.525, Lon: 13.375}

	diff, err := tr.Evaluate(ctx, 7, 42, p, &p)
	require.NoError(t, err)
	assert.Empty(t, diff.Entered)
	assert.Empty(t, diff.Exited)
	assert.Equal(t, []uint{1}, diff.Members)
}

func TestOverlappingGeofences(t *testing.T) {
	boxes := map[uint]geo.BBox{
		1: {MinLat: 0, MinLon: 0, MaxLat: 10, MaxLon: 10},
		2: {MinLat: 4, MinLon: 4, MaxLat: 6, MaxLon: 6},
	}
	tr := New(&fakeIndex{boxes: boxes}, newFakeMirror())
	ctx := context.Background()

	center := geo.Point{Lat: 5, Lon: 5}
	diff, err := tr.Evaluate(ctx, 7, 42, center, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, diff.Entered)
	tr.Commit(ctx, 42, diff, center, time.Now())

	// Leaving only the inner box.
	edge := geo.Point{Lat: 8, Lon: 8}
	diff, err = tr.Evaluate(ctx, 7, 42, edge, &center)
	require.NoError(t, err)
	assert.Empty(t, diff.Entered)
	assert.Equal(t, []uint{2}, diff.Exited)
	assert.Equal(t, []uint{1}, diff.Members)
}

func TestForget(t *testing.T) {
	mirror := newFakeMirror()
	tr := New(&fakeIndex{boxes: map[uint]geo.BBox{1: berlinBox}}, mirror)
	ctx := context.Background()
	p := geo.Point{Lat: 52.525, Lon: 13.375}

	diff, err := tr.Evaluate(ctx, 7, 42, p, nil)
	require.NoError(t, err)
	tr.Commit(ctx, 42, diff, p, time.Now())
	require.NotEmpty(t, mirror.data)

	tr.Forget(ctx, 42)
	assert.Empty(t, mirror.data)

	// After forgetting, the device re-enters on its next update.
	diff, err = tr.Evaluate(ctx, 7, 42, p, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, diff.Entered)
}
