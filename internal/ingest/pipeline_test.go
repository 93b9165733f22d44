package ingest

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/eventbus"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/tracker"
)

// memStore is an in-memory Store for pipeline tests. Transactions execute
// the callback directly; failNext injects one transaction error.
type memStore struct {
	mu           sync.Mutex
	devices      map[uint]*model.Device
	trajectories map[uint]*model.Trajectory
	points       []*model.TrajectoryPoint
	nextTrajID   uint
	nextPointID  uint
	failNext     error
}

func newMemStore() *memStore {
	return &memStore{
		devices:      make(map[uint]*model.Device),
		trajectories: make(map[uint]*model.Trajectory),
	}
}

func (s *memStore) addDevice(userID, deviceID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID] = &model.Device{ID: deviceID, UserID: userID, Name: "test-device"}
}

func (s *memStore) DeviceByID(ctx context.Context, userID, deviceID uint) (*model.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok || d.UserID != userID {
		return nil, apperr.NotFound("device not found")
	}
	clone := *d
	return &clone, nil
}

func (s *memStore) OpenTrajectory(ctx context.Context, deviceID uint, since time.Time) (*model.Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *model.Trajectory
	for _, tr := range s.trajectories {
		if tr.DeviceID != deviceID || tr.EndTime.Before(since) {
			continue
		}
		if latest == nil || tr.EndTime.After(latest.EndTime) {
			latest = tr
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

func (s *memStore) LastTrajectoryPoint(ctx context.Context, trajectoryID uint) (*model.TrajectoryPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *model.TrajectoryPoint
	for _, p := range s.points {
		if p.TrajectoryID != trajectoryID {
			continue
		}
		if last == nil || p.Timestamp.After(last.Timestamp) {
			last = p
		}
	}
	if last == nil {
		return nil, apperr.NotFound("no points")
	}
	clone := *last
	return &clone, nil
}

func (s *memStore) CreateTrajectory(ctx context.Context, trajectory *model.Trajectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTrajID++
	trajectory.ID = s.nextTrajID
	clone := *trajectory
	s.trajectories[trajectory.ID] = &clone
	return nil
}

func (s *memStore) SaveTrajectory(ctx context.Context, trajectory *model.Trajectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *trajectory
	s.trajectories[trajectory.ID] = &clone
	return nil
}

func (s *memStore) AppendTrajectoryPoint(ctx context.Context, point *model.TrajectoryPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPointID++
	point.ID = s.nextPointID
	clone := *point
	s.points = append(s.points, &clone)
	return nil
}

func (s *memStore) UpsertDeviceLocation(ctx context.Context, deviceID uint, p geo.Point, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return apperr.NotFound("device not found")
	}
	if d.LastSeen == nil || d.LastSeen.Before(seenAt) {
		lat, lon, ts := p.Lat, p.Lon, seenAt
		d.Latitude, d.Longitude, d.LastSeen = &lat, &lon, &ts
	}
	return nil
}

func (s *memStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return fn(s)
}

func (s *memStore) deviceTrajectories(deviceID uint) []*model.Trajectory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Trajectory
	for _, tr := range s.trajectories {
		if tr.DeviceID == deviceID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (s *memStore) pointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.points)
}

type fakeFence struct {
	id   uint
	name string
	ring geo.Polygon
}

type fakeContainment struct {
	fences []fakeFence
}

func (f *fakeContainment) Containing(ctx context.Context, userID uint, p geo.Point) ([]model.GeofenceRef, error) {
	var refs []model.GeofenceRef
	for _, fence := range f.fences {
		if fence.ring.Contains(p) {
			refs = append(refs, model.GeofenceRef{ID: fence.id, Name: fence.name})
		}
	}
	return refs, nil
}

// berlinSquare covers 52.52..52.53 lat, 13.37..13.38 lon.
func berlinSquare() geo.Polygon {
	return geo.Polygon{
		{Lat: 52.52, Lon: 13.37},
		{Lat: 52.52, Lon: 13.38},
		{Lat: 52.53, Lon: 13.38},
		{Lat: 52.53, Lon: 13.37},
		{Lat: 52.52, Lon: 13.37},
	}
}

var testEpoch = time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)

type pipelineFixture struct {
	pipeline *Pipeline
	store    *memStore
	bus      *eventbus.Bus
	events   <-chan model.GeofenceEvent
	clock    *clockwork.FakeClock
}

func newPipelineFixture(t *testing.T, fences ...fakeFence) *pipelineFixture {
	t.Helper()
	st := newMemStore()
	st.addDevice(1, 100)
	bus := eventbus.New(nil, nil)
	events, cancel := bus.Subscribe(64)
	t.Cleanup(cancel)
	clock := clockwork.NewFakeClockAt(testEpoch)
	tr := tracker.New(&fakeContainment{fences: fences}, nil)
	return &pipelineFixture{
		pipeline: NewPipeline(st, tr, bus, nil, clock, time.Hour),
		store:    st,
		bus:      bus,
		events:   events,
		clock:    clock,
	}
}

func locReq(lat, lon float64, ts time.Time) *model.LocationUpdateRequest {
	return &model.LocationUpdateRequest{Latitude: &lat, Longitude: &lon, Timestamp: &ts}
}

func drainEvents(ch <-chan model.GeofenceEvent) []model.GeofenceEvent {
	var out []model.GeofenceEvent
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestEnterEventOnFirstInsideUpdate(t *testing.T) {
	f := newPipelineFixture(t, fakeFence{id: 9, name: "berlin", ring: berlinSquare()})

	device, err := f.pipeline.UpdateLocation(context.Background(), 1, 100, locReq(52.525, 13.375, testEpoch))
	require.NoError(t, err)
	require.NotNil(t, device.LastSeen)
	assert.Equal(t, 52.525, *device.Latitude)

	events := drainEvents(f.events)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventEnter, events[0].EventType)
	assert.Equal(t, uint(9), events[0].GeofenceID)
	assert.Equal(t, uint(100), events[0].DeviceID)
	assert.Equal(t, uint(1), events[0].UserID)
	assert.NotEmpty(t, events[0].EventID)
}

func TestExitEventAndDistanceAccumulation(t *testing.T) {
	f := newPipelineFixture(t, fakeFence{id: 9, name: "berlin", ring: berlinSquare()})
	ctx := context.Background()

	inside := geo.Point{Lat: 52.525, Lon: 13.375}
	outside := geo.Point{Lat: 52.62, Lon: 13.30}

	_, err := f.pipeline.UpdateLocation(ctx, 1, 100, locReq(inside.Lat, inside.Lon, testEpoch))
	require.NoError(t, err)
	_, err = f.pipeline.UpdateLocation(ctx, 1, 100, locReq(outside.Lat, outside.Lon, testEpoch.Add(10*time.Minute)))
	require.NoError(t, err)

	events := drainEvents(f.events)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventEnter, events[0].EventType)
	assert.Equal(t, model.EventExit, events[1].EventType)

	trajectories := f.store.deviceTrajectories(100)
	require.Len(t, trajectories, 1)
	tr := trajectories[0]
	assert.Equal(t, 2, tr.PointCount)
	assert.InEpsilon(t, geo.Haversine(inside, outside), tr.TotalDistanceM, 0.01)
	assert.InEpsilon(t, tr.TotalDistanceM/600, tr.AvgSpeedMS, 0.01)
}

func TestTrajectorySplitsAfterGap(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.50, 13.40, testEpoch))
	require.NoError(t, err)
	_, err = f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.51, 13.41, testEpoch.Add(10*time.Minute)))
	require.NoError(t, err)

	// Within the gap threshold: extends the open trajectory.
	_, err = f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.52, 13.42, testEpoch.Add(65*time.Minute)))
	require.NoError(t, err)

	// Beyond the threshold: opens a new one.
	_, err = f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.53, 13.43, testEpoch.Add(3*time.Hour)))
	require.NoError(t, err)

	trajectories := f.store.deviceTrajectories(100)
	require.Len(t, trajectories, 2)
	assert.Equal(t, 3, trajectories[0].PointCount)
	assert.Equal(t, 1, trajectories[1].PointCount)
	assert.Equal(t, testEpoch.Add(3*time.Hour), trajectories[1].StartTime)
	assert.Zero(t, trajectories[1].TotalDistanceM)
}

func TestOutOfOrderRejected(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.50, 13.40, testEpoch))
	require.NoError(t, err)

	_, err = f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.51, 13.41, testEpoch.Add(-time.Second)))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindOutOfOrder))

	appErr := apperr.AsError(err)
	require.NotNil(t, appErr)
	assert.Contains(t, appErr.Details, "last_seen")

	assert.Equal(t, 1, f.store.pointCount())
}

func TestReplayIsIdempotent(t *testing.T) {
	f := newPipelineFixture(t, fakeFence{id: 9, name: "berlin", ring: berlinSquare()})
	ctx := context.Background()

	_, err := f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.525, 13.375, testEpoch))
	require.NoError(t, err)
	drainEvents(f.events)

	device, err := f.pipeline.UpdateLocation(ctx, 1, 100, locReq(52.525, 13.375, testEpoch))
	require.NoError(t, err)
	require.NotNil(t, device)

	assert.Empty(t, drainEvents(f.events))
	assert.Equal(t, 1, f.store.pointCount())
}

func TestMissingTimestampDefaultsToNow(t *testing.T) {
	f := newPipelineFixture(t)
	lat, lon := 52.50, 13.40

	device, err := f.pipeline.UpdateLocation(context.Background(), 1, 100,
		&model.LocationUpdateRequest{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)
	assert.Equal(t, testEpoch, device.LastSeen.UTC())
}

func TestNormalizeClampsTelemetry(t *testing.T) {
	f := newPipelineFixture(t)

	heading := 370.0
	speed := -3.5
	lat, lon := 52.50, 13.40
	n, err := f.pipeline.normalize(&model.LocationUpdateRequest{
		Latitude: &lat, Longitude: &lon, Heading: &heading, Speed: &speed,
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, *n.heading)
	assert.Equal(t, 0.0, *n.speed)

	heading = -45
	n, err = f.pipeline.normalize(&model.LocationUpdateRequest{
		Latitude: &lat, Longitude: &lon, Heading: &heading,
	})
	require.NoError(t, err)
	assert.Equal(t, 315.0, *n.heading)

	badLat := 95.0
	_, err = f.pipeline.normalize(&model.LocationUpdateRequest{Latitude: &badLat, Longitude: &lon})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))

	_, err = f.pipeline.normalize(&model.LocationUpdateRequest{Latitude: &lat})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
}

func TestTransientStoreErrorRetriesOnce(t *testing.T) {
	st := newMemStore()
	st.addDevice(1, 100)
	st.failNext = apperr.New(apperr.KindStoreTransient, "deadlock detected")

	bus := eventbus.New(nil, nil)
	tr := tracker.New(&fakeContainment{}, nil)
	// Real clock: the retry sleeps 50-150ms.
	p := NewPipeline(st, tr, bus, nil, clockwork.NewRealClock(), time.Hour)

	_, err := p.UpdateLocation(context.Background(), 1, 100, locReq(52.50, 13.40, testEpoch))
	require.NoError(t, err)
	assert.Equal(t, 1, st.pointCount())
}

func bulkItem(deviceID uint, lat, lon float64, ts time.Time) model.BulkLocationItem {
	return model.BulkLocationItem{
		DeviceID:              deviceID,
		LocationUpdateRequest: *locReq(lat, lon, ts),
	}
}

func TestBulkMatchesSequential(t *testing.T) {
	ctx := context.Background()
	items := []model.BulkLocationItem{
		bulkItem(100, 52.50, 13.40, testEpoch),
		bulkItem(101, 48.85, 2.35, testEpoch),
		bulkItem(100, 52.51, 13.41, testEpoch.Add(5*time.Minute)),
		bulkItem(101, 48.86, 2.36, testEpoch.Add(5*time.Minute)),
		bulkItem(100, 52.52, 13.42, testEpoch.Add(10*time.Minute)),
	}

	seq := newPipelineFixture(t)
	seq.store.addDevice(1, 101)
	for _, item := range items {
		req := item.LocationUpdateRequest
		_, err := seq.pipeline.UpdateLocation(ctx, 1, item.DeviceID, &req)
		require.NoError(t, err)
	}

	bulk := newPipelineFixture(t)
	bulk.store.addDevice(1, 101)
	result, err := bulk.pipeline.BulkUpdate(ctx, 1, items)
	require.NoError(t, err)
	assert.Len(t, result.Successful, 5)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 5, result.Total)

	for _, deviceID := range []uint{100, 101} {
		want := seq.store.deviceTrajectories(deviceID)
		got := bulk.store.deviceTrajectories(deviceID)
		require.Len(t, got, len(want))
		for i := range want {
			assert.Equal(t, want[i].PointCount, got[i].PointCount)
			assert.InDelta(t, want[i].TotalDistanceM, got[i].TotalDistanceM, 1e-6)
			assert.Equal(t, want[i].StartTime, got[i].StartTime)
			assert.Equal(t, want[i].EndTime, got[i].EndTime)
		}
	}
}

func TestBulkRejectsOversizedBatch(t *testing.T) {
	f := newPipelineFixture(t)
	items := make([]model.BulkLocationItem, MaxBulkItems+1)
	for i := range items {
		items[i] = bulkItem(100, 52.50, 13.40, testEpoch.Add(time.Duration(i)*time.Second))
	}

	_, err := f.pipeline.BulkUpdate(context.Background(), 1, items)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidInput))
	assert.Zero(t, f.store.pointCount())
}

func TestBulkPerDeviceOrderViolation(t *testing.T) {
	f := newPipelineFixture(t)
	f.store.addDevice(1, 101)

	items := []model.BulkLocationItem{
		bulkItem(100, 52.50, 13.40, testEpoch.Add(time.Minute)),
		bulkItem(101, 48.85, 2.35, testEpoch),
		bulkItem(100, 52.51, 13.41, testEpoch), // out of order for device 100
	}

	result, err := f.pipeline.BulkUpdate(context.Background(), 1, items)
	require.NoError(t, err)

	// Device 100's items all fail without touching the store; device 101
	// proceeds.
	assert.Equal(t, []uint{101}, result.Successful)
	require.Len(t, result.Failed, 2)
	for _, failure := range result.Failed {
		assert.Equal(t, uint(100), failure.DeviceID)
		assert.Equal(t, string(apperr.KindInvalidInput), failure.ErrorKind)
	}
	assert.Equal(t, 1, f.store.pointCount())
}

func TestBulkUnknownDeviceFailsItemOnly(t *testing.T) {
	f := newPipelineFixture(t)

	items := []model.BulkLocationItem{
		bulkItem(100, 52.50, 13.40, testEpoch),
		bulkItem(999, 52.50, 13.40, testEpoch),
	}

	result, err := f.pipeline.BulkUpdate(context.Background(), 1, items)
	require.NoError(t, err)
	assert.Equal(t, []uint{100}, result.Successful)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, uint(999), result.Failed[0].DeviceID)
	assert.Equal(t, string(apperr.KindNotFound), result.Failed[0].ErrorKind)
}
