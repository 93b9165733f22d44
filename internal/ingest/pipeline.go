package ingest

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"geoinsight/api/internal/apperr"
	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/eventbus"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/metrics"
	"geoinsight/api/internal/model"
	"geoinsight/api/internal/tracker"
)

// Store is the persistence surface the pipeline writes through. All
// methods inside a Transaction callback run on the same store transaction.
type Store interface {
	DeviceByID(ctx context.Context, userID, deviceID uint) (*model.Device, error)
	OpenTrajectory(ctx context.Context, deviceID uint, since time.Time) (*model.Trajectory, error)
	LastTrajectoryPoint(ctx context.Context, trajectoryID uint) (*model.TrajectoryPoint, error)
	CreateTrajectory(ctx context.Context, trajectory *model.Trajectory) error
	SaveTrajectory(ctx context.Context, trajectory *model.Trajectory) error
	AppendTrajectoryPoint(ctx context.Context, point *model.TrajectoryPoint) error
	UpsertDeviceLocation(ctx context.Context, deviceID uint, p geo.Point, seenAt time.Time) error
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// HotCache mirrors the freshest device location for read paths. Satisfied
// by *cache.Cache; may be nil.
type HotCache interface {
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
}

// Pipeline is the ingestion engine: one entry point per location update,
// orchestrating membership evaluation, trajectory segmentation, the store
// transaction and event fanout under a per-device critical section.
type Pipeline struct {
	store   Store
	tracker *tracker.Tracker
	bus     *eventbus.Bus
	hot     HotCache
	clock   clockwork.Clock
	gap     time.Duration
	locks   lockTable
}

// NewPipeline wires the ingestion engine. gap is the trajectory
// segmentation threshold.
func NewPipeline(store Store, tr *tracker.Tracker, bus *eventbus.Bus, hot HotCache, clock clockwork.Clock, gap time.Duration) *Pipeline {
	return &Pipeline{store: store, tracker: tr, bus: bus, hot: hot, clock: clock, gap: gap}
}

// normalized is a validated location update ready for the critical
// section.
type normalized struct {
	point    geo.Point
	ts       time.Time
	speed    *float64
	heading  *float64
	accuracy *float64
	altitude *float64
	metadata model.JSONMap
}

// normalize validates coordinates and clamps telemetry: heading wraps into
// [0, 360), speed and accuracy floor at zero, a missing timestamp becomes
// now.
func (p *Pipeline) normalize(req *model.LocationUpdateRequest) (*normalized, error) {
	if req.Latitude == nil || req.Longitude == nil {
		return nil, apperr.InvalidInput("latitude and longitude are required")
	}
	if err := geo.ValidatePoint(*req.Latitude, *req.Longitude); err != nil {
		return nil, err
	}

	n := &normalized{
		point:    geo.Point{Lat: *req.Latitude, Lon: *req.Longitude},
		altitude: req.Altitude,
		metadata: req.Metadata,
	}

	if req.Timestamp != nil {
		n.ts = req.Timestamp.UTC()
	} else {
		n.ts = p.clock.Now().UTC()
	}
	if req.Speed != nil {
		s := math.Max(0, *req.Speed)
		n.speed = &s
	}
	if req.Heading != nil {
		h := math.Mod(*req.Heading, 360)
		if h < 0 {
			h += 360
		}
		n.heading = &h
	}
	if req.Accuracy != nil {
		a := math.Max(0, *req.Accuracy)
		n.accuracy = &a
	}
	return n, nil
}

// UpdateLocation runs one location update through the full pipeline and
// returns the updated device view. Same-timestamp replays return the
// current view without writing or emitting anything.
func (p *Pipeline) UpdateLocation(ctx context.Context, userID, deviceID uint, req *model.LocationUpdateRequest) (*model.Device, error) {
	start := p.clock.Now()
	device, err := p.updateLocation(ctx, userID, deviceID, req)
	metrics.IngestDuration.Observe(p.clock.Since(start).Seconds())
	metrics.LocationsIngested.WithLabelValues(outcome(err)).Inc()
	return device, err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}

func (p *Pipeline) updateLocation(ctx context.Context, userID, deviceID uint, req *model.LocationUpdateRequest) (*model.Device, error) {
	n, err := p.normalize(req)
	if err != nil {
		return nil, err
	}

	unlock := p.locks.lock(deviceID)
	defer unlock()

	device, err := p.store.DeviceByID(ctx, userID, deviceID)
	if err != nil {
		return nil, err
	}

	if device.LastSeen != nil {
		last := device.LastSeen.UTC()
		if n.ts.Before(last) {
			return nil, apperr.OutOfOrder("timestamp precedes device last_seen").
				WithDetail("last_seen", last.Format(time.RFC3339)).
				WithDetail("timestamp", n.ts.Format(time.RFC3339))
		}
		if n.ts.Equal(last) {
			// Idempotent replay: no writes, no events.
			return device, nil
		}
	}

	var prevPoint *geo.Point
	if lp, ok := device.LastPoint(); ok {
		prevPoint = &lp
	}

	diff, err := p.tracker.Evaluate(ctx, userID, deviceID, n.point, prevPoint)
	if err != nil {
		return nil, err
	}

	if err := p.persist(ctx, deviceID, n); err != nil {
		return nil, err
	}

	p.tracker.Commit(ctx, deviceID, diff, n.point, n.ts)
	p.mirrorLocation(ctx, deviceID, n)
	p.publish(ctx, userID, deviceID, n, diff)

	device.Latitude = &n.point.Lat
	device.Longitude = &n.point.Lon
	device.LastSeen = &n.ts
	return device, nil
}

// persist runs the trajectory append and device upsert in one store
// transaction, retrying once on a transient store error.
func (p *Pipeline) persist(ctx context.Context, deviceID uint, n *normalized) error {
	err := p.persistOnce(ctx, deviceID, n)
	if err != nil && apperr.IsKind(err, apperr.KindStoreTransient) {
		jitter := time.Duration(50+rand.Intn(100)) * time.Millisecond
		log.Printf("[Ingest] Transient store error for device %d, retrying in %s: %v", deviceID, jitter, err)
		p.clock.Sleep(jitter)
		err = p.persistOnce(ctx, deviceID, n)
	}
	return err
}

func (p *Pipeline) persistOnce(ctx context.Context, deviceID uint, n *normalized) error {
	return p.store.Transaction(ctx, func(tx Store) error {
		if err := p.segment(ctx, tx, deviceID, n); err != nil {
			return err
		}
		return tx.UpsertDeviceLocation(ctx, deviceID, n.point, n.ts)
	})
}

// segment appends the point to the open trajectory or opens a new one, and
// maintains the aggregates. A trajectory is open for extension while its
// end_time is within the gap threshold of the incoming timestamp.
func (p *Pipeline) segment(ctx context.Context, tx Store, deviceID uint, n *normalized) error {
	trajectory, err := tx.OpenTrajectory(ctx, deviceID, n.ts.Add(-p.gap))
	if err != nil {
		return err
	}
	if trajectory == nil {
		trajectory = &model.Trajectory{
			DeviceID:  deviceID,
			StartTime: n.ts,
			EndTime:   n.ts,
		}
		if err := tx.CreateTrajectory(ctx, trajectory); err != nil {
			return err
		}
	}

	var prev *model.TrajectoryPoint
	if trajectory.PointCount > 0 {
		if prev, err = tx.LastTrajectoryPoint(ctx, trajectory.ID); err != nil {
			return err
		}
	}

	point := &model.TrajectoryPoint{
		TrajectoryID: trajectory.ID,
		DeviceID:     deviceID,
		Latitude:     n.point.Lat,
		Longitude:    n.point.Lon,
		Timestamp:    n.ts,
		Speed:        n.speed,
		Heading:      n.heading,
		AccuracyM:    n.accuracy,
		AltitudeM:    n.altitude,
	}
	if err := tx.AppendTrajectoryPoint(ctx, point); err != nil {
		return err
	}

	trajectory.PointCount++
	trajectory.EndTime = n.ts
	if prev != nil {
		trajectory.TotalDistanceM += geo.Haversine(prev.Point(), n.point)
		if duration := trajectory.EndTime.Sub(trajectory.StartTime).Seconds(); duration > 0 {
			trajectory.AvgSpeedMS = trajectory.TotalDistanceM / duration
		}
	}
	if n.speed != nil && *n.speed > trajectory.MaxSpeedMS {
		trajectory.MaxSpeedMS = *n.speed
	}
	return tx.SaveTrajectory(ctx, trajectory)
}

func (p *Pipeline) mirrorLocation(ctx context.Context, deviceID uint, n *normalized) {
	if p.hot == nil {
		return
	}
	loc := model.DeviceLocation{
		DeviceID:  deviceID,
		Latitude:  n.point.Lat,
		Longitude: n.point.Lon,
		Speed:     n.speed,
		Heading:   n.heading,
		Timestamp: n.ts,
	}
	if err := p.hot.SetJSON(ctx, cache.DeviceLocationKey(deviceID), loc, cache.TTLDeviceLocation); err != nil {
		log.Printf("[Ingest] Location mirror write failed for device %d: %v", deviceID, err)
	}
}

// publish emits one event per membership transition.
func (p *Pipeline) publish(ctx context.Context, userID, deviceID uint, n *normalized, diff *tracker.Diff) {
	emit := func(eventType string, geofenceID uint) {
		event := &model.GeofenceEvent{
			EventID:    "evt_" + uuid.NewString(),
			EventType:  eventType,
			DeviceID:   deviceID,
			GeofenceID: geofenceID,
			UserID:     userID,
			Point:      model.Coordinates{Latitude: n.point.Lat, Longitude: n.point.Lon},
			Timestamp:  n.ts,
			Metadata:   n.metadata,
		}
		p.bus.Publish(ctx, event)
		metrics.Transitions.WithLabelValues(eventType).Inc()
	}
	for _, id := range diff.Entered {
		emit(model.EventEnter, id)
	}
	for _, id := range diff.Exited {
		emit(model.EventExit, id)
	}
}
