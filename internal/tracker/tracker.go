package tracker

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
)

// Containment answers which active geofences contain a point. Satisfied by
// the geofence index.
type Containment interface {
	Containing(ctx context.Context, userID uint, p geo.Point) ([]model.GeofenceRef, error)
}

// Mirror is the cache surface used for the warm-restart state mirror.
// Satisfied by *cache.Cache; mirror failures are non-fatal.
type Mirror interface {
	GetJSON(ctx context.Context, key string, v interface{}) error
	SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// mirrorState is the persisted form of a device's membership set.
type mirrorState struct {
	Members   []uint     `json:"members"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Diff is one evaluated transition: the device's new membership set and
// the enter/exit deltas against its previous set.
type Diff struct {
	Members []uint
	Entered []uint
	Exited  []uint
}

// Tracker maintains each device's current membership set: the geofence ids
// containing its last point. State lives in memory with a cache mirror for
// warm restart; the per-device critical section in the ingestion pipeline
// guarantees Evaluate/Commit pairs never interleave for one device.
type Tracker struct {
	index  Containment
	mirror Mirror

	mu     sync.Mutex
	states map[uint]map[uint]struct{}
}

// New builds a tracker. mirror may be nil, which disables warm restart.
func New(index Containment, mirror Mirror) *Tracker {
	return &Tracker{index: index, mirror: mirror, states: make(map[uint]map[uint]struct{})}
}

// Evaluate computes the device's new membership set at point p and diffs
// it against the current set. It does not mutate state: callers commit
// after the accompanying store transaction succeeds. prev is the device's
// last known point, used to reconstruct state after a cold start with no
// mirror.
func (t *Tracker) Evaluate(ctx context.Context, userID, deviceID uint, p geo.Point, prev *geo.Point) (*Diff, error) {
	refs, err := t.index.Containing(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	next := make(map[uint]struct{}, len(refs))
	members := make([]uint, 0, len(refs))
	for _, ref := range refs {
		next[ref.ID] = struct{}{}
		members = append(members, ref.ID)
	}

	current := t.current(ctx, userID, deviceID, prev)

	diff := &Diff{Members: members}
	for id := range next {
		if _, ok := current[id]; !ok {
			diff.Entered = append(diff.Entered, id)
		}
	}
	for id := range current {
		if _, ok := next[id]; !ok {
			diff.Exited = append(diff.Exited, id)
		}
	}
	sort.Slice(diff.Entered, func(i, j int) bool { return diff.Entered[i] < diff.Entered[j] })
	sort.Slice(diff.Exited, func(i, j int) bool { return diff.Exited[i] < diff.Exited[j] })
	return diff, nil
}

// current resolves the device's present membership set: memory, then the
// cache mirror, then recomputation from the last persisted point.
func (t *Tracker) current(ctx context.Context, userID, deviceID uint, prev *geo.Point) map[uint]struct{} {
	t.mu.Lock()
	state, ok := t.states[deviceID]
	t.mu.Unlock()
	if ok {
		return state
	}

	if t.mirror != nil {
		var m mirrorState
		err := t.mirror.GetJSON(ctx, cache.DeviceStateKey(deviceID), &m)
		if err == nil {
			state = make(map[uint]struct{}, len(m.Members))
			for _, id := range m.Members {
				state[id] = struct{}{}
			}
			t.remember(deviceID, state)
			return state
		}
		if !errors.Is(err, cache.ErrMiss) {
			log.Printf("[Tracker] State mirror read failed for device %d: %v", deviceID, err)
		}
	}

	// No mirror: reconstruct from the last persisted point so a restart
	// does not fire spurious enter events.
	state = make(map[uint]struct{})
	if prev != nil {
		refs, err := t.index.Containing(ctx, userID, *prev)
		if err != nil {
			log.Printf("[Tracker] State reconstruction failed for device %d: %v", deviceID, err)
		} else {
			for _, ref := range refs {
				state[ref.ID] = struct{}{}
			}
		}
	}
	t.remember(deviceID, state)
	return state
}

func (t *Tracker) remember(deviceID uint, state map[uint]struct{}) {
	t.mu.Lock()
	t.states[deviceID] = state
	t.mu.Unlock()
}

// Commit installs an evaluated membership set and refreshes the cache
// mirror.
func (t *Tracker) Commit(ctx context.Context, deviceID uint, diff *Diff, p geo.Point, ts time.Time) {
	state := make(map[uint]struct{}, len(diff.Members))
	for _, id := range diff.Members {
		state[id] = struct{}{}
	}
	t.remember(deviceID, state)

	if t.mirror == nil {
		return
	}
	m := mirrorState{Members: diff.Members, Latitude: p.Lat, Longitude: p.Lon, LastSeen: &ts}
	if err := t.mirror.SetJSON(ctx, cache.DeviceStateKey(deviceID), m, cache.TTLDeviceState); err != nil {
		log.Printf("[Tracker] State mirror write failed for device %d: %v", deviceID, err)
	}
}

// Forget drops all state for a deleted device.
func (t *Tracker) Forget(ctx context.Context, deviceID uint) {
	t.mu.Lock()
	delete(t.states, deviceID)
	t.mu.Unlock()
	if t.mirror != nil {
		if err := t.mirror.Delete(ctx, cache.DeviceStateKey(deviceID)); err != nil {
			log.Printf("[Tracker] State mirror delete failed for device %d: %v", deviceID, err)
		}
	}
}
