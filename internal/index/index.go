package index

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/geo"
	"geoinsight/api/internal/model"
)

// Loader is the store surface the index rebuilds from and falls back to.
type Loader interface {
	ActiveGeofences(ctx context.Context, userID uint) ([]model.Geofence, error)
	GeofencesContaining(ctx context.Context, userID uint, p geo.Point) ([]model.Geofence, error)
}

// entry holds one indexed geofence: the exact ring plus its bounding box
// for the broadphase.
type entry struct {
	id   uint
	name string
	box  geo.BBox
	ring geo.Polygon
}

// userIndex is the per-user shard. Read-heavy, write-rare.
type userIndex struct {
	mu      sync.RWMutex
	loaded  bool
	entries map[uint]entry
}

// Index answers "which of this user's active geofences contain point P"
// from memory. It is a cache of the store: rebuilt lazily per user, kept
// coherent by geofence mutations and the cross-process invalidation
// channel. On rebuild failure it falls back to the store's spatial
// predicate, which returns identical results.
type Index struct {
	loader Loader

	mu    sync.RWMutex
	users map[uint]*userIndex
}

// New builds an empty index over the loader.
func New(loader Loader) *Index {
	return &Index{loader: loader, users: make(map[uint]*userIndex)}
}

func (ix *Index) user(userID uint) *userIndex {
	ix.mu.RLock()
	u := ix.users[userID]
	ix.mu.RUnlock()
	if u != nil {
		return u
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if u = ix.users[userID]; u == nil {
		u = &userIndex{entries: make(map[uint]entry)}
		ix.users[userID] = u
	}
	return u
}

// Rebuild reloads one user's shard from the store.
func (ix *Index) Rebuild(ctx context.Context, userID uint) error {
	geofences, err := ix.loader.ActiveGeofences(ctx, userID)
	if err != nil {
		return err
	}

	entries := make(map[uint]entry, len(geofences))
	for i := range geofences {
		e, ok := toEntry(&geofences[i])
		if !ok {
			continue
		}
		entries[e.id] = e
	}

	u := ix.user(userID)
	u.mu.Lock()
	u.entries = entries
	u.loaded = true
	u.mu.Unlock()
	return nil
}

func toEntry(g *model.Geofence) (entry, bool) {
	ring, err := g.Polygon()
	if err != nil {
		log.Printf("[Index] Skipping geofence %d with malformed geometry: %v", g.ID, err)
		return entry{}, false
	}
	return entry{id: g.ID, name: g.Name, box: ring.BBox(), ring: ring}, true
}

// Containing returns the user's active geofences containing the point:
// bounding-box broadphase, then exact containment. Results are sorted by
// id for deterministic diffs.
func (ix *Index) Containing(ctx context.Context, userID uint, p geo.Point) ([]model.GeofenceRef, error) {
	u := ix.user(userID)

	u.mu.RLock()
	loaded := u.loaded
	u.mu.RUnlock()
	if !loaded {
		if err := ix.Rebuild(ctx, userID); err != nil {
			return ix.fallback(ctx, userID, p, err)
		}
	}

	u.mu.RLock()
	defer u.mu.RUnlock()

	var refs []model.GeofenceRef
	for _, e := range u.entries {
		if !e.box.Contains(p) {
			continue
		}
		if e.ring.Contains(p) {
			refs = append(refs, model.GeofenceRef{ID: e.id, Name: e.name})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// fallback serves the containment query straight from the store's spatial
// predicate when the shard cannot be rebuilt.
func (ix *Index) fallback(ctx context.Context, userID uint, p geo.Point, cause error) ([]model.GeofenceRef, error) {
	log.Printf("[Index] Rebuild for user %d failed, falling back to store: %v", userID, cause)
	geofences, err := ix.loader.GeofencesContaining(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	refs := make([]model.GeofenceRef, 0, len(geofences))
	for _, g := range geofences {
		refs = append(refs, model.GeofenceRef{ID: g.ID, Name: g.Name})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
	return refs, nil
}

// Upsert inserts or replaces one geofence in a loaded shard. Unloaded
// shards stay empty and pick the change up on the next rebuild.
func (ix *Index) Upsert(userID uint, g *model.Geofence) {
	u := ix.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.loaded {
		return
	}
	if !g.Active {
		delete(u.entries, g.ID)
		return
	}
	if e, ok := toEntry(g); ok {
		u.entries[e.id] = e
	}
}

// Remove drops one geofence from a loaded shard.
func (ix *Index) Remove(userID, geofenceID uint) {
	u := ix.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.entries, geofenceID)
}

// Invalidate drops a user's shard entirely; the next query rebuilds it.
func (ix *Index) Invalidate(userID uint) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.users, userID)
}

// InvalidationMessage is the payload published on the geofence_index
// channel for every geofence mutation.
type InvalidationMessage struct {
	UserID     uint   `json:"user_id"`
	GeofenceID uint   `json:"geofence_id"`
	Action     string `json:"action"`
}

// Listen consumes geofence invalidation notices from the shared pub/sub
// channel so every process converges on the store after a mutation. Runs
// until ctx is canceled.
func (ix *Index) Listen(ctx context.Context, c *cache.Cache) {
	sub := c.Subscribe(ctx, cache.ChannelGeofenceIndex)
	log.Println("[Index] Listening for geofence invalidations")
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				ix.HandleInvalidation([]byte(msg.Payload))
			}
		}
	}()
}

// HandleInvalidation applies one cross-process invalidation notice.
func (ix *Index) HandleInvalidation(payload []byte) {
	var msg InvalidationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("[Index] Dropping malformed invalidation message: %v", err)
		return
	}
	ix.Invalidate(msg.UserID)
}
