package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/nats-io/nats.go"

	"geoinsight/api/internal/cache"
	"geoinsight/api/internal/model"
)

// NATS subjects for transition fanout, alongside the redis channels.
const (
	SubjectGeofenceEvents = "telemetry.events.geofence"
	subjectDeviceEvents   = "telemetry.events.device.%d"
)

// Bus fans membership transitions out to redis pub/sub channels, NATS
// subjects and in-process subscribers. Delivery is best-effort everywhere:
// a slow or missing consumer never blocks ingestion.
type Bus struct {
	cache *cache.Cache
	nats  *nats.Conn

	mu     sync.RWMutex
	nextID int
	subs   map[int]chan model.GeofenceEvent
}

// New builds a bus. Either collaborator may be nil; the corresponding
// fanout is skipped.
func New(c *cache.Cache, nc *nats.Conn) *Bus {
	return &Bus{cache: c, nats: nc, subs: make(map[int]chan model.GeofenceEvent)}
}

// Publish fans one transition event out on every channel. Errors are
// logged, never returned: the ingest reply does not depend on fanout.
func (b *Bus) Publish(ctx context.Context, event *model.GeofenceEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[EventBus] Failed to marshal event %s: %v", event.EventID, err)
		return
	}

	if b.cache != nil {
		rdb := b.cache.Client()
		channels := []string{
			cache.ChannelGeofenceEvents,
			cache.DeviceEventsChannel(event.DeviceID),
			cache.GeofenceEventsChannel(event.GeofenceID),
		}
		for _, ch := range channels {
			if err := rdb.Publish(ctx, ch, data).Err(); err != nil {
				log.Printf("[EventBus] Redis publish to %s failed: %v", ch, err)
				break
			}
		}

		// Per-user occurrence log for the recent-events view.
		key := cache.RecentEventsKey(event.UserID)
		if err := b.cache.ListPushHead(ctx, key, data); err == nil {
			b.cache.ListTrimTo(ctx, key, 100)
			b.cache.Expire(ctx, key, cache.TTLRecentEvents)
		}
	}

	if b.nats != nil {
		if err := b.nats.Publish(SubjectGeofenceEvents, data); err != nil {
			log.Printf("[EventBus] NATS publish failed: %v", err)
		}
		b.nats.Publish(fmt.Sprintf(subjectDeviceEvents, event.DeviceID), data)
	}

	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- *event:
		default:
			// Subscriber buffer full; drop rather than block the pipeline.
		}
	}
	b.mu.RUnlock()
}

// Subscribe registers an in-process subscriber with the given buffer. The
// returned cancel function closes the channel and must be called exactly
// once.
func (b *Bus) Subscribe(buffer int) (<-chan model.GeofenceEvent, func()) {
	ch := make(chan model.GeofenceEvent, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
